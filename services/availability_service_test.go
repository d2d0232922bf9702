package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gent/models"
)

type fakeDirectory struct {
	mu      sync.Mutex
	users   map[string][]models.DirectoryUser
	events  map[string][]models.CalendarEvent
	created []models.NewEvent
	views   []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:  map[string][]models.DirectoryUser{},
		events: map[string][]models.CalendarEvent{},
	}
}

func (d *fakeDirectory) addUser(name, upn string) {
	d.users[name] = append(d.users[name], models.DirectoryUser{DisplayName: name, UserPrincipalName: upn})
}

func (d *fakeDirectory) addEvent(upn, subject, start, end string) {
	d.events[upn] = append(d.events[upn], models.CalendarEvent{
		Subject: subject,
		Start:   models.DateTimeZone{DateTime: start + ".0000000", TimeZone: "Asia/Bangkok"},
		End:     models.DateTimeZone{DateTime: end + ".0000000", TimeZone: "Asia/Bangkok"},
	})
}

func (d *fakeDirectory) FindUsers(_ context.Context, name string) ([]models.DirectoryUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users[name], nil
}

func (d *fakeDirectory) CalendarView(_ context.Context, upn string, _, _ time.Time) ([]models.CalendarEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.views = append(d.views, upn)
	return d.events[upn], nil
}

func (d *fakeDirectory) CreateEvent(_ context.Context, organizer string, ev models.NewEvent) (*models.CreatedEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, ev)
	return &models.CreatedEvent{
		Subject:         ev.Subject,
		Start:           ev.Start,
		Organizer:       models.Attendee{EmailAddress: models.EmailAddress{Address: organizer, Name: organizer}},
		WebLink:         "https://outlook.office365.com/event/1",
		IsOnlineMeeting: ev.IsOnlineMeeting,
	}, nil
}

func bangkok(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)
	return loc
}

func newTestFinder(t *testing.T, dir Directory) *AvailabilityFinder {
	return NewAvailabilityFinder(dir, AvailabilityOptions{Location: bangkok(t), StartHour: 9, EndHour: 18, MaxSlots: 5}, zerolog.Nop())
}

func at(loc *time.Location, day, hour, min int) time.Time {
	return time.Date(2025, 3, day, hour, min, 0, 0, loc)
}

func TestFindAvailableSlots_OverlappingBusyAcrossParticipants(t *testing.T) {
	loc := bangkok(t)
	dir := newFakeDirectory()
	dir.addUser("A", "a@gent-s.com")
	dir.addUser("B", "b@gent-s.com")
	dir.addEvent("a@gent-s.com", "standup", "2025-03-10T10:00:00", "2025-03-10T11:00:00")
	dir.addEvent("b@gent-s.com", "review", "2025-03-10T10:30:00", "2025-03-10T11:30:00")

	day := at(loc, 10, 0, 0)
	slots, err := newTestFinder(t, dir).FindAvailableSlots(context.Background(), []string{"A", "B"}, 30*time.Minute, day, day)
	require.NoError(t, err)

	require.Len(t, slots, 2)
	assert.True(t, slots[0].Start.Equal(at(loc, 10, 9, 0)))
	assert.True(t, slots[0].End.Equal(at(loc, 10, 9, 30)))
	assert.True(t, slots[1].Start.Equal(at(loc, 10, 11, 30)))
	assert.True(t, slots[1].End.Equal(at(loc, 10, 12, 0)))
}

func TestFindAvailableSlots_CapsAtFive(t *testing.T) {
	loc := bangkok(t)
	dir := newFakeDirectory()
	dir.addUser("A", "a@gent-s.com")

	slots, err := newTestFinder(t, dir).FindAvailableSlots(context.Background(), []string{"A"}, time.Hour, at(loc, 10, 0, 0), at(loc, 20, 0, 0))
	require.NoError(t, err)
	require.Len(t, slots, 5)
	for i, s := range slots {
		assert.True(t, s.Start.Equal(at(loc, 10+i, 9, 0)), "slot %d starts %s", i, s.Start)
	}
}

func TestFindAvailableSlots_FullyBookedDay(t *testing.T) {
	loc := bangkok(t)
	dir := newFakeDirectory()
	dir.addUser("A", "a@gent-s.com")
	dir.addEvent("a@gent-s.com", "offsite", "2025-03-10T08:00:00", "2025-03-10T17:45:00")

	day := at(loc, 10, 0, 0)
	slots, err := newTestFinder(t, dir).FindAvailableSlots(context.Background(), []string{"A"}, 30*time.Minute, day, day)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestFindAvailableSlots_ResolutionErrors(t *testing.T) {
	loc := bangkok(t)
	dir := newFakeDirectory()
	dir.addUser("A", "a@gent-s.com")
	dir.addUser("Somchai", "somchai.k@gent-s.com")
	dir.addUser("Somchai", "somchai.p@gent-s.com")

	_, err := newTestFinder(t, dir).FindAvailableSlots(context.Background(), []string{"A", "ghost", "Somchai"}, 30*time.Minute, at(loc, 10, 0, 0), at(loc, 10, 0, 0))
	var perr *ParticipantError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, []string{"ghost"}, perr.Unresolved)
	assert.Equal(t, []string{"Somchai"}, perr.Ambiguous)
	assert.Contains(t, err.Error(), "ไม่พบผู้ใช้: ghost")
	assert.Empty(t, dir.views, "no calendar is read when resolution fails")
}

func TestFindAvailableSlots_InvalidInput(t *testing.T) {
	loc := bangkok(t)
	f := newTestFinder(t, newFakeDirectory())
	day := at(loc, 10, 0, 0)

	_, err := f.FindAvailableSlots(context.Background(), []string{"A"}, 0, day, day)
	assert.ErrorContains(t, err, "durationInMinutes")

	_, err = f.FindAvailableSlots(context.Background(), []string{"A"}, time.Hour, day, day.AddDate(0, 0, -1))
	assert.ErrorContains(t, err, "before")

	_, err = f.FindAvailableSlots(context.Background(), []string{" "}, time.Hour, day, day)
	assert.ErrorIs(t, err, errNoParticipants)
}

func TestMergeBusySlots(t *testing.T) {
	loc := time.UTC
	slot := func(s, e int) models.Slot {
		return models.Slot{Start: at(loc, 10, s, 0), End: at(loc, 10, e, 0)}
	}

	merged := MergeBusySlots([]models.Slot{slot(13, 14), slot(10, 11), slot(11, 12), slot(10, 10), slot(15, 17), slot(16, 16)})
	assert.Equal(t, []models.Slot{slot(10, 12), slot(13, 14), slot(15, 17)}, merged)
	assert.Nil(t, MergeBusySlots(nil))
}

func randomSlots(r *rand.Rand, base time.Time, n int) []models.Slot {
	slots := make([]models.Slot, n)
	for i := range slots {
		start := base.Add(time.Duration(r.Intn(24*60)) * time.Minute)
		slots[i] = models.Slot{Start: start, End: start.Add(time.Duration(1+r.Intn(180)) * time.Minute)}
	}
	return slots
}

func coveredMinutes(slots []models.Slot, base time.Time) int {
	covered := map[int]bool{}
	for _, s := range slots {
		for m := int(s.Start.Sub(base).Minutes()); m < int(s.End.Sub(base).Minutes()); m++ {
			covered[m] = true
		}
	}
	return len(covered)
}

func TestMergeBusySlots_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 200; i++ {
		in := randomSlots(r, base, r.Intn(20))
		out := MergeBusySlots(in)

		for j := 1; j < len(out); j++ {
			assert.True(t, out[j-1].End.Before(out[j].Start), "merged slots must be disjoint and sorted")
		}
		assert.Equal(t, coveredMinutes(in, base), coveredMinutes(out, base))
	}
}

func TestFindAvailableSlots_RespectsDurationAndHours(t *testing.T) {
	loc := bangkok(t)
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		dir := newFakeDirectory()
		dir.addUser("A", "a@gent-s.com")
		dir.addUser("B", "b@gent-s.com")
		base := at(loc, 10, 0, 0)
		var all []models.Slot
		for _, upn := range []string{"a@gent-s.com", "b@gent-s.com"} {
			for _, s := range randomSlots(r, base, 6) {
				dir.addEvent(upn, "busy", s.Start.Format("2006-01-02T15:04:05"), s.End.Format("2006-01-02T15:04:05"))
				all = append(all, s)
			}
		}
		duration := time.Duration(15+r.Intn(90)) * time.Minute

		slots, err := newTestFinder(t, dir).FindAvailableSlots(context.Background(), []string{"A", "B"}, duration, base, base.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(slots), 5)

		for _, s := range slots {
			assert.Equal(t, duration, s.Duration())
			local := s.Start.In(loc)
			dayStart := time.Date(local.Year(), local.Month(), local.Day(), 9, 0, 0, 0, loc)
			dayEnd := time.Date(local.Year(), local.Month(), local.Day(), 18, 0, 0, 0, loc)
			assert.False(t, s.Start.Before(dayStart))
			assert.False(t, s.End.After(dayEnd))
			for _, b := range all {
				overlaps := s.Start.Before(b.End) && b.Start.Before(s.End)
				assert.False(t, overlaps, "slot %s-%s overlaps busy %s-%s", s.Start, s.End, b.Start, b.End)
			}
		}
	}
}
