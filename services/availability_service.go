package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gent/models"
)

// Directory looks people up and reads their calendars.
type Directory interface {
	FindUsers(ctx context.Context, name string) ([]models.DirectoryUser, error)
	CalendarView(ctx context.Context, userPrincipalName string, start, end time.Time) ([]models.CalendarEvent, error)
}

// ParticipantError lists participant names that did not resolve to exactly one user.
type ParticipantError struct {
	Unresolved []string
	Ambiguous  []string
}

func (e *ParticipantError) Error() string {
	var parts []string
	if len(e.Unresolved) > 0 {
		parts = append(parts, "ไม่พบผู้ใช้: "+strings.Join(e.Unresolved, ", "))
	}
	if len(e.Ambiguous) > 0 {
		parts = append(parts, "พบผู้ใช้มากกว่า 1 คน: "+strings.Join(e.Ambiguous, ", ")+" กรุณาระบุให้ชัดเจนขึ้นครับ")
	}
	return strings.Join(parts, " / ")
}

var errNoParticipants = errors.New("ไม่พบรายชื่อผู้เข้าร่วมที่ถูกต้อง")

type AvailabilityOptions struct {
	Location  *time.Location
	StartHour int
	EndHour   int
	MaxSlots  int
}

// AvailabilityFinder computes common free slots during working hours.
type AvailabilityFinder struct {
	dir       Directory
	loc       *time.Location
	startHour int
	endHour   int
	maxSlots  int
	log       zerolog.Logger
}

func NewAvailabilityFinder(dir Directory, opts AvailabilityOptions, log zerolog.Logger) *AvailabilityFinder {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.StartHour == 0 && opts.EndHour == 0 {
		opts.StartHour, opts.EndHour = 9, 18
	}
	if opts.MaxSlots <= 0 {
		opts.MaxSlots = 5
	}
	return &AvailabilityFinder{
		dir:       dir,
		loc:       opts.Location,
		startHour: opts.StartHour,
		endHour:   opts.EndHour,
		maxSlots:  opts.MaxSlots,
		log:       log.With().Str("component", "availability").Logger(),
	}
}

// FindAvailableSlots returns up to MaxSlots slots of exactly duration during
// working hours on the days from..to (inclusive) where nobody is busy.
func (f *AvailabilityFinder) FindAvailableSlots(ctx context.Context, participants []string, duration time.Duration, from, to time.Time) ([]models.Slot, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("durationInMinutes must be positive")
	}
	first := StartOfDay(from, f.loc)
	last := StartOfDay(to, f.loc)
	if last.Before(first) {
		return nil, fmt.Errorf("endSearch %s is before startSearch %s", last.Format(dateLayout), first.Format(dateLayout))
	}

	users, err := f.resolve(ctx, participants)
	if err != nil {
		return nil, err
	}

	windowEnd := last.AddDate(0, 0, 1)
	busy, err := f.busySlots(ctx, users, first, windowEnd)
	if err != nil {
		return nil, err
	}
	merged := MergeBusySlots(busy)

	slots := make([]models.Slot, 0, f.maxSlots)
	for day := first; !day.After(last) && len(slots) < f.maxSlots; day = day.AddDate(0, 0, 1) {
		slots = f.scanDay(day, merged, duration, slots)
	}
	f.log.Debug().Strs("participants", participants).Int("busy", len(busy)).Int("merged", len(merged)).Int("slots", len(slots)).Msg("availability computed")
	return slots, nil
}

// resolve maps every participant to exactly one directory user. Any ambiguous
// or unknown name fails the whole lookup.
func (f *AvailabilityFinder) resolve(ctx context.Context, participants []string) ([]models.DirectoryUser, error) {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	if len(names) == 0 {
		return nil, errNoParticipants
	}

	matches := make([][]models.DirectoryUser, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			users, err := lookupUser(gctx, f.dir, name)
			if err != nil {
				return fmt.Errorf("lookup %q: %w", name, err)
			}
			matches[i] = users
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var perr ParticipantError
	users := make([]models.DirectoryUser, 0, len(names))
	for i, m := range matches {
		switch len(m) {
		case 1:
			users = append(users, m[0])
		case 0:
			perr.Unresolved = append(perr.Unresolved, names[i])
		default:
			perr.Ambiguous = append(perr.Ambiguous, names[i])
		}
	}
	if len(perr.Unresolved) > 0 || len(perr.Ambiguous) > 0 {
		return nil, &perr
	}
	return users, nil
}

func (f *AvailabilityFinder) busySlots(ctx context.Context, users []models.DirectoryUser, start, end time.Time) ([]models.Slot, error) {
	perUser := make([][]models.CalendarEvent, len(users))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range users {
		g.Go(func() error {
			events, err := f.dir.CalendarView(gctx, u.UserPrincipalName, start, end)
			if err != nil {
				return fmt.Errorf("calendar of %s: %w", u.UserPrincipalName, err)
			}
			perUser[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var busy []models.Slot
	for _, events := range perUser {
		for _, ev := range events {
			s, err := ParseGraphTime(ev.Start.DateTime, ev.Start.TimeZone, f.loc)
			if err != nil {
				f.log.Warn().Err(err).Str("subject", ev.Subject).Msg("skipping event with unreadable start")
				continue
			}
			e, err := ParseGraphTime(ev.End.DateTime, ev.End.TimeZone, f.loc)
			if err != nil {
				f.log.Warn().Err(err).Str("subject", ev.Subject).Msg("skipping event with unreadable end")
				continue
			}
			busy = append(busy, models.Slot{Start: s, End: e})
		}
	}
	return busy, nil
}

// scanDay appends the free slots found on day to slots.
func (f *AvailabilityFinder) scanDay(day time.Time, merged []models.Slot, duration time.Duration, slots []models.Slot) []models.Slot {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), f.startHour, 0, 0, 0, f.loc)
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), f.endHour, 0, 0, 0, f.loc)

	pointer := dayStart
	for _, b := range merged {
		if !b.End.After(dayStart) || !b.Start.Before(dayEnd) {
			continue
		}
		if b.Start.Sub(pointer) >= duration {
			slots = append(slots, models.Slot{Start: pointer, End: pointer.Add(duration)})
			if len(slots) >= f.maxSlots {
				return slots
			}
		}
		if b.End.After(pointer) {
			pointer = b.End
		}
	}
	if dayEnd.Sub(pointer) >= duration {
		slots = append(slots, models.Slot{Start: pointer, End: pointer.Add(duration)})
	}
	return slots
}

// MergeBusySlots sorts slots by start and merges overlapping or touching
// intervals. Empty or inverted slots are dropped.
func MergeBusySlots(slots []models.Slot) []models.Slot {
	sorted := make([]models.Slot, 0, len(slots))
	for _, s := range slots {
		if s.End.After(s.Start) {
			sorted = append(sorted, s)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var merged []models.Slot
	for _, s := range sorted {
		n := len(merged)
		if n > 0 && !s.Start.After(merged[n-1].End) {
			if s.End.After(merged[n-1].End) {
				merged[n-1].End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// lookupUser resolves a short name through the directory. An address is taken
// as already canonical.
func lookupUser(ctx context.Context, dir Directory, name string) ([]models.DirectoryUser, error) {
	if strings.Contains(name, "@") {
		return []models.DirectoryUser{{DisplayName: name, UserPrincipalName: name}}, nil
	}
	return dir.FindUsers(ctx, name)
}
