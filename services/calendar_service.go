package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gent/models"
)

const eventTimeLayout = "2006-01-02T15:04:05"

// CalendarGraph is the calendar surface of Microsoft Graph.
type CalendarGraph interface {
	Directory
	CreateEvent(ctx context.Context, organizer string, ev models.NewEvent) (*models.CreatedEvent, error)
}

type GetCalendarArgs struct {
	UserPrincipalName string `json:"userPrincipalName"`
	StartDate         string `json:"startDate"`
	EndDate           string `json:"endDate"`
}

type CreateEventArgs struct {
	Subject           string         `json:"subject"`
	StartDateTime     string         `json:"startDateTime"`
	EndDateTime       string         `json:"endDateTime"`
	Attendees         []string       `json:"attendees"`
	OptionalAttendees []string       `json:"optionalAttendees"`
	Recurrence        map[string]any `json:"recurrence"`
	CreateMeeting     *bool          `json:"createMeeting"`
	BodyContent       string         `json:"bodyContent"`
	Location          string         `json:"location"`
}

// CalendarService implements the calendar tools on top of Graph.
type CalendarService struct {
	graph CalendarGraph
	loc   *time.Location
	now   func() time.Time
	log   zerolog.Logger
}

func NewCalendarService(graph CalendarGraph, loc *time.Location, log zerolog.Logger) *CalendarService {
	if loc == nil {
		loc = time.Local
	}
	return &CalendarService{
		graph: graph,
		loc:   loc,
		now:   time.Now,
		log:   log.With().Str("component", "calendar").Logger(),
	}
}

func errorResult(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// GetUserCalendar lists the events of one user for the requested days.
func (s *CalendarService) GetUserCalendar(ctx context.Context, args GetCalendarArgs) (map[string]any, error) {
	name := strings.TrimSpace(args.UserPrincipalName)
	if name == "" {
		return errorResult("userPrincipalName is required"), nil
	}

	users, err := lookupUser(ctx, s.graph, name)
	if err != nil {
		return nil, fmt.Errorf("find user %q: %w", name, err)
	}
	switch len(users) {
	case 0:
		return errorResult(fmt.Sprintf("ไม่พบผู้ใช้ที่ชื่อ '%s' ในระบบครับ", name)), nil
	case 1:
	default:
		names := make([]string, len(users))
		for i, u := range users {
			names[i] = u.DisplayName
		}
		return errorResult(fmt.Sprintf("พบผู้ใช้ที่ชื่อ '%s' มากกว่า 1 คน: %s กรุณาระบุให้ชัดเจนขึ้นครับ", name, strings.Join(names, ", "))), nil
	}
	upn := users[0].UserPrincipalName

	start, end, err := s.dayBounds(args.StartDate, args.EndDate)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	events, err := s.graph.CalendarView(ctx, upn, start, end)
	if err != nil {
		s.log.Error().Err(err).Str("user", upn).Msg("calendar view failed")
		return errorResult(fmt.Sprintf("ไม่สามารถดึงข้อมูลปฏิทินของ %s ได้ครับ", upn)), nil
	}

	kept := make([]models.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if s.endsAfter(ev, start) {
			kept = append(kept, ev)
		}
	}
	return map[string]any{
		"userPrincipalName": upn,
		"displayName":       users[0].DisplayName,
		"startDateTime":     start.Format(time.RFC3339),
		"endDateTime":       end.Format(time.RFC3339),
		"value":             kept,
	}, nil
}

// dayBounds turns optional YYYY-MM-DD strings into [start, end) covering whole days.
func (s *CalendarService) dayBounds(startDate, endDate string) (time.Time, time.Time, error) {
	start := StartOfDay(s.now(), s.loc)
	if startDate != "" {
		d, err := ParseDate(startDate, s.loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = d
	}
	last := start
	if endDate != "" {
		d, err := ParseDate(endDate, s.loc)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		last = d
	}
	if last.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("endDate %s is before startDate %s", endDate, startDate)
	}
	return start, last.AddDate(0, 0, 1), nil
}

// endsAfter reports whether ev is still running at start. All-day events are
// compared by date.
func (s *CalendarService) endsAfter(ev models.CalendarEvent, start time.Time) bool {
	if ev.IsAllDay {
		day := ev.End.DateTime
		if len(day) >= len(dateLayout) {
			day = day[:len(dateLayout)]
		}
		return day > start.Format(dateLayout)
	}
	end, err := ParseGraphTime(ev.End.DateTime, ev.End.TimeZone, s.loc)
	if err != nil {
		return true
	}
	return end.After(start)
}

func (s *CalendarService) parseEventTime(field, value string) (time.Time, error) {
	if t, err := time.ParseInLocation(eventTimeLayout, value, s.loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(s.loc), nil
	}
	return time.Time{}, fmt.Errorf("%s %q must be in YYYY-MM-DDTHH:mm:ss format", field, value)
}

// CreateEvent books an event for the resolved attendees unless a required
// attendee is already busy.
func (s *CalendarService) CreateEvent(ctx context.Context, args CreateEventArgs) (map[string]any, error) {
	start, err := s.parseEventTime("startDateTime", args.StartDateTime)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	end, err := s.parseEventTime("endDateTime", args.EndDateTime)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if !end.After(start) {
		return errorResult("endDateTime must be after startDateTime"), nil
	}

	required, err := s.resolveAll(ctx, args.Attendees)
	if err != nil {
		return nil, err
	}
	optional, err := s.resolveAll(ctx, args.OptionalAttendees)
	if err != nil {
		return nil, err
	}

	organizer := firstResolved(required)
	if organizer == nil {
		organizer = firstResolved(optional)
	}
	if organizer == nil {
		return errorResult("ไม่สามารถระบุผู้จัดงาน (organizer) ที่ถูกต้องได้ กรุณาระบุผู้เข้าร่วมอย่างน้อย 1 คน"), nil
	}

	var attendees []models.Attendee
	var requiredUsers []models.DirectoryUser
	for _, u := range required {
		if u != nil {
			requiredUsers = append(requiredUsers, *u)
			attendees = append(attendees, models.Attendee{
				EmailAddress: models.EmailAddress{Address: u.UserPrincipalName, Name: u.DisplayName},
				Type:         "required",
			})
		}
	}
	for _, u := range optional {
		if u != nil {
			attendees = append(attendees, models.Attendee{
				EmailAddress: models.EmailAddress{Address: u.UserPrincipalName, Name: u.DisplayName},
				Type:         "optional",
			})
		}
	}

	busy, err := s.conflicts(ctx, requiredUsers, start, end)
	if err != nil {
		return nil, err
	}
	if len(busy) > 0 {
		s.log.Info().Strs("attendees", busy).Str("subject", args.Subject).Msg("event not created, attendees busy")
		return map[string]any{
			"conflict":             true,
			"conflictingAttendees": busy,
		}, nil
	}

	ev := models.NewEvent{
		Subject:    args.Subject,
		Body:       models.ItemBody{ContentType: "HTML", Content: args.BodyContent},
		Start:      models.DateTimeZone{DateTime: start.Format(eventTimeLayout), TimeZone: s.loc.String()},
		End:        models.DateTimeZone{DateTime: end.Format(eventTimeLayout), TimeZone: s.loc.String()},
		Location:   models.Location{DisplayName: args.Location},
		Attendees:  attendees,
		Recurrence: args.Recurrence,
	}
	if args.CreateMeeting == nil || *args.CreateMeeting {
		ev.IsOnlineMeeting = true
		ev.OnlineMeetingProvider = "teamsForBusiness"
	}

	created, err := s.graph.CreateEvent(ctx, organizer.UserPrincipalName, ev)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("organizer", organizer.UserPrincipalName).Str("subject", created.Subject).Int("attendees", len(attendees)).Msg("event created")
	return map[string]any{
		"success":        true,
		"subject":        created.Subject,
		"startTime":      created.Start.DateTime,
		"organizer":      created.Organizer.EmailAddress.Name,
		"webLink":        created.WebLink,
		"meetingCreated": created.IsOnlineMeeting,
	}, nil
}

// resolveAll looks every name up in parallel. Names that do not resolve to
// exactly one user are left nil.
func (s *CalendarService) resolveAll(ctx context.Context, names []string) ([]*models.DirectoryUser, error) {
	out := make([]*models.DirectoryUser, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		g.Go(func() error {
			users, err := lookupUser(gctx, s.graph, name)
			if err != nil {
				return fmt.Errorf("find user %q: %w", name, err)
			}
			if len(users) == 1 {
				out[i] = &users[0]
			} else {
				s.log.Warn().Str("name", name).Int("matches", len(users)).Msg("attendee skipped")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func firstResolved(users []*models.DirectoryUser) *models.DirectoryUser {
	for _, u := range users {
		if u != nil {
			return u
		}
	}
	return nil
}

// conflicts returns the display names of users with a timed event overlapping [start, end).
func (s *CalendarService) conflicts(ctx context.Context, users []models.DirectoryUser, start, end time.Time) ([]string, error) {
	busy := make([]bool, len(users))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range users {
		g.Go(func() error {
			events, err := s.graph.CalendarView(gctx, u.UserPrincipalName, start, end)
			if err != nil {
				return fmt.Errorf("calendar of %s: %w", u.UserPrincipalName, err)
			}
			for _, ev := range events {
				if ev.IsAllDay {
					continue
				}
				es, err1 := ParseGraphTime(ev.Start.DateTime, ev.Start.TimeZone, s.loc)
				ee, err2 := ParseGraphTime(ev.End.DateTime, ev.End.TimeZone, s.loc)
				if err1 != nil || err2 != nil {
					continue
				}
				if es.Before(end) && start.Before(ee) {
					busy[i] = true
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var names []string
	for i, b := range busy {
		if b {
			names = append(names, users[i].DisplayName)
		}
	}
	return names, nil
}
