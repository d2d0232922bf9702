package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gent/models"
)

var errNotConfigured = errors.New("service is not configured")

// CalendarTools backs get_user_calendar and create_calendar_event.
type CalendarTools interface {
	GetUserCalendar(ctx context.Context, args GetCalendarArgs) (map[string]any, error)
	CreateEvent(ctx context.Context, args CreateEventArgs) (map[string]any, error)
}

// SlotFinder backs find_available_time.
type SlotFinder interface {
	FindAvailableSlots(ctx context.Context, participants []string, duration time.Duration, from, to time.Time) ([]models.Slot, error)
}

// WorkRecords backs search_work_records.
type WorkRecords interface {
	Search(ctx context.Context, category string, filters map[string]any) (any, error)
}

// DocumentFetcher backs get_document.
type DocumentFetcher interface {
	Fetch(ctx context.Context, path string) (*models.Document, error)
}

// ToolBackends are the collaborators the dispatcher calls into. A nil backend
// makes its tools report that they are not configured.
type ToolBackends struct {
	Calendar  CalendarTools
	Slots     SlotFinder
	Records   WorkRecords
	Documents DocumentFetcher
	Location  *time.Location
}

type findTimeArgs struct {
	Attendees         []string `json:"attendees"`
	DurationInMinutes float64  `json:"durationInMinutes"`
	StartSearch       string   `json:"startSearch"`
	EndSearch         string   `json:"endSearch"`
}

type searchRecordsArgs struct {
	Category string         `json:"category"`
	Filters  map[string]any `json:"filters"`
}

type getDocumentArgs struct {
	Path string `json:"path"`
}

// ToolDispatcher maps tool calls onto backends. Every failure becomes an
// {"error": ...} result.
type ToolDispatcher struct {
	backends ToolBackends
	log      zerolog.Logger
}

func NewToolDispatcher(backends ToolBackends, log zerolog.Logger) *ToolDispatcher {
	if backends.Location == nil {
		backends.Location = time.Local
	}
	return &ToolDispatcher{
		backends: backends,
		log:      log.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *ToolDispatcher) Dispatch(ctx context.Context, call models.ToolCall) (out ToolOutcome) {
	started := time.Now()
	name, ok := ParseToolName(call.Name)
	if !ok {
		toolCallsTotal.WithLabelValues("unknown", "unknown").Inc()
		d.log.Warn().Str("tool", call.Name).Msg("model requested unknown tool")
		return ToolOutcome{Result: errorResult("unknown tool")}
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("tool", call.Name).Interface("panic", r).Msg("tool panicked")
			out = ToolOutcome{Result: errorResult(fmt.Sprintf("tool %s failed unexpectedly", call.Name))}
		}
		outcome := "ok"
		if _, failed := out.Result["error"]; failed {
			outcome = "error"
		}
		toolCallsTotal.WithLabelValues(string(name), outcome).Inc()
		d.log.Info().Str("tool", string(name)).Str("outcome", outcome).Dur("duration", time.Since(started)).Msg("tool dispatched")
	}()

	result, attachment, err := d.dispatch(ctx, name, call.Arguments)
	if err != nil {
		d.log.Warn().Err(err).Str("tool", string(name)).Msg("tool failed")
		return ToolOutcome{Result: errorResult(err.Error())}
	}
	return ToolOutcome{Result: result, Attachment: attachment}
}

func (d *ToolDispatcher) dispatch(ctx context.Context, name ToolName, raw map[string]any) (map[string]any, *models.Binary, error) {
	switch name {
	case ToolGetUserCalendar:
		var args GetCalendarArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		if d.backends.Calendar == nil {
			return nil, nil, fmt.Errorf("calendar %w", errNotConfigured)
		}
		res, err := d.backends.Calendar.GetUserCalendar(ctx, args)
		return res, nil, err

	case ToolFindAvailableTime:
		var args findTimeArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		if d.backends.Slots == nil {
			return nil, nil, fmt.Errorf("calendar %w", errNotConfigured)
		}
		res, err := d.findTime(ctx, args)
		return res, nil, err

	case ToolCreateCalendarEvent:
		var args CreateEventArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		if d.backends.Calendar == nil {
			return nil, nil, fmt.Errorf("calendar %w", errNotConfigured)
		}
		res, err := d.backends.Calendar.CreateEvent(ctx, args)
		return res, nil, err

	case ToolSearchWorkRecords:
		var args searchRecordsArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		if d.backends.Records == nil {
			return nil, nil, fmt.Errorf("work records %w", errNotConfigured)
		}
		data, err := d.backends.Records.Search(ctx, args.Category, args.Filters)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{"category": args.Category, "data": data}, nil, nil

	case ToolGetDocument:
		var args getDocumentArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, nil, err
		}
		if d.backends.Documents == nil {
			return nil, nil, fmt.Errorf("document store %w", errNotConfigured)
		}
		doc, err := d.backends.Documents.Fetch(ctx, args.Path)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{
				"name":     doc.Name,
				"mimeType": doc.MimeType,
				"size":     len(doc.Data),
			}, &models.Binary{
				MimeType: doc.MimeType,
				Data:     doc.Data,
			}, nil

	default:
		return errorResult("unknown tool"), nil, nil
	}
}

func (d *ToolDispatcher) findTime(ctx context.Context, args findTimeArgs) (map[string]any, error) {
	loc := d.backends.Location
	from, err := ParseDate(args.StartSearch, loc)
	if err != nil {
		return nil, fmt.Errorf("startSearch: %w", err)
	}
	to := from
	if args.EndSearch != "" {
		if to, err = ParseDate(args.EndSearch, loc); err != nil {
			return nil, fmt.Errorf("endSearch: %w", err)
		}
	}
	duration := time.Duration(args.DurationInMinutes * float64(time.Minute))

	slots, err := d.backends.Slots.FindAvailableSlots(ctx, args.Attendees, duration, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, len(slots))
	for i, s := range slots {
		out[i] = map[string]string{
			"start": s.Start.In(loc).Format(time.RFC3339),
			"end":   s.End.In(loc).Format(time.RFC3339),
		}
	}
	return map[string]any{"availableSlots": out}, nil
}

// decodeArgs converts loosely typed model arguments into a typed struct.
func decodeArgs(raw map[string]any, v any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
