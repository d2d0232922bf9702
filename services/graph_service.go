package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"

	"gent/models"
)

const (
	graphScope          = "https://graph.microsoft.com/.default"
	calendarViewSelect  = "subject,body,bodyPreview,organizer,attendees,start,end,location,onlineMeeting,isAllDay,webLink"
	calendarViewMaxPage = 10
)

type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	BaseURL      string
	Location     *time.Location
}

type graphList[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// GraphClient talks to Microsoft Graph with an app-only token.
type GraphClient struct {
	client *resty.Client
	loc    *time.Location
	log    zerolog.Logger
}

// NewGraphClient builds a client whose transport acquires and refreshes tokens
// with the client credentials grant.
func NewGraphClient(ctx context.Context, cfg GraphConfig, log zerolog.Logger) *GraphClient {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{graphScope},
	}
	return NewGraphClientWithHTTP(cc.Client(ctx), cfg.BaseURL, cfg.Location, log)
}

func NewGraphClientWithHTTP(hc *http.Client, baseURL string, loc *time.Location, log zerolog.Logger) *GraphClient {
	if loc == nil {
		loc = time.Local
	}
	c := resty.NewWithClient(hc).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)
	return &GraphClient{client: c, loc: loc, log: log.With().Str("component", "graph").Logger()}
}

func graphError(op string, resp *resty.Response) error {
	return fmt.Errorf("%s: HTTP %d: %s", op, resp.StatusCode(), strings.TrimSpace(resp.String()))
}

// FindUsers matches name against display name, given name, surname and mail nickname.
func (g *GraphClient) FindUsers(ctx context.Context, name string) ([]models.DirectoryUser, error) {
	q := strings.ReplaceAll(name, "'", "''")
	filter := fmt.Sprintf("displayName eq '%[1]s' or givenName eq '%[1]s' or surname eq '%[1]s' or mailNickname eq '%[1]s'", q)

	var out graphList[models.DirectoryUser]
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("$filter", filter).
		SetQueryParam("$select", "displayName,userPrincipalName").
		SetResult(&out).
		Get("/users")
	if err != nil {
		return nil, fmt.Errorf("graph user search: %w", err)
	}
	if resp.IsError() {
		return nil, graphError("graph user search", resp)
	}
	g.log.Debug().Str("name", name).Int("matches", len(out.Value)).Msg("user search")
	return out.Value, nil
}

// CalendarView returns the events of upn overlapping [start, end), following
// pagination links.
func (g *GraphClient) CalendarView(ctx context.Context, upn string, start, end time.Time) ([]models.CalendarEvent, error) {
	prefer := fmt.Sprintf("outlook.timezone=%q", g.loc.String())

	var events []models.CalendarEvent
	next := ""
	for page := 0; page < calendarViewMaxPage; page++ {
		var out graphList[models.CalendarEvent]
		req := g.client.R().
			SetContext(ctx).
			SetHeader("Prefer", prefer).
			SetResult(&out)

		var resp *resty.Response
		var err error
		if next == "" {
			resp, err = req.
				SetPathParam("upn", upn).
				SetQueryParams(map[string]string{
					"startDateTime": start.UTC().Format(time.RFC3339),
					"endDateTime":   end.UTC().Format(time.RFC3339),
					"$select":       calendarViewSelect,
					"$orderby":      "start/dateTime",
				}).
				Get("/users/{upn}/calendarView")
		} else {
			// nextLink は絶対URLでクエリも含む
			resp, err = req.Get(next)
		}
		if err != nil {
			return nil, fmt.Errorf("graph calendar view: %w", err)
		}
		if resp.IsError() {
			return nil, graphError("graph calendar view", resp)
		}
		events = append(events, out.Value...)
		if out.NextLink == "" {
			break
		}
		next = out.NextLink
	}
	return events, nil
}

// CreateEvent creates ev in the organizer's calendar and sends the invitations.
func (g *GraphClient) CreateEvent(ctx context.Context, organizer string, ev models.NewEvent) (*models.CreatedEvent, error) {
	var created models.CreatedEvent
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("upn", organizer).
		SetHeader("Content-Type", "application/json").
		SetBody(ev).
		SetResult(&created).
		Post("/users/{upn}/events")
	if err != nil {
		return nil, fmt.Errorf("graph create event: %w", err)
	}
	if resp.IsError() {
		return nil, graphError("graph create event", resp)
	}
	return &created, nil
}
