package models

import "time"

// Slot is a half-open time interval [Start, End).
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s Slot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

type DirectoryUser struct {
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type DateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type Attendee struct {
	EmailAddress EmailAddress `json:"emailAddress"`
	Type         string       `json:"type,omitempty"`
}

type Location struct {
	DisplayName string `json:"displayName"`
}

type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type OnlineMeeting struct {
	JoinURL string `json:"joinUrl,omitempty"`
}

// CalendarEvent はGraph APIのcalendarViewで返るイベント
type CalendarEvent struct {
	Subject       string         `json:"subject"`
	BodyPreview   string         `json:"bodyPreview,omitempty"`
	Organizer     *Attendee      `json:"organizer,omitempty"`
	Attendees     []Attendee     `json:"attendees,omitempty"`
	Start         DateTimeZone   `json:"start"`
	End           DateTimeZone   `json:"end"`
	Location      *Location      `json:"location,omitempty"`
	OnlineMeeting *OnlineMeeting `json:"onlineMeeting,omitempty"`
	IsAllDay      bool           `json:"isAllDay"`
	WebLink       string         `json:"webLink,omitempty"`
}

// NewEvent is the request body for creating a calendar event.
type NewEvent struct {
	Subject               string         `json:"subject"`
	Body                  ItemBody       `json:"body"`
	Start                 DateTimeZone   `json:"start"`
	End                   DateTimeZone   `json:"end"`
	Location              Location       `json:"location"`
	Attendees             []Attendee     `json:"attendees"`
	Recurrence            map[string]any `json:"recurrence,omitempty"`
	IsOnlineMeeting       bool           `json:"isOnlineMeeting,omitempty"`
	OnlineMeetingProvider string         `json:"onlineMeetingProvider,omitempty"`
}

type CreatedEvent struct {
	Subject         string       `json:"subject"`
	Start           DateTimeZone `json:"start"`
	Organizer       Attendee     `json:"organizer"`
	WebLink         string       `json:"webLink"`
	IsOnlineMeeting bool         `json:"isOnlineMeeting"`
}
