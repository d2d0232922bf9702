package services

import (
	"github.com/sashabaranov/go-openai"
)

// ToolName is the closed set of tools the model may call.
type ToolName string

const (
	ToolGetUserCalendar     ToolName = "get_user_calendar"
	ToolFindAvailableTime   ToolName = "find_available_time"
	ToolCreateCalendarEvent ToolName = "create_calendar_event"
	ToolSearchWorkRecords   ToolName = "search_work_records"
	ToolGetDocument         ToolName = "get_document"
)

var toolNames = []ToolName{
	ToolGetUserCalendar,
	ToolFindAvailableTime,
	ToolCreateCalendarEvent,
	ToolSearchWorkRecords,
	ToolGetDocument,
}

// ParseToolName maps a model-supplied name onto the closed tool set.
func ParseToolName(name string) (ToolName, bool) {
	for _, t := range toolNames {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Parameter is a JSON-schema-like description of a tool argument.
type Parameter struct {
	Type        ParamType
	Description string
	Enum        []string
	Items       *Parameter
	Properties  map[string]*Parameter
	Required    []string
}

// Schema renders the parameter as a JSON schema document.
func (p *Parameter) Schema() map[string]any {
	out := map[string]any{"type": string(p.Type)}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = p.Items.Schema()
	}
	if p.Type == TypeObject {
		props := make(map[string]any, len(p.Properties))
		for name, prop := range p.Properties {
			props[name] = prop.Schema()
		}
		out["properties"] = props
	}
	if len(p.Required) > 0 {
		out["required"] = p.Required
	}
	return out
}

type ToolDeclaration struct {
	Name        ToolName
	Description string
	Parameters  Parameter
}

func stringParam(desc string) *Parameter {
	return &Parameter{Type: TypeString, Description: desc}
}

func stringList(desc string) *Parameter {
	return &Parameter{Type: TypeArray, Description: desc, Items: &Parameter{Type: TypeString}}
}

// Registry returns the declarations of every tool exposed to the model.
func Registry() []ToolDeclaration {
	return []ToolDeclaration{
		{
			Name: ToolGetUserCalendar,
			Description: "Get calendar events for a user within a specified date range. " +
				"Convert natural language dates (yesterday, tomorrow, this week, next month; weeks start on Monday) " +
				"into exact YYYY-MM-DD values before calling. If no dates are given the tool uses today.",
			Parameters: Parameter{
				Type: TypeObject,
				Properties: map[string]*Parameter{
					"userPrincipalName": stringParam("The user's name or email address, e.g. 'weraprat' or 'weraprat@gent-s.com'. A first name is usually enough."),
					"startDate":         stringParam("Start date in YYYY-MM-DD format (optional). Defaults to today."),
					"endDate":           stringParam("End date in YYYY-MM-DD format (optional). Defaults to startDate."),
				},
				Required: []string{"userPrincipalName"},
			},
		},
		{
			Name: ToolFindAvailableTime,
			Description: "Find common free time slots for a group of people during working hours. " +
				"Use for any request like 'find a time', 'when are we free', 'หาเวลาว่าง'. Returns up to 5 slots.",
			Parameters: Parameter{
				Type: TypeObject,
				Properties: map[string]*Parameter{
					"attendees":         stringList("Short names of everyone who must attend, e.g. ['weraprat', 'natsarin']."),
					"durationInMinutes": {Type: TypeNumber, Description: "Meeting length in minutes."},
					"startSearch":       stringParam("First day to search, YYYY-MM-DD."),
					"endSearch":         stringParam("Last day to search (inclusive), YYYY-MM-DD."),
				},
				Required: []string{"attendees", "durationInMinutes", "startSearch", "endSearch"},
			},
		},
		{
			Name: ToolCreateCalendarEvent,
			Description: "Create a calendar event and send Microsoft Teams invitations. Convert all times to " +
				"'YYYY-MM-DDTHH:mm:ss'. The first attendee is the organizer. If the result contains conflict=true " +
				"the event was NOT created because the listed attendees are busy.",
			Parameters: Parameter{
				Type: TypeObject,
				Properties: map[string]*Parameter{
					"subject":           stringParam("The title of the event."),
					"startDateTime":     stringParam("Start in 'YYYY-MM-DDTHH:mm:ss' format."),
					"endDateTime":       stringParam("End in 'YYYY-MM-DDTHH:mm:ss' format."),
					"attendees":         stringList("Required attendees' names. The first one organizes the meeting."),
					"optionalAttendees": stringList("Optional attendees' names."),
					"recurrence": {
						Type:        TypeObject,
						Description: "Recurrence pattern and range for repeating events.",
						Properties: map[string]*Parameter{
							"pattern": {
								Type: TypeObject,
								Properties: map[string]*Parameter{
									"type":       {Type: TypeString, Enum: []string{"daily", "weekly", "absoluteMonthly", "relativeMonthly", "absoluteYearly", "relativeYearly"}},
									"interval":   {Type: TypeNumber, Description: "Units between occurrences, e.g. 2 for every other week."},
									"daysOfWeek": stringList("e.g. ['monday', 'wednesday']"),
									"dayOfMonth": {Type: TypeNumber, Description: "Day of the month (1-31) for monthly patterns."},
								},
								Required: []string{"type", "interval"},
							},
							"range": {
								Type: TypeObject,
								Properties: map[string]*Parameter{
									"type":                {Type: TypeString, Enum: []string{"endDate", "noEnd", "numberedOccurrences"}},
									"startDate":           stringParam("Recurrence start, YYYY-MM-DD."),
									"endDate":             stringParam("Recurrence end, YYYY-MM-DD."),
									"numberOfOccurrences": {Type: TypeNumber, Description: "How many times the event repeats."},
								},
								Required: []string{"type", "startDate"},
							},
						},
						Required: []string{"pattern", "range"},
					},
					"createMeeting": {Type: TypeBoolean, Description: "true adds a Teams meeting link ('meeting', 'call'); false for a plain booking ('book', 'block time'). Defaults to true."},
					"bodyContent":   stringParam("Optional HTML body of the event."),
					"location":      stringParam("Optional physical location."),
				},
				Required: []string{"subject", "startDateTime", "endDateTime", "attendees"},
			},
		},
		{
			Name: ToolSearchWorkRecords,
			Description: "Look up HR and work records from the CEM system: employees, tasks, leave requests, " +
				"car bookings or daily work logs. Use 'all' to fetch users, tasks, leave and bookings together.",
			Parameters: Parameter{
				Type: TypeObject,
				Properties: map[string]*Parameter{
					"category": {Type: TypeString, Enum: []string{"users", "tasks", "leave", "car-booking", "daily-work", "all"}},
					"filters": {
						Type:        TypeObject,
						Description: "Query parameters for daily-work, e.g. {\"date\": \"2025-01-31\", \"userId\": \"12\"}.",
						Properties:  map[string]*Parameter{},
					},
				},
				Required: []string{"category"},
			},
		},
		{
			Name:        ToolGetDocument,
			Description: "Retrieve a document or image from the shared document store so it can be read. Pass the document path as given by the user.",
			Parameters: Parameter{
				Type: TypeObject,
				Properties: map[string]*Parameter{
					"path": stringParam("Document path, e.g. 'policies/leave-policy.pdf'."),
				},
				Required: []string{"path"},
			},
		},
	}
}

// openAITools converts declarations into the go-openai request shape.
func openAITools(decls []ToolDeclaration) []openai.Tool {
	tools := make([]openai.Tool, 0, len(decls))
	for _, d := range decls {
		params := d.Parameters
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        string(d.Name),
				Description: d.Description,
				Parameters:  params.Schema(),
			},
		})
	}
	return tools
}
