package models

import (
	"strings"
	"time"
)

// Conversation はアーカイブ用に保存される1メッセージ分のレコード
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult carries the output of a dispatched ToolCall back to the model.
type ToolResult struct {
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name"`
	Result map[string]any `json:"result"`
}

// Binary is an attached document or image returned by a tool.
type Binary struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Part is a single piece of a conversation turn. Exactly one field is set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
	Binary     *Binary     `json:"binary,omitempty"`
}

// ModelTurnPayload は モデルの生レスポンスをそのまま保持する。中身は解釈しない
type ModelTurnPayload struct {
	raw any
}

func NewModelTurnPayload(raw any) *ModelTurnPayload {
	return &ModelTurnPayload{raw: raw}
}

func (p *ModelTurnPayload) Value() any {
	if p == nil {
		return nil
	}
	return p.raw
}

// Turn is one entry of a conversation history.
type Turn struct {
	Role    Role              `json:"role"`
	Parts   []Part            `json:"parts"`
	Payload *ModelTurnPayload `json:"-"`
}

func NewTextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Text: text}}}
}

// Text returns the concatenated text parts of the turn.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if p.ToolCall == nil && p.ToolResult == nil && p.Binary == nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// FirstToolCall returns the first tool call of the turn, if any.
func (t Turn) FirstToolCall() (ToolCall, bool) {
	for _, p := range t.Parts {
		if p.ToolCall != nil {
			return *p.ToolCall, true
		}
	}
	return ToolCall{}, false
}

func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range t.Parts {
		if p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}
