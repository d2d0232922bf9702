package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"gent/models"
)

var (
	// ErrQuotaExhausted is returned once every model under every credential hit its quota.
	ErrQuotaExhausted = errors.New("all models quota exceeded")
	// ErrModelTimeout is returned when a single generation call exceeds its deadline.
	ErrModelTimeout = errors.New("request timeout")
	// ErrEmptyResponse is returned when the model answers with no choices.
	ErrEmptyResponse = errors.New("empty response from model")
	// errLocalLimit marks a model skipped because its daily counter is full.
	errLocalLimit = errors.New("daily limit reached")
)

// ChatCompleter is the subset of *openai.Client the invoker needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ClientFactory returns a completion client bound to one API key.
type ClientFactory func(apiKey string) ChatCompleter

// NewGeminiClientFactory builds go-openai clients for Gemini's OpenAI-compatible endpoint.
func NewGeminiClientFactory(baseURL string) ClientFactory {
	return func(apiKey string) ChatCompleter {
		cfg := openai.DefaultConfig(apiKey)
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
		return openai.NewClientWithConfig(cfg)
	}
}

// IsQuotaError reports whether err is a rate or usage-limit rejection.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errLocalLimit) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"quota", "429", "resource_exhausted", "rate limit"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// InvokeRequest is one generation request.
type InvokeRequest struct {
	PreferredModel string
	History        []models.Turn
	Tools          []ToolDeclaration
}

// Invocation describes which model served a request.
type Invocation struct {
	Response           models.Turn
	Model              string
	Switched           bool
	CredentialSwitched bool
}

// ModelInvoker issues generation requests with model and credential fallback.
type ModelInvoker struct {
	state   *StateStore
	clients ClientFactory
	timeout time.Duration
	loc     *time.Location
	now     func() time.Time
	log     zerolog.Logger
}

func NewModelInvoker(state *StateStore, clients ClientFactory, timeout time.Duration, loc *time.Location, log zerolog.Logger) *ModelInvoker {
	if loc == nil {
		loc = time.Local
	}
	return &ModelInvoker{
		state:   state,
		clients: clients,
		timeout: timeout,
		loc:     loc,
		now:     time.Now,
		log:     log.With().Str("component", "invoker").Logger(),
	}
}

// Invoke scans the model registry starting at the preferred model, moving on
// only when a model reports a quota error. When the whole list is exhausted it
// switches to the alternate credential once and scans again.
func (m *ModelInvoker) Invoke(ctx context.Context, req InvokeRequest) (*Invocation, error) {
	keys := m.state.ModelKeys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("no models configured")
	}
	cred, ok := m.state.ActiveCredential()
	if !ok {
		return nil, fmt.Errorf("no API key configured")
	}

	start := 0
	for i, k := range keys {
		if k == req.PreferredModel {
			start = i
			break
		}
	}

	messages := m.buildMessages(req.History)
	tools := openAITools(req.Tools)

	credentialSwitched := false
	var lastErr error
	for {
		client := m.clients(cred.Key)
		for i := 0; i < len(keys); i++ {
			model := keys[(start+i)%len(keys)]

			if m.state.LimitReached(model) {
				modelAttemptsTotal.WithLabelValues(model, "skipped").Inc()
				m.log.Info().Str("model", model).Int("credential", cred.Index).Msg("daily limit reached, trying next model")
				lastErr = fmt.Errorf("%s: %w", model, errLocalLimit)
				continue
			}

			turn, err := m.generate(ctx, client, model, messages, tools)
			if err == nil {
				modelAttemptsTotal.WithLabelValues(model, "ok").Inc()
				m.state.RecordUsage(model)
				inv := &Invocation{
					Response:           turn,
					Model:              model,
					Switched:           model != req.PreferredModel,
					CredentialSwitched: credentialSwitched,
				}
				if inv.Switched || credentialSwitched {
					m.log.Info().Str("preferred", req.PreferredModel).Str("model", model).Int("credential", cred.Index).Msg("served by fallback")
				}
				return inv, nil
			}

			if errors.Is(err, ErrModelTimeout) {
				modelAttemptsTotal.WithLabelValues(model, "timeout").Inc()
				return nil, err
			}
			if !IsQuotaError(err) {
				modelAttemptsTotal.WithLabelValues(model, "error").Inc()
				m.log.Error().Err(err).Str("model", model).Msg("model call failed")
				return nil, err
			}

			modelAttemptsTotal.WithLabelValues(model, "quota").Inc()
			m.log.Warn().Err(err).Str("model", model).Int("credential", cred.Index).Msg("quota exceeded, trying next model")
			lastErr = err
		}

		if credentialSwitched {
			break
		}
		next, ok := m.state.SwitchCredential(cred.Index)
		if !ok {
			break
		}
		credentialSwitchesTotal.Inc()
		m.log.Warn().Int("from", cred.Index).Int("to", next.Index).Msg("all models exhausted, switching API key")
		cred = next
		credentialSwitched = true
	}

	return nil, fmt.Errorf("%w: %v", ErrQuotaExhausted, lastErr)
}

func (m *ModelInvoker) generate(ctx context.Context, client ChatCompleter, model string, messages []openai.ChatCompletionMessage, tools []openai.Tool) (models.Turn, error) {
	callCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if len(tools) > 0 {
		req.Tools = tools
	}

	resp, err := client.CreateChatCompletion(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return models.Turn{}, fmt.Errorf("%s: %w", model, ErrModelTimeout)
		}
		return models.Turn{}, err
	}
	if len(resp.Choices) == 0 {
		return models.Turn{}, fmt.Errorf("%s: %w", model, ErrEmptyResponse)
	}
	return m.toTurn(resp.Choices[0].Message), nil
}

// toTurn converts the model message into a Turn. Only the first tool call is
// kept, in both the parts and the replay payload.
func (m *ModelInvoker) toTurn(msg openai.ChatCompletionMessage) models.Turn {
	turn := models.Turn{Role: models.RoleModel}
	if msg.Content != "" {
		turn.Parts = append(turn.Parts, models.Part{Text: msg.Content})
	}

	if len(msg.ToolCalls) > 1 {
		m.log.Debug().Int("requested", len(msg.ToolCalls)).Msg("model requested several tool calls, keeping the first")
		msg.ToolCalls = msg.ToolCalls[:1]
	}
	if len(msg.ToolCalls) == 1 {
		tc := msg.ToolCalls[0]
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		msg.ToolCalls = []openai.ToolCall{tc}

		args := map[string]any{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": tc.Function.Arguments}
			}
		}
		turn.Parts = append(turn.Parts, models.Part{ToolCall: &models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		}})
	}

	turn.Payload = models.NewModelTurnPayload(msg)
	return turn
}

func (m *ModelInvoker) buildMessages(history []models.Turn) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: SystemInstruction(m.now(), m.loc),
	}}
	for _, turn := range history {
		messages = append(messages, toMessages(turn)...)
	}
	return messages
}

// toMessages maps one Turn onto chat messages. Model turns that carry the raw
// provider message are replayed verbatim.
func toMessages(turn models.Turn) []openai.ChatCompletionMessage {
	switch turn.Role {
	case models.RoleModel:
		if raw, ok := turn.Payload.Value().(openai.ChatCompletionMessage); ok {
			return []openai.ChatCompletionMessage{raw}
		}
		msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: turn.Text()}
		for _, call := range turn.ToolCalls() {
			args, _ := json.Marshal(call.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:       call.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: call.Name, Arguments: string(args)},
			})
		}
		return []openai.ChatCompletionMessage{msg}

	case models.RoleTool:
		var out []openai.ChatCompletionMessage
		var attachments []models.Binary
		for _, p := range turn.Parts {
			switch {
			case p.ToolResult != nil:
				body, err := json.Marshal(p.ToolResult.Result)
				if err != nil {
					body = []byte(`{"error":"unencodable tool result"}`)
				}
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Name:       p.ToolResult.Name,
					ToolCallID: p.ToolResult.ID,
					Content:    string(body),
				})
			case p.Binary != nil:
				attachments = append(attachments, *p.Binary)
			}
		}
		// 添付ファイルはtoolメッセージに載せられないのでuserメッセージで渡す
		if len(attachments) > 0 {
			parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: "Attachment returned by the tool above."}}
			for _, b := range attachments {
				parts = append(parts, binaryPart(b))
			}
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
		}
		return out

	default:
		var parts []openai.ChatMessagePart
		for _, p := range turn.Parts {
			if p.Binary != nil {
				parts = append(parts, binaryPart(*p.Binary))
			}
		}
		if len(parts) == 0 {
			return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: turn.Text()}}
		}
		parts = append([]openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: turn.Text()}}, parts...)
		return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, MultiContent: parts}}
	}
}

func binaryPart(b models.Binary) openai.ChatMessagePart {
	url := fmt.Sprintf("data:%s;base64,%s", b.MimeType, base64.StdEncoding.EncodeToString(b.Data))
	return openai.ChatMessagePart{
		Type:     openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{URL: url},
	}
}
