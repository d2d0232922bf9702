package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gent/models"
)

// FallbackAnswer is returned when the loop ends without any model text.
const FallbackAnswer = "I'm sorry, I couldn't generate a proper response."

// Invoker is satisfied by *ModelInvoker.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*Invocation, error)
}

// Dispatcher executes one tool call. It never returns an error: failures are
// reported inside the outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, call models.ToolCall) ToolOutcome
}

// ToolOutcome is the result of a dispatched tool call.
type ToolOutcome struct {
	Result     map[string]any
	Attachment *models.Binary
}

type RunState int

const (
	AwaitingModel RunState = iota
	DispatchingTool
	Done
	Failed
)

func (s RunState) String() string {
	switch s {
	case AwaitingModel:
		return "awaiting_model"
	case DispatchingTool:
		return "dispatching_tool"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// RunResult is the outcome of one orchestration run.
type RunResult struct {
	Text               string
	Model              string
	Switched           bool
	CredentialSwitched bool
	ModelCalls         int
	ToolCalls          int
	Forced             bool
}

// Orchestrator drives the model call, tool dispatch and history update loop.
type Orchestrator struct {
	invoker    Invoker
	dispatcher Dispatcher
	tools      []ToolDeclaration
	maxRounds  int
	log        zerolog.Logger
}

func NewOrchestrator(invoker Invoker, dispatcher Dispatcher, tools []ToolDeclaration, maxRounds int, log zerolog.Logger) *Orchestrator {
	if maxRounds < 0 {
		maxRounds = 0
	}
	return &Orchestrator{
		invoker:    invoker,
		dispatcher: dispatcher,
		tools:      tools,
		maxRounds:  maxRounds,
		log:        log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run answers userMessage given the stored conversation. The conversation slice
// is not modified; tool turns live only for the duration of the run.
func (o *Orchestrator) Run(ctx context.Context, model string, conversation []models.Turn, userMessage string) (*RunResult, error) {
	started := time.Now()
	res, err := o.run(ctx, model, conversation, userMessage)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Forced:
		outcome = "forced"
	}
	orchestrationDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, model string, conversation []models.Turn, userMessage string) (*RunResult, error) {
	history := make([]models.Turn, 0, len(conversation)+1+2*o.maxRounds)
	history = append(history, conversation...)
	history = append(history, models.NewTextTurn(models.RoleUser, userMessage))

	res := &RunResult{Model: model}
	current := model
	lastText := ""
	state := AwaitingModel

	for {
		inv, err := o.invoker.Invoke(ctx, InvokeRequest{
			PreferredModel: current,
			History:        history,
			Tools:          o.tools,
		})
		if err != nil {
			state = Failed
			o.log.Debug().Stringer("state", state).Int("model_calls", res.ModelCalls).Err(err).Msg("orchestration failed")
			return nil, err
		}
		res.ModelCalls++
		res.CredentialSwitched = res.CredentialSwitched || inv.CredentialSwitched
		current = inv.Model
		res.Model = inv.Model
		res.Switched = inv.Model != model

		text := strings.TrimSpace(inv.Response.Text())
		if text != "" {
			lastText = text
		}

		call, ok := inv.Response.FirstToolCall()
		if !ok {
			state = Done
			res.Text = text
			if res.Text == "" {
				res.Text = FallbackAnswer
			}
			o.log.Debug().Stringer("state", state).Int("model_calls", res.ModelCalls).Int("tool_calls", res.ToolCalls).Msg("orchestration finished")
			return res, nil
		}

		if res.ToolCalls >= o.maxRounds {
			state = Done
			res.Forced = true
			res.Text = lastText
			if res.Text == "" {
				res.Text = FallbackAnswer
			}
			o.log.Warn().Str("tool", call.Name).Int("model_calls", res.ModelCalls).Msg("tool round limit reached, forcing final answer")
			return res, nil
		}

		state = DispatchingTool
		o.log.Debug().Stringer("state", state).Str("tool", call.Name).Msg("dispatching tool")
		outcome := o.dispatcher.Dispatch(ctx, call)
		res.ToolCalls++

		history = append(history, inv.Response, toolTurn(call, outcome))
		state = AwaitingModel
	}
}

// toolTurn builds the tool-result turn answering call. An attachment follows the
// result as a separate part.
func toolTurn(call models.ToolCall, outcome ToolOutcome) models.Turn {
	result := outcome.Result
	if result == nil {
		result = map[string]any{}
	}
	turn := models.Turn{
		Role: models.RoleTool,
		Parts: []models.Part{{ToolResult: &models.ToolResult{
			ID:     call.ID,
			Name:   call.Name,
			Result: result,
		}}},
	}
	if outcome.Attachment != nil {
		turn.Parts = append(turn.Parts, models.Part{Binary: outcome.Attachment})
	}
	return turn
}
