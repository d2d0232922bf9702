package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"gent/models"
)

var formatTag = regexp.MustCompile(`FORMAT:(CARD|TEXT)`)

// Runner runs one orchestration for a user message.
type Runner interface {
	Run(ctx context.Context, model string, conversation []models.Turn, userMessage string) (*RunResult, error)
}

// Archiver stores completed exchanges outside the live history.
type Archiver interface {
	Archive(userID, question, answer, model string)
}

// Answer is a finished reply together with the usage numbers shown under it.
type Answer struct {
	Text      string
	Card      bool
	Model     string
	ModelName string
	Count     int
	Limit     int
	Pairs     int
	Switched  bool
}

// UsageLine renders the footer shown under each reply.
func (a Answer) UsageLine() string {
	line := fmt.Sprintf("💬 %d msgs | %s | %d/%d", a.Pairs, a.ModelName, a.Count, a.Limit)
	if a.Switched {
		line += " | ⚡ Auto-switched"
	}
	return line
}

// ChatService answers free-text questions for one user at a time.
type ChatService struct {
	state   *StateStore
	runner  Runner
	archive Archiver
	log     zerolog.Logger
}

func NewChatService(state *StateStore, runner Runner, archive Archiver, log zerolog.Logger) *ChatService {
	return &ChatService{
		state:   state,
		runner:  runner,
		archive: archive,
		log:     log.With().Str("component", "chat").Logger(),
	}
}

// SplitFormat removes the first FORMAT tag and reports whether the answer asked
// for a card.
func SplitFormat(raw string) (string, bool) {
	card := strings.HasPrefix(raw, "FORMAT:CARD")
	text := raw
	if loc := formatTag.FindStringIndex(raw); loc != nil {
		text = raw[:loc[0]] + raw[loc[1]:]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = FallbackAnswer
	}
	return text, card
}

// Ask runs the orchestration for message and records the exchange in the
// user's history. A failed run leaves the history untouched.
func (s *ChatService) Ask(ctx context.Context, userKey, message string) (*Answer, error) {
	if s.state.DailyResetIfNeeded() {
		s.log.Info().Msg("daily usage counters reset")
	}

	preferred := s.state.PreferredModel(userKey)
	res, err := s.runner.Run(ctx, preferred, s.state.History(userKey), message)
	if err != nil {
		return nil, err
	}

	text, card := SplitFormat(res.Text)
	s.state.Append(userKey,
		models.NewTextTurn(models.RoleUser, message),
		models.NewTextTurn(models.RoleModel, text),
	)
	if res.Switched {
		// フォールバック先をそのままユーザーの既定にする
		s.state.SetPreferredModel(userKey, res.Model)
	}

	usage, _ := s.state.Usage(res.Model)
	ans := &Answer{
		Text:      text,
		Card:      card,
		Model:     res.Model,
		ModelName: usage.DisplayName,
		Count:     usage.Count,
		Limit:     usage.DailyLimit,
		Pairs:     len(s.state.History(userKey)) / 2,
		Switched:  res.Switched,
	}

	if s.archive != nil {
		s.archive.Archive(userKey, message, text, res.Model)
	}
	s.log.Info().
		Str("user", userKey).
		Str("model", res.Model).
		Bool("switched", res.Switched).
		Int("model_calls", res.ModelCalls).
		Int("tool_calls", res.ToolCalls).
		Bool("forced", res.Forced).
		Msg("question answered")
	return ans, nil
}
