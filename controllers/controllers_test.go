package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gent/models"
	"gent/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRunner struct {
	text  string
	model string
	err   error
	asked []string
}

func (s *stubRunner) Run(_ context.Context, model string, _ []models.Turn, msg string) (*services.RunResult, error) {
	s.asked = append(s.asked, msg)
	if s.err != nil {
		return nil, s.err
	}
	if s.model != "" {
		model = s.model
	}
	return &services.RunResult{Text: s.text, Model: model, Switched: s.model != ""}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return n.err
}

type webhookFixture struct {
	state    *services.StateStore
	runner   *stubRunner
	notifier *recordingNotifier
	router   *gin.Engine
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)
	state := services.NewStateStore(services.StateOptions{
		APIKeys:      []string{"k1"},
		DefaultModel: "gemini-2.5-flash",
		Location:     loc,
	})
	runner := &stubRunner{text: "FORMAT:TEXT สวัสดีครับ"}
	notifier := &recordingNotifier{}
	chat := services.NewChatService(state, runner, nil, zerolog.Nop())
	wc := NewWebhookController(chat, state, services.NewTextCleaner(), notifier, zerolog.Nop())

	r := gin.New()
	r.POST("/webhook", wc.HandleWebhook)
	return &webhookFixture{state: state, runner: runner, notifier: notifier, router: r}
}

func (f *webhookFixture) post(t *testing.T, body string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func message(from, text string) string {
	b, _ := json.Marshal(map[string]any{"text": text, "from": map[string]string{"id": from}})
	return string(b)
}

func TestWebhook_TextAnswer(t *testing.T) {
	f := newWebhookFixture(t)
	code, out := f.post(t, message("u1", "<at>Gent</at> สวัสดี&nbsp;ครับ"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "🤖 **Gent:** สวัสดีครับ\n\n💬 1 msgs | Gemini 2.5 Flash | 0/500", out["text"])
	assert.Equal(t, []string{"สวัสดี ครับ"}, f.runner.asked)
	assert.Len(t, f.state.History("u1"), 2)
}

func TestWebhook_CardAnswer(t *testing.T) {
	f := newWebhookFixture(t)
	f.runner.text = "FORMAT:CARD **ว่าง 2 ช่วง**"
	f.runner.model = "gemini-2.5-pro"

	_, out := f.post(t, message("u1", "หาเวลาว่าง"))
	assert.Equal(t, "message", out["type"])
	atts := out["attachments"].([]any)
	require.Len(t, atts, 1)
	att := atts[0].(map[string]any)
	assert.Equal(t, "application/vnd.microsoft.card.adaptive", att["contentType"])
	body := att["content"].(map[string]any)["body"].([]any)
	require.Len(t, body, 3)
	assert.Equal(t, "**ว่าง 2 ช่วง**", body[1].(map[string]any)["text"])
	assert.Equal(t, "💬 1 msgs | Gemini 2.5 Pro | 0/100 | ⚡ Auto-switched", body[2].(map[string]any)["text"])
}

func TestWebhook_Commands(t *testing.T) {
	f := newWebhookFixture(t)
	f.state.Append("u1", models.NewTextTurn(models.RoleUser, "q"), models.NewTextTurn(models.RoleModel, "a"))

	_, out := f.post(t, message("u1", "CLEAR"))
	assert.Equal(t, "🔄 Conversation cleared!", out["text"])
	assert.Empty(t, f.state.History("u1"))

	_, out = f.post(t, message("u1", "model"))
	assert.Equal(t, "🤖 **Available Models:**\n✅ gemini-2.5-flash: Gemini 2.5 Flash (0/500)\n• gemini-2.5-pro: Gemini 2.5 Pro (0/100)", out["text"])

	_, out = f.post(t, message("u1", "Model Gemini-2.5-Pro"))
	assert.Equal(t, "🤖 Switched to Gemini 2.5 Pro", out["text"])
	assert.Equal(t, "gemini-2.5-pro", f.state.PreferredModel("u1"))

	_, out = f.post(t, message("u1", "model gpt-4"))
	assert.Equal(t, "❌ Invalid model. Available:\n• gemini-2.5-flash: Gemini 2.5 Flash\n• gemini-2.5-pro: Gemini 2.5 Pro", out["text"])
	assert.Empty(t, f.runner.asked)
}

func TestWebhook_EmptyMessage(t *testing.T) {
	f := newWebhookFixture(t)
	code, out := f.post(t, message("u1", "<at>Gent</at>"))
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, out)
	assert.Empty(t, f.runner.asked)
}

func TestWebhook_UserKeyFallbacks(t *testing.T) {
	f := newWebhookFixture(t)
	f.post(t, `{"text":"hi","channelData":{"tenant":{"id":"tenant-1"}}}`)
	f.post(t, `{"text":"hi"}`)
	assert.Len(t, f.state.History("tenant-1"), 2)
	assert.Len(t, f.state.History("default"), 2)
}

func TestWebhook_Broadcast(t *testing.T) {
	f := newWebhookFixture(t)
	f.runner.text = "FORMAT:TEXT ประชุมบ่ายสองครับ"

	_, out := f.post(t, message("u1", "/Broadcast  แจ้งประชุม"))
	assert.Equal(t, "📢 Broadcast sent!", out["text"])
	assert.Equal(t, []string{"แจ้งประชุม"}, f.runner.asked)
	require.Len(t, f.notifier.sent, 1)
	assert.True(t, strings.HasPrefix(f.notifier.sent[0], "🔊 **Announcement:**\n\nประชุมบ่ายสองครับ\n\n💬 1 msgs"))

	f.notifier.err = errors.New("webhook down")
	_, out = f.post(t, message("u1", "/broadcast again"))
	assert.Contains(t, out["text"], "broadcast could not be delivered")
}

func TestWebhook_Errors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{services.ErrModelTimeout, "⏱️ Request timeout. Please try again."},
		{services.ErrQuotaExhausted, "⚠️ All models quota exceeded! Please try again tomorrow or type `model` to check status."},
		{errors.New("boom"), "❌ **Gent Error:** boom"},
	}
	for _, tt := range tests {
		f := newWebhookFixture(t)
		f.runner.err = tt.err
		code, out := f.post(t, message("u1", "hello"))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, tt.want, out["text"])
		assert.Empty(t, f.state.History("u1"))
	}
}

func TestWebhook_BroadcastFailureNotifies(t *testing.T) {
	f := newWebhookFixture(t)
	f.runner.err = services.ErrModelTimeout
	_, out := f.post(t, message("u1", "/broadcast hello"))
	assert.Equal(t, "⏱️ Request timeout. Please try again.", out["text"])
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0], "Broadcast failed")
}

func TestWebhook_MalformedBody(t *testing.T) {
	f := newWebhookFixture(t)
	code, out := f.post(t, `{"text":`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error", out["error"])
}

type memorySaver struct {
	saved []models.Submission
}

func (m *memorySaver) Save(_ context.Context, sub models.Submission) (models.Submission, error) {
	if err := services.ValidateSubmission(sub); err != nil {
		return models.Submission{}, err
	}
	sub.ID = "sub-1"
	sub.Timestamp = time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	m.saved = append(m.saved, sub)
	return sub, nil
}

func postFeedback(fc *FeedbackController, body string) *httptest.ResponseRecorder {
	r := gin.New()
	r.POST("/feedback", fc.SubmitFeedback)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/feedback", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestFeedback_Submit(t *testing.T) {
	store := &memorySaver{}
	fc := NewFeedbackController(store, zerolog.Nop())

	w := postFeedback(fc, `{"name":"John Test","email":"john@test.com","rating":"5","feedback":"great"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"sub-1","timestamp":"2025-03-10T03:00:00Z"}`, w.Body.String())
	require.Len(t, store.saved, 1)
	assert.Equal(t, "great", store.saved[0].Feedback)

	w = postFeedback(fc, `{"name":"John","email":"nope","rating":"5"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postFeedback(fc, `{"email":"john@test.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postFeedback(NewFeedbackController(nil, zerolog.Nop()), `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealth(t *testing.T) {
	r := gin.New()
	r.GET("/health", Health)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var out map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "ok", out["status"])
	_, err := time.Parse(time.RFC3339, out["timestamp"])
	assert.NoError(t, err)
}
