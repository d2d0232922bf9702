package services

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gent/config"
)

func TestModelsWithLimits(t *testing.T) {
	specs := ModelsWithLimits(map[string]int{"gemini-2.5-pro": 50, "unknown": 3})
	require.Len(t, specs, 2)
	assert.Equal(t, 500, specs[0].DailyLimit)
	assert.Equal(t, 50, specs[1].DailyLimit)
}

func TestNewApp_MinimalConfig(t *testing.T) {
	cfg := config.ForTesting()
	cfg.ModelLimits = map[string]int{"gemini-2.5-flash": 2}

	sc := &scriptedCompleter{}
	app, err := NewApp(context.Background(), cfg, zerolog.Nop(), WithClientFactory(sc.factory()))
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Finder)
	assert.Nil(t, app.Notifier)
	assert.Nil(t, app.Transcripts)
	assert.Nil(t, app.Submissions)

	u, ok := app.State.Usage("gemini-2.5-flash")
	require.True(t, ok)
	assert.Equal(t, 2, u.DailyLimit)

	out := app.Dispatcher.Dispatch(context.Background(), call("find_available_time", map[string]any{"attendees": []string{"a"}}))
	assert.Contains(t, out.Result["error"], "not configured")
}

func TestNewApp_RejectsUnknownDefaultModel(t *testing.T) {
	cfg := config.ForTesting()
	cfg.DefaultModel = "gpt-4"
	_, err := NewApp(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "not a known model")
}
