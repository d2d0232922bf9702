package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGraphTime(t *testing.T) {
	loc := bangkok(t)
	want := time.Date(2025, 3, 10, 10, 0, 0, 0, loc)

	got, err := ParseGraphTime("2025-03-10T10:00:00.0000000", "Asia/Bangkok", time.UTC)
	require.NoError(t, err)
	assert.True(t, got.Equal(want))

	got, err = ParseGraphTime("2025-03-10T03:00:00", "UTC", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(want))

	// Windows のタイムゾーン名は既定のロケーションで読む
	got, err = ParseGraphTime("2025-03-10T10:00:00", "SE Asia Standard Time", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(want))

	_, err = ParseGraphTime("tomorrow", "", loc)
	assert.Error(t, err)
}

func TestParseDateAndStartOfDay(t *testing.T) {
	loc := bangkok(t)
	d, err := ParseDate("2025-03-10", loc)
	require.NoError(t, err)
	assert.True(t, d.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, loc)))

	_, err = ParseDate("10/03/2025", loc)
	assert.ErrorContains(t, err, "expected YYYY-MM-DD")

	// UTC 20:00 はバンコクでは翌日
	late := time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
	assert.True(t, StartOfDay(late, loc).Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, loc)))
}

func TestGetCurrentTimestamp(t *testing.T) {
	_, err := time.Parse(time.RFC3339, GetCurrentTimestamp())
	assert.NoError(t, err)
}
