package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadingOptional(t *testing.T) {
	unknown := Unknown()
	require.False(t, unknown.Valid())
	_, ok := unknown.Get()
	require.False(t, ok)

	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	require.Equal(t, now, unknown.Or(now))

	known := At(now)
	got, ok := known.Get()
	require.True(t, ok)
	require.Equal(t, now, got)
	require.Equal(t, now, known.Or(time.Time{}))
}

func TestSimClockStartsUnknown(t *testing.T) {
	c := NewSimClock()
	require.False(t, c.CurrentTime().Valid())
	require.False(t, c.Advance(time.Minute).Valid())

	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	c.Set(start)
	require.Equal(t, At(start.Add(90*time.Minute)), c.Advance(90*time.Minute))
	require.Equal(t, At(start.Add(90*time.Minute)), c.CurrentTime())

	c.Clear()
	require.False(t, c.CurrentTime().Valid())
}
