package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := Time(NewAt(at))
	require.NoError(t, err)
	assert.True(t, got.Equal(at))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
