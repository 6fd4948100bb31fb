package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventIDIsParseable(t *testing.T) {
	id := NewEventID()
	require.Len(t, id, 26)

	_, err := ulid.Parse(id)
	require.NoError(t, err)
}

func TestNewEventIDIsMonotonicWithinSameMillisecond(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)

	first := NewEventIDAt(at)
	second := NewEventIDAt(at)

	assert.Less(t, first, second)
}
