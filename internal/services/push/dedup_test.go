package push

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeduper(t *testing.T) {
	ctx := context.Background()
	d := newMemoryDeduper(time.Minute)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	seen, err := d.Seen(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, _ = d.Seen(ctx, "ws_CO_1")
	assert.True(t, seen)

	require.NoError(t, d.Forget(ctx, "ws_CO_1"))
	seen, _ = d.Seen(ctx, "ws_CO_1")
	assert.False(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = d.Seen(ctx, "ws_CO_1")
	assert.False(t, seen, "marker expires after ttl")
}
