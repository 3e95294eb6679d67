package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logs-distributor/models"
	"logs-distributor/queue"
)

func TestPutGet_RoundTrip(t *testing.T) {
	q := queue.New(2)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, models.NewPacket("p1", nil)))
	assert.Equal(t, 1, q.Len())

	p, ok := q.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, 0, q.Len())
}

func TestPut_BlocksWhenFullAndUnblocksOnCancel(t *testing.T) {
	q := queue.New(1)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, models.NewPacket("p1", nil)))

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	err := q.Put(cctx, models.NewPacket("p2", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTryPut_FailsWhenFull(t *testing.T) {
	q := queue.New(1)
	require.True(t, q.TryPut(models.NewPacket("p1", nil)))
	assert.False(t, q.TryPut(models.NewPacket("p2", nil)))
}
