package cancellation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBegin_SignalsPrevious(t *testing.T) {
	c := NewController()

	first := c.Begin(context.Background())
	require.False(t, c.IsCancelled(first))

	second := c.Begin(context.Background())
	assert.True(t, c.IsCancelled(first), "previous token must be signalled")
	assert.False(t, c.IsCancelled(second))
	assert.Greater(t, second.ID(), first.ID())
}

func TestSignal(t *testing.T) {
	c := NewController()
	tok := c.Begin(context.Background())

	c.Signal(tok)

	assert.True(t, c.IsCancelled(tok))
	assert.Error(t, tok.Context().Err())
	select {
	case <-tok.Done():
	default:
		t.Fatal("Done should be closed after Signal")
	}
	assert.False(t, c.Abort(), "a signalled token is no longer live")
}

func TestAbort(t *testing.T) {
	c := NewController()
	assert.False(t, c.Abort(), "nothing live")

	tok := c.Begin(context.Background())
	assert.True(t, c.Abort())
	assert.True(t, tok.Cancelled())
	assert.False(t, c.Abort(), "already signalled")
}

func TestRelease(t *testing.T) {
	c := NewController()
	old := c.Begin(context.Background())
	cur := c.Begin(context.Background())

	c.Release(old)
	assert.False(t, c.IsCancelled(cur))
	assert.True(t, c.Abort(), "releasing a stale token keeps the current one")

	c.Release(cur)
	assert.True(t, c.IsCancelled(cur))
	assert.False(t, c.Abort(), "nothing live after release")
}

func TestBegin_ParentCancellation(t *testing.T) {
	c := NewController()
	parent, cancel := context.WithCancel(context.Background())
	tok := c.Begin(parent)

	cancel()

	assert.True(t, tok.Cancelled())
}

func TestNilToken(t *testing.T) {
	c := NewController()
	c.Signal(nil)
	c.Release(nil)

	var tok *Token
	assert.True(t, tok.Cancelled())
}
