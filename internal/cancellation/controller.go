// Package cancellation tracks the single in-flight generation and lets callers abort it.
package cancellation

import (
	"context"
	"sync"
)

// Token represents one generation's right to keep running.
// It is invalidated when signalled or replaced by a newer token.
type Token struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the sequence number of the token.
func (t *Token) ID() uint64 { return t.id }

// Context is cancelled as soon as the token is signalled.
func (t *Token) Context() context.Context { return t.ctx }

// Done is closed once the token is signalled.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Cancelled reports whether the token has been signalled.
func (t *Token) Cancelled() bool {
	return t == nil || t.ctx.Err() != nil
}

// Controller holds at most one live token.
type Controller struct {
	mu      sync.Mutex
	current *Token
	seq     uint64
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{}
}

// Begin signals any previously live token, then mints and returns a new one.
// The token is also cancelled when parent is done.
func (c *Controller) Begin(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.cancel()
	}
	c.seq++
	c.current = &Token{id: c.seq, ctx: ctx, cancel: cancel}
	return c.current
}

// Signal marks tok cancelled. Signalling a stale or nil token is harmless.
func (c *Controller) Signal(tok *Token) {
	if tok == nil {
		return
	}
	tok.cancel()
}

// IsCancelled reports whether tok has been signalled.
func (c *Controller) IsCancelled(tok *Token) bool {
	return tok.Cancelled()
}

// Abort signals the live token, if any. It reports whether one was live.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil || cur.Cancelled() {
		return false
	}
	cur.cancel()
	return true
}

// Release forgets tok if it is still the live token and frees its context.
func (c *Controller) Release(tok *Token) {
	if tok == nil {
		return
	}
	c.mu.Lock()
	if c.current == tok {
		c.current = nil
	}
	c.mu.Unlock()
	tok.cancel()
}
