package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/askme/internal/cancellation"
	"github.com/ChamsBouzaiene/askme/internal/chat"
	"github.com/ChamsBouzaiene/askme/internal/persist"
	"github.com/ChamsBouzaiene/askme/internal/stream"
)

// Streamer produces the assistant reply for a message history.
// The channel carries fragments, then exactly one outcome, then closes.
type Streamer interface {
	Stream(ctx context.Context, messages []chat.Message, tok *cancellation.Token) <-chan stream.Event
}

// Options configures a Store.
type Options struct {
	Adapter   persist.Adapter // defaults to an in-memory adapter
	Streamer  Streamer
	Logger    *zap.Logger
	Observers []Observer
	// NewID mints session ids. Defaults to random UUIDs.
	NewID       func() string
	SaveTimeout time.Duration
}

const defaultSaveTimeout = 5 * time.Second

type observerEntry struct {
	id int
	o  Observer
}

// Store is the authoritative model of all sessions.
type Store struct {
	adapter     persist.Adapter
	streamer    Streamer
	logger      *zap.Logger
	newID       func() string
	saveTimeout time.Duration
	tokens      *cancellation.Controller

	mu           sync.Mutex
	sessions     chat.Collection
	activeID     string
	generating   bool
	genID        string
	genTok       *cancellation.Token
	observers    []observerEntry
	nextObserver int
	version      uint64

	// persistMu orders snapshot writes; saved is the last version written.
	persistMu sync.Mutex
	saved     uint64
}

// change is what a mutation hands to publish once the lock is released.
type change struct {
	persist   bool
	version   uint64
	snapshot  chat.Collection
	state     State
	observers Observers
}

// New restores the stored sessions and makes sure at least one exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Streamer == nil {
		return nil, errors.New("session: streamer is required")
	}
	s := &Store{
		adapter:     opts.Adapter,
		streamer:    opts.Streamer,
		logger:      opts.Logger,
		newID:       opts.NewID,
		saveTimeout: opts.SaveTimeout,
		tokens:      cancellation.NewController(),
	}
	if s.adapter == nil {
		s.adapter = persist.NewMemoryAdapter()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.saveTimeout <= 0 {
		s.saveTimeout = defaultSaveTimeout
	}
	for _, o := range opts.Observers {
		s.observers = append(s.observers, observerEntry{id: s.nextObserver, o: o})
		s.nextObserver++
	}

	s.mu.Lock()
	s.sessions = persist.LoadOrEmpty(ctx, s.adapter, s.logger)
	if len(s.sessions) == 0 {
		s.createLocked()
		c := s.commitLocked(true)
		s.mu.Unlock()
		s.publish(c, nil)
	} else {
		s.activeID = s.sessions[0].ID
		s.mu.Unlock()
	}

	s.logger.Info("session store ready", zap.Int("sessions", len(s.sessions)))
	return s, nil
}

// CreateSession adds a fresh session at the front and selects it.
// A generation streaming into another session keeps running.
func (s *Store) CreateSession() string {
	s.mu.Lock()
	id := s.createLocked()
	c := s.commitLocked(true)
	s.mu.Unlock()

	s.publish(c, nil)
	return id
}

// DeleteSession removes id. A reply streaming into it is cancelled and its
// remaining fragments are dropped. Deleting the last session creates a new one.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	i := s.sessions.Index(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	if s.genID == id {
		s.tokens.Signal(s.genTok)
	}
	s.sessions = slices.Delete(s.sessions, i, i+1)
	switch {
	case len(s.sessions) == 0:
		s.createLocked()
	case s.activeID == id:
		s.activeID = s.sessions[0].ID
	}
	c := s.commitLocked(true)
	s.mu.Unlock()

	s.publish(c, nil)
}

// SelectSession makes id the active session. Unknown ids are ignored.
func (s *Store) SelectSession(id string) bool {
	s.mu.Lock()
	if s.sessions.Index(id) < 0 {
		s.mu.Unlock()
		return false
	}
	s.activeID = id
	c := s.commitLocked(false)
	s.mu.Unlock()

	s.publish(c, nil)
	return true
}

// CancelActive signals the in-flight generation. It reports whether one was running.
func (s *Store) CancelActive() bool {
	return s.tokens.Abort()
}

// SendMessage appends text as a user message to sessionID and streams the reply
// into a new assistant message, blocking until the stream ends.
func (s *Store) SendMessage(ctx context.Context, sessionID, text string) (stream.Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return stream.Outcome{}, ErrEmptyMessage
	}
	// Stored text must survive a JSON round trip unchanged.
	text = strings.ToValidUTF8(text, "\uFFFD")

	s.mu.Lock()
	if s.generating {
		s.mu.Unlock()
		return stream.Outcome{}, ErrGenerationActive
	}
	i := s.sessions.Index(sessionID)
	if i < 0 {
		s.mu.Unlock()
		return stream.Outcome{}, ErrSessionNotFound
	}
	sess := &s.sessions[i]
	if !sess.HasUserMessage() {
		sess.Title = chat.DeriveTitle(text)
	}
	sess.Messages = append(sess.Messages, chat.Message{Role: chat.RoleUser, Content: text})
	history := slices.Clone(sess.Messages)
	sess.Messages = append(sess.Messages, chat.Message{Role: chat.RoleAssistant})

	tok := s.tokens.Begin(ctx)
	s.generating, s.genID, s.genTok = true, sessionID, tok
	c := s.commitLocked(true)
	s.mu.Unlock()

	var events <-chan stream.Event
	defer func() {
		s.release(tok)
		for range events {
		}
	}()
	s.publish(c, nil)

	outcome := stream.Outcome{Kind: stream.Failed, Reason: "stream ended without outcome"}
	events = s.streamer.Stream(ctx, history, tok)
	for ev := range events {
		if ev.Outcome != nil {
			outcome = *ev.Outcome
			continue
		}
		if ev.Fragment != "" {
			s.applyFragment(tok, sessionID, ev.Fragment)
		}
	}

	s.finish(tok, sessionID, outcome)
	return outcome, nil
}

// Snapshot returns a copy of the whole store state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Active returns a copy of the selected session.
func (s *Store) Active() (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions.Get(s.activeID)
	if !ok {
		return chat.Session{}, false
	}
	return sess.Clone(), true
}

// Generating reports whether a reply is streaming.
func (s *Store) Generating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

// Subscribe registers o and returns a function that removes it.
func (s *Store) Subscribe(o Observer) func() {
	s.mu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers = append(s.observers, observerEntry{id: id, o: o})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.observers = slices.DeleteFunc(s.observers, func(e observerEntry) bool { return e.id == id })
		})
	}
}

func (s *Store) applyFragment(tok *cancellation.Token, sessionID, fragment string) {
	s.mu.Lock()
	if s.tokens.IsCancelled(tok) || s.genTok != tok {
		s.mu.Unlock()
		return
	}
	i := s.sessions.Index(sessionID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	msgs := s.sessions[i].Messages
	msgs[len(msgs)-1].Content += fragment
	c := s.commitLocked(true)
	s.mu.Unlock()

	s.publish(c, func(obs Observers) { obs.OnFragment(sessionID, fragment) })
}

// finish applies the outcome and clears the generation state.
// A failure replaces an empty reply with the error notice and otherwise appends it.
func (s *Store) finish(tok *cancellation.Token, sessionID string, outcome stream.Outcome) {
	s.mu.Lock()
	dirty := false
	if outcome.Kind == stream.Failed && s.genTok == tok {
		if i := s.sessions.Index(sessionID); i >= 0 {
			msgs := s.sessions[i].Messages
			last := &msgs[len(msgs)-1]
			if last.Role == chat.RoleAssistant && last.Content == "" {
				last.Content = chat.ErrorNotice
			} else {
				s.sessions[i].Messages = append(msgs, chat.Message{Role: chat.RoleAssistant, Content: chat.ErrorNotice})
			}
			dirty = true
		}
	}
	s.clearLocked(tok)
	c := s.commitLocked(dirty)
	s.mu.Unlock()

	s.publish(c, func(obs Observers) { obs.OnGenerationDone(sessionID, outcome) })
}

// release runs on every SendMessage exit, including panics, and is a no-op
// once finish has cleared the generation. The caller drains the stream afterwards.
func (s *Store) release(tok *cancellation.Token) {
	s.mu.Lock()
	if s.genTok != tok {
		s.mu.Unlock()
		return
	}
	s.clearLocked(tok)
	c := s.commitLocked(false)
	s.mu.Unlock()

	s.logger.Warn("generation ended abnormally", zap.Uint64("token", tok.ID()))
	s.publish(c, nil)
}

func (s *Store) clearLocked(tok *cancellation.Token) {
	if s.genTok == tok {
		s.generating, s.genID, s.genTok = false, "", nil
	}
	s.tokens.Release(tok)
}

func (s *Store) createLocked() string {
	sess := chat.NewSession(s.newID())
	s.sessions = slices.Insert(s.sessions, 0, sess)
	s.activeID = sess.ID
	return sess.ID
}

func (s *Store) stateLocked() State {
	return State{
		Sessions:     s.sessions.Clone(),
		ActiveID:     s.activeID,
		Generating:   s.generating,
		GeneratingID: s.genID,
	}
}

func (s *Store) commitLocked(dirty bool) change {
	c := change{state: s.stateLocked(), persist: dirty}
	c.observers = make(Observers, len(s.observers))
	for i, e := range s.observers {
		c.observers[i] = e.o
	}
	if dirty {
		s.version++
		c.version = s.version
		c.snapshot = s.sessions.Clone()
	}
	return c
}

// publish saves the snapshot, runs notify, then reports the new state.
func (s *Store) publish(c change, notify func(Observers)) {
	if c.persist {
		s.save(c.version, c.snapshot)
	}
	if notify != nil {
		notify(c.observers)
	}
	c.observers.OnStateChanged(c.state)
}

func (s *Store) save(version uint64, snapshot chat.Collection) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if version <= s.saved {
		return
	}
	s.saved = version

	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()
	if err := s.adapter.Save(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist sessions", zap.Uint64("version", version), zap.Error(err))
	}
}
