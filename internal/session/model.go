package session

import (
	"errors"

	"github.com/ChamsBouzaiene/askme/internal/chat"
)

var (
	// ErrEmptyMessage is returned when the text to send is blank.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrGenerationActive is returned when a send is attempted while a reply is streaming.
	ErrGenerationActive = errors.New("a generation is already in progress")
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
)

// State is a point-in-time copy of the store, safe to keep and read.
type State struct {
	Sessions chat.Collection
	ActiveID string
	// Generating is true while a reply streams into GeneratingID.
	Generating   bool
	GeneratingID string
}

// Active returns the selected session.
func (st State) Active() (chat.Session, bool) {
	return st.Sessions.Get(st.ActiveID)
}

// SessionMeta is a lightweight representation for listing.
type SessionMeta struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Messages int    `json:"messages"`
	Active   bool   `json:"active"`
}

// Metas summarises every session in collection order.
func (st State) Metas() []SessionMeta {
	metas := make([]SessionMeta, 0, len(st.Sessions))
	for _, s := range st.Sessions {
		metas = append(metas, SessionMeta{
			ID:       s.ID,
			Title:    s.Title,
			Messages: len(s.Messages),
			Active:   s.ID == st.ActiveID,
		})
	}
	return metas
}
