package chat

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Role represents the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// roleModel is the name older snapshots used for assistant turns.
	roleModel Role = "model"
)

const (
	// Greeting seeds every new session.
	Greeting = "Hello! I'm your advanced AI assistant. How can I assist you today?"
	// PlaceholderTitle is shown until the first user message arrives.
	PlaceholderTitle = "New Conversation"
	// ErrorNotice is the assistant-authored text shown when a generation fails.
	ErrorNotice = "An error occurred. Please try again."
	// TitleLength is the number of characters of the first user message kept as title.
	TitleLength = 40
)

// StarterPrompts are offered while a session only holds its greeting.
var StarterPrompts = []string{
	"Write a python script to sort a list",
	"Explain quantum computing in simple terms",
	"What are the main differences between React and Vue?",
}

// Valid reports whether r is a role the store accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole converts a stored role name, accepting the legacy "model" as assistant.
func ParseRole(s string) (Role, error) {
	role := Role(s)
	if role == roleModel {
		role = RoleAssistant
	}
	if !role.Valid() {
		return "", fmt.Errorf("invalid message role: %q", s)
	}
	return role, nil
}

// UnmarshalJSON decodes a role through ParseRole.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	role, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Message is one turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Validate checks if the Message is valid.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	return nil
}

// Session is one conversation thread.
type Session struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// NewSession returns a session seeded with the assistant greeting.
func NewSession(id string) Session {
	return Session{
		ID:       id,
		Title:    PlaceholderTitle,
		Messages: []Message{{Role: RoleAssistant, Content: Greeting}},
	}
}

// HasUserMessage reports whether the user has spoken in this session.
func (s Session) HasUserMessage() bool {
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// OnlyGreeting reports whether nothing but the seed message exists.
func (s Session) OnlyGreeting() bool {
	return len(s.Messages) <= 1
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	s.Messages = slices.Clone(s.Messages)
	return s
}

// DeriveTitle returns the first TitleLength characters of text.
func DeriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) > TitleLength {
		runes = runes[:TitleLength]
	}
	return string(runes)
}

// Collection holds sessions ordered by recency of creation, newest first.
type Collection []Session

// Index returns the position of id, or -1.
func (c Collection) Index(id string) int {
	return slices.IndexFunc(c, func(s Session) bool { return s.ID == id })
}

// Get returns the session with the given id.
func (c Collection) Get(id string) (Session, bool) {
	if i := c.Index(id); i >= 0 {
		return c[i], true
	}
	return Session{}, false
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	for i, s := range c {
		out[i] = s.Clone()
	}
	return out
}

// Validate checks every session for an id and at least one well-formed message.
func (c Collection) Validate() error {
	seen := make(map[string]bool, len(c))
	for _, s := range c {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("session without id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate session id %s", s.ID)
		}
		seen[s.ID] = true
		if len(s.Messages) == 0 {
			return fmt.Errorf("session %s has no messages", s.ID)
		}
		for _, m := range s.Messages {
			if err := m.Validate(); err != nil {
				return fmt.Errorf("session %s: %w", s.ID, err)
			}
		}
	}
	return nil
}
