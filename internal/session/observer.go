package session

import (
	"github.com/ChamsBouzaiene/askme/internal/stream"
)

// Observer receives store notifications. Calls happen outside the store lock,
// so an observer may call back into the store.
type Observer interface {
	OnStateChanged(st State)
	OnFragment(sessionID, fragment string)
	OnGenerationDone(sessionID string, outcome stream.Outcome)
}

// NopObserver lets you implement only the callbacks you need.
type NopObserver struct{}

func (NopObserver) OnStateChanged(State)                    {}
func (NopObserver) OnFragment(string, string)               {}
func (NopObserver) OnGenerationDone(string, stream.Outcome) {}

// Observers fans every notification out in order.
type Observers []Observer

func (obs Observers) OnStateChanged(st State) {
	for _, o := range obs {
		o.OnStateChanged(st)
	}
}
func (obs Observers) OnFragment(sessionID, fragment string) {
	for _, o := range obs {
		o.OnFragment(sessionID, fragment)
	}
}
func (obs Observers) OnGenerationDone(sessionID string, outcome stream.Outcome) {
	for _, o := range obs {
		o.OnGenerationDone(sessionID, outcome)
	}
}

// ObserverFuncs adapts plain functions; nil fields are skipped.
type ObserverFuncs struct {
	StateChanged   func(State)
	Fragment       func(sessionID, fragment string)
	GenerationDone func(sessionID string, outcome stream.Outcome)
}

func (f ObserverFuncs) OnStateChanged(st State) {
	if f.StateChanged != nil {
		f.StateChanged(st)
	}
}
func (f ObserverFuncs) OnFragment(sessionID, fragment string) {
	if f.Fragment != nil {
		f.Fragment(sessionID, fragment)
	}
}
func (f ObserverFuncs) OnGenerationDone(sessionID string, outcome stream.Outcome) {
	if f.GenerationDone != nil {
		f.GenerationDone(sessionID, outcome)
	}
}
