package session

import (
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/askme/internal/stream"
)

// LoggerObserver writes store activity to a zap logger.
type LoggerObserver struct{ L *zap.Logger }

func (o LoggerObserver) OnStateChanged(st State) {
	o.L.Debug("state changed",
		zap.Int("sessions", len(st.Sessions)),
		zap.String("active", st.ActiveID),
		zap.Bool("generating", st.Generating),
	)
}

// OnFragment logs the fragment size, never its text.
func (o LoggerObserver) OnFragment(sessionID, fragment string) {
	o.L.Debug("fragment applied", zap.String("session", sessionID), zap.Int("bytes", len(fragment)))
}

func (o LoggerObserver) OnGenerationDone(sessionID string, outcome stream.Outcome) {
	switch outcome.Kind {
	case stream.Failed:
		o.L.Warn("generation failed",
			zap.String("session", sessionID),
			zap.String("reason", outcome.Reason),
			zap.Error(outcome.Err),
		)
	case stream.Aborted:
		o.L.Info("generation aborted", zap.String("session", sessionID))
	default:
		o.L.Info("generation completed", zap.String("session", sessionID))
	}
}
