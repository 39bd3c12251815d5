// Package pixel abstracts the browser-side advertising pixel. The real
// sink is the platform's fbq script running in the page; server-side code
// talks to whatever bridge forwards calls there, and tests substitute a spy.
package pixel

import "go.uber.org/zap"

// Commands accepted by the pixel.
const (
	CommandTrackCustom = "trackCustom"
	CommandInit        = "init"
	CommandTrack       = "track"
)

// Pixel is the fire-and-forget browser pixel call. No return value is
// consumed; delivery is best effort.
type Pixel interface {
	Fire(command, eventName string, params, userData map[string]any)
}

// Func adapts a function to the Pixel interface.
type Func func(command, eventName string, params, userData map[string]any)

// Fire calls f.
func (f Func) Fire(command, eventName string, params, userData map[string]any) {
	f(command, eventName, params, userData)
}

// Logger is a Pixel that records calls to the log. It stands in when no
// browser bridge is attached (CLI runs, staging smoke tests).
type Logger struct {
	log *zap.Logger
}

// NewLogger creates a logging pixel sink.
func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.L()
	}
	return &Logger{log: log}
}

// Fire logs the pixel call.
func (l *Logger) Fire(command, eventName string, params, userData map[string]any) {
	l.log.Info("pixel fire",
		zap.String("command", command),
		zap.String("event", eventName),
		zap.Int("params", len(params)),
		zap.Int("user_data_fields", len(userData)),
	)
}

// Init boots the pixel: an init call with the pixel id followed by the
// standard PageView track.
func Init(p Pixel, pixelID string) {
	if pixelID == "" {
		return
	}
	p.Fire(CommandInit, pixelID, nil, nil)
	p.Fire(CommandTrack, "PageView", nil, nil)
}
