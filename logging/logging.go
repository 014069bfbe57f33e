// Package logging provides application-wide logging configuration and an
// adapter for the per-package Logger interfaces used across researchcore.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger.
func Init(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}

// Adapter bridges zerolog to the keysAndValues-style Logger interfaces
// declared by the consuming packages.
type Adapter struct {
	l zerolog.Logger
}

// New returns an Adapter over the global logger tagged with a component name.
func New(component string) *Adapter {
	return &Adapter{l: log.With().Str("component", component).Logger()}
}

func (a *Adapter) Debug(msg string, keysAndValues ...any) {
	a.event(a.l.Debug(), keysAndValues).Msg(msg)
}

func (a *Adapter) Info(msg string, keysAndValues ...any) {
	a.event(a.l.Info(), keysAndValues).Msg(msg)
}

func (a *Adapter) Warn(msg string, keysAndValues ...any) {
	a.event(a.l.Warn(), keysAndValues).Msg(msg)
}

func (a *Adapter) Error(msg string, keysAndValues ...any) {
	a.event(a.l.Error(), keysAndValues).Msg(msg)
}

func (a *Adapter) event(e *zerolog.Event, keysAndValues []any) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, keysAndValues[i+1])
	}
	return e
}

// Nop is a Logger that discards everything.
type Nop struct{}

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
