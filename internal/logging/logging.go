// Package logging builds the module's zerolog.Logger instances.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a logger at the given level (falling back to info on an
// unparseable level) tagged with component so the reconciler, store,
// and codec are distinguishable in a shared log stream.
func New(level, component string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Level(lvl)
}
