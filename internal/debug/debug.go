// Package debug starts the eino visual debugging server and installs the
// run logging callback.
package debug

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/devops"
	"github.com/rs/zerolog/log"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/llm"
)

// DevopsURL is where devops.Init serves by default.
const DevopsURL = "http://localhost:52538"

var (
	once    sync.Once
	initErr error

	// initDevops is swapped in tests.
	initDevops = func(ctx context.Context) error { return devops.Init(ctx) }
)

// Init enables whatever debugging cfg asks for. It is safe to call again on a
// config reload; the global handlers are only installed once per process.
func Init(ctx context.Context, cfg config.Config) error {
	if !cfg.Debug && !cfg.EinoDebug {
		return nil
	}
	once.Do(func() {
		if cfg.Debug {
			llm.RegisterLogging()
		}
		if !cfg.EinoDebug {
			return
		}
		if err := initDevops(ctx); err != nil {
			initErr = fmt.Errorf("init eino devops: %w", err)
			return
		}
		log.Info().Str("url", DevopsURL).Msg("eino debug server started")
	})
	return initErr
}
