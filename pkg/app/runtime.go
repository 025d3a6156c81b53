package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dyike/quorumtrade/config"
	"github.com/dyike/quorumtrade/internal/pipeline"
)

type EngineBuilder func(config.Config) (*Engine, error)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

// WithNotifier receives "engine.reloaded" and "engine.reload_failed" events
// with a JSON payload.
func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

// WithoutWatch disables reloading on config file changes.
func WithoutWatch() Option {
	return func(r *Runtime) { r.watch = false }
}

// Runtime keeps the current engine and rebuilds it whenever the config file
// changes. A failed rebuild keeps the previous engine.
type Runtime struct {
	cfgMgr *config.Manager
	engine atomic.Pointer[Engine]

	builder EngineBuilder
	notify  func(string, string)
	watch   bool
	cancel  context.CancelFunc
}

func NewRuntime(cfgMgr *config.Manager, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	rt := &Runtime{
		cfgMgr:  cfgMgr,
		builder: BuildEngine,
		watch:   true,
	}
	for _, opt := range opts {
		opt(rt)
	}

	if err := rt.reload(cfgMgr.Get()); err != nil {
		return nil, err
	}
	if !rt.watch {
		return rt, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	if err := cfgMgr.Watch(ctx, rt.onConfigChange); err != nil {
		cancel()
		rt.closeEngine(rt.engine.Swap(nil))
		return nil, err
	}

	return rt, nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

// Source hands the supervisor whichever engine is current at the start of
// each cycle.
func (r *Runtime) Source() pipeline.RunnerSource {
	return func() pipeline.CycleRunner {
		if e := r.engine.Load(); e != nil {
			return e
		}
		return nil
	}
}

func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.closeEngine(r.engine.Swap(nil))
}

func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.UpdateFromJSON(jsonStr)
}

// onConfigChange rebuilds the engine for any changed section. Storage never
// shows up here while running; the manager holds it until restart.
func (r *Runtime) onConfigChange(ch config.Change) {
	log.Info().Strs("sections", ch.Names()).Msg("config changed, rebuilding engine")
	if err := r.reload(ch.Current); err != nil {
		log.Error().Err(err).Msg("engine reload failed, keeping the previous engine")
	}
}

func (r *Runtime) reload(cfg config.Config) error {
	engine, err := r.builder(cfg)
	if err != nil {
		r.notifyFailure(err)
		return err
	}
	if old := r.engine.Swap(engine); old != nil {
		// Close blocks until a cycle still running on old finishes.
		go r.closeEngine(old)
	}
	r.notifySuccess(engine)
	return nil
}

func (r *Runtime) closeEngine(e *Engine) {
	if e == nil {
		return
	}
	if err := e.Close(); err != nil {
		log.Warn().Err(err).Uint64("version", e.Version).Msg("close engine")
	}
}

func (r *Runtime) notifySuccess(engine *Engine) {
	log.Info().Uint64("version", engine.Version).Msg("engine ready")
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"version":  engine.Version,
		"mode":     engine.Mode,
		"built_at": engine.BuiltAt.UTC().Format(time.RFC3339),
	})
	r.notify("engine.reloaded", string(payload))
}

func (r *Runtime) notifyFailure(err error) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	r.notify("engine.reload_failed", string(payload))
}
