package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Section is a top-level block of the config file.
type Section string

const (
	SectionMarkets   Section = "markets"
	SectionLLM       Section = "llm"
	SectionExchange  Section = "upbit"
	SectionNotify    Section = "notify"
	SectionTrading   Section = "trading"
	SectionAdmission Section = "admission"
	SectionStorage   Section = "storage"
	SectionDebug     Section = "debug"
)

// Diff lists the sections that differ between a and b, in file order.
func Diff(a, b Config) []Section {
	var out []Section
	mark := func(s Section, changed bool) {
		if changed {
			out = append(out, s)
		}
	}
	mark(SectionDebug, a.Debug != b.Debug || a.EinoDebug != b.EinoDebug)
	mark(SectionMarkets, !reflect.DeepEqual(a.Markets, b.Markets))
	mark(SectionLLM, a.LLM != b.LLM)
	mark(SectionExchange, a.Upbit != b.Upbit)
	mark(SectionNotify, a.Telegram != b.Telegram || a.Discord != b.Discord)
	mark(SectionTrading, a.Trading != b.Trading)
	mark(SectionAdmission, a.Admission != b.Admission)
	mark(SectionStorage, a.Storage != b.Storage || a.DataDir != b.DataDir)
	return out
}

// Change is handed to the watcher each time the active config moves.
type Change struct {
	Previous Config
	Current  Config
	Sections []Section
}

func (c Change) Has(s Section) bool { return slices.Contains(c.Sections, s) }

func (c Change) Names() []string {
	out := make([]string, len(c.Sections))
	for i, s := range c.Sections {
		out[i] = string(s)
	}
	return out
}

// Manager owns the config file of a running process. Once Watch is called the
// storage section is pinned: the ledger a process writes to does not move
// under it, so storage edits are saved but take effect on the next start.
type Manager struct {
	path     string
	debounce time.Duration

	mu       sync.RWMutex
	cfg      Config
	digest   [sha256.Size]byte
	onChange func(Change)
	watching bool
}

type managerOptions struct {
	configPath    string
	initialConfig *Config
	debounce      time.Duration
}

type ManagerOption func(*managerOptions)

// WithConfigPath picks the file. The extension selects YAML (.yaml, .yml) or
// JSON.
func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.configPath = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithInitialConfig seeds the file when it does not exist yet.
func WithInitialConfig(cfg *Config) ManagerOption {
	return func(o *managerOptions) {
		o.initialConfig = cfg
	}
}

// NewManager loads the config file, creating it from the initial config or
// the defaults when it is missing.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	options := managerOptions{debounce: 300 * time.Millisecond}
	for _, opt := range opts {
		opt(&options)
	}
	path := options.configPath
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	m := &Manager{path: path, debounce: options.debounce}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err := parse(path, data)
		if err != nil {
			return nil, err
		}
		m.cfg, m.digest = cfg, sha256.Sum256(data)
		return m, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := *DefaultConfigWithRoot(filepath.Dir(path))
	if options.initialConfig != nil {
		cfg = *options.initialConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if data, err = encode(path, cfg); err != nil {
		return nil, err
	}
	if err := writeAtomic(path, data); err != nil {
		return nil, fmt.Errorf("write initial config: %w", err)
	}
	m.cfg, m.digest = cfg, sha256.Sum256(data)
	return m, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Path() string { return m.path }

// UpdateFromJSON overlays a partial or full JSON document on the active
// config.
func (m *Manager) UpdateFromJSON(jsonStr string) error {
	cfg := m.Get()
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return fmt.Errorf("parse config json: %w", err)
	}
	return m.Update(cfg)
}

// Update validates cfg, writes it to disk and applies it.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := encode(m.path, cfg)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(data)

	// Holding the lock across the write keeps the watcher from reading the
	// file before its digest is recorded.
	m.mu.Lock()
	if digest == m.digest {
		m.mu.Unlock()
		return nil
	}
	if err := writeAtomic(m.path, data); err != nil {
		m.mu.Unlock()
		return err
	}
	cb, change := m.applyLocked(cfg, digest)
	m.mu.Unlock()
	notifyChange(cb, change)
	return nil
}

// Watch applies external edits of the file until ctx is done. Edits are
// debounced, and invalid files are logged and ignored.
func (m *Manager) Watch(ctx context.Context, onChange func(Change)) error {
	m.mu.Lock()
	m.onChange = onChange
	if m.watching {
		m.mu.Unlock()
		return nil
	}
	m.watching = true
	m.mu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err == nil {
		// Editors replace the file on save, so the directory is watched.
		if err = w.Add(filepath.Dir(m.path)); err != nil {
			w.Close()
			err = fmt.Errorf("watch config dir: %w", err)
		}
	}
	if err != nil {
		m.mu.Lock()
		m.watching = false
		m.mu.Unlock()
		return err
	}
	go m.watch(ctx, w)
	return nil
}

func (m *Manager) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	timer := time.NewTimer(m.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != m.path || !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(m.debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		case <-timer.C:
			m.reload()
		}
	}
}

func (m *Manager) reload() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", m.path).Msg("config file removed, keeping the active config")
			return
		}
		log.Error().Err(err).Str("path", m.path).Msg("config reload failed")
		return
	}
	digest := sha256.Sum256(data)
	m.mu.RLock()
	same := digest == m.digest
	m.mu.RUnlock()
	if same {
		return
	}

	cfg, err := parse(m.path, data)
	if err != nil {
		log.Warn().Err(err).Str("path", m.path).Msg("config reload rejected")
		return
	}
	log.Info().Str("path", m.path).Msg("config file changed")
	m.apply(cfg, digest)
}

func (m *Manager) apply(cfg Config, digest [sha256.Size]byte) {
	m.mu.Lock()
	cb, change := m.applyLocked(cfg, digest)
	m.mu.Unlock()
	notifyChange(cb, change)
}

func (m *Manager) applyLocked(cfg Config, digest [sha256.Size]byte) (func(Change), Change) {
	prev := m.cfg
	if m.watching && (cfg.Storage != prev.Storage || cfg.DataDir != prev.DataDir) {
		log.Warn().
			Str("driver", cfg.Storage.Driver).
			Str("path", cfg.Storage.Path).
			Msg("storage settings saved; they take effect on restart")
		cfg.Storage, cfg.DataDir = prev.Storage, prev.DataDir
	}
	m.cfg, m.digest = cfg, digest
	return m.onChange, Change{Previous: prev, Current: cfg, Sections: Diff(prev, cfg)}
}

func notifyChange(cb func(Change), change Change) {
	if cb != nil && len(change.Sections) > 0 {
		cb(change)
	}
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "quorumtrade", "config.yaml"), nil
}

// parse decodes data over the defaults and validates the result.
func parse(path string, data []byte) (Config, error) {
	cfg := defaults(filepath.Dir(path))
	if err := decode(path, data, cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return *cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml %s: %w", path, err)
		}
		return nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse json %s: %w", path, err)
	}
	return nil
}

func encode(path string, cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	if isYAML(path) {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, fmt.Errorf("encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode config: %w", err)
		}
		return buf.Bytes(), nil
	}
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// writeAtomic replaces path through a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
