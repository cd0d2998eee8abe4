package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const reloadDebounce = 100 * time.Millisecond

// Loader reads the configuration file and, once Watch is called, reloads it
// whenever it changes on disk.
type Loader struct {
	path    string
	envFile string

	mu       sync.RWMutex
	config   *Config
	onChange []func(*Config)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithEnvFile names a dotenv file loaded before environment overrides are
// applied. Variables already present in the environment win. Default: ".env".
func WithEnvFile(path string) LoaderOption {
	return func(l *Loader) {
		l.envFile = path
	}
}

// NewLoader returns a Loader for the file at path. An empty path means
// defaults plus environment overrides.
func NewLoader(path string, opts ...LoaderOption) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		path:    path,
		envFile: ".env",
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads, overrides and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if _, err := os.Stat(l.envFile); err == nil {
			if err := godotenv.Load(l.envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", l.envFile, err)
			}
		}
	}

	cfg, err := l.read()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) read() (*Config, error) {
	cfg, err := loadFile(l.path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Config returns the most recently loaded configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(cb func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Watch starts watching the configuration file. The containing directory is
// watched so editors that replace the file are still seen.
func (l *Loader) Watch() error {
	if l.path == "" {
		return errors.New("no configuration file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = watcher

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case <-l.ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

func (l *Loader) reload() {
	cfg, err := l.read()
	if err != nil {
		// The previous configuration stays in force.
		slog.Warn("config reload rejected", "path", l.path, "error", err)
		return
	}

	l.mu.Lock()
	l.config = cfg
	callbacks := slices.Clone(l.onChange)
	l.mu.Unlock()

	slog.Info("config reloaded", "path", l.path)
	for _, cb := range callbacks {
		cb(cfg)
	}
}

// Close stops the watcher.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func loadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}
	return cfg, nil
}
