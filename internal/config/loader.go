package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/kagenti/mcp-gateway/internal/httptools"
	"github.com/kagenti/mcp-gateway/internal/localstdio"
	"github.com/kagenti/mcp-gateway/internal/openapitools"
	"github.com/spf13/viper"
)

// State is an immutable snapshot of everything a running Adapter or Gateway
// needs to route traffic: every configured Profile and Upstream, validated
// against each other, plus the declarative local tool sources profiles may
// reference by id.
type State struct {
	Profiles       []*Profile
	Upstreams      map[string]*Upstream
	HTTPSources    map[string]httptools.ServerConfig
	OpenAPISources map[string]openapitools.ServerConfig
	StdioSources   map[string]localstdio.ServerConfig
}

// ProfileByID finds a profile by id, or nil if none matches.
func (s *State) ProfileByID(id string) *Profile {
	for _, p := range s.Profiles {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// StateObserver is notified whenever the Loader picks up a new, validated
// State — the config-layer twin of the teacher's Observer interface.
type StateObserver interface {
	OnStateChange(ctx context.Context, state *State)
}

// Loader reads a profiles/upstreams config file with viper and re-reads it
// on every change fsnotify reports, the same hot-reload shape the teacher's
// cmd/mcp-broker-router LoadConfig/viper.WatchConfig/OnConfigChange wires
// up, generalized from a single flat MCPServersConfig to the Gateway's
// many-profile model and to data validated against itself (self-loops,
// name uniqueness) rather than accepted as-is.
type Loader struct {
	path           string
	gatewayBaseURL string
	logger         *slog.Logger

	mu        sync.RWMutex
	state     *State
	observers []StateObserver
}

// NewLoader constructs a Loader for the config file at path. gatewayBaseURL
// is used to detect upstream self-loops (spec.md §3); pass "" to skip that
// check (e.g. when the gateway's externally-reachable URL isn't known yet).
func NewLoader(path, gatewayBaseURL string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, gatewayBaseURL: gatewayBaseURL, logger: logger}
}

// RegisterObserver adds obs to the set notified on every successful reload.
func (l *Loader) RegisterObserver(obs StateObserver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, obs)
}

// State returns the most recently loaded, validated config snapshot.
func (l *Loader) State() *State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// rawFile is the on-disk shape: profiles and upstreams side by side, the
// way the teacher's config file lists "servers" and "virtualServers"
// side by side.
type rawFile struct {
	Profiles       []*Profile                           `mapstructure:"profiles"`
	Upstreams      []*Upstream                           `mapstructure:"upstreams"`
	HTTPSources    map[string]httptools.ServerConfig     `mapstructure:"httpSources"`
	OpenAPISources map[string]openapitools.ServerConfig  `mapstructure:"openapiSources"`
	StdioSources   map[string]localstdio.ServerConfig    `mapstructure:"stdioSources"`
}

// Load reads and validates the config file once, without touching the
// stored state or notifying observers — useful for a fail-fast check at
// startup before Start takes over.
func (l *Loader) Load() (*State, error) {
	v := viper.New()
	v.SetConfigFile(l.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %q: %w", l.path, err)
	}
	var raw rawFile
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", l.path, err)
	}

	upstreams := make(map[string]*Upstream, len(raw.Upstreams))
	for _, up := range raw.Upstreams {
		upstreams[up.ID] = up
	}
	for _, p := range raw.Profiles {
		if err := p.Validate(raw.Profiles, l.gatewayBaseURL, upstreams); err != nil {
			return nil, err
		}
	}
	return &State{
		Profiles:       raw.Profiles,
		Upstreams:      upstreams,
		HTTPSources:    raw.HTTPSources,
		OpenAPISources: raw.OpenAPISources,
		StdioSources:   raw.StdioSources,
	}, nil
}

// Start performs the initial Load, stores it, and begins watching the file
// for changes via viper's fsnotify integration — mirroring the teacher's
// viper.WatchConfig()/viper.OnConfigChange(func(fsnotify.Event)) pair, but
// scoped to this Loader's own viper.Viper instance rather than the package
// global the teacher used, so an Adapter and a Gateway in the same process
// (e.g. under test) don't fight over one watched file.
func (l *Loader) Start(ctx context.Context) error {
	state, err := l.Load()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()

	v := viper.New()
	v.SetConfigFile(l.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %q: %w", l.path, err)
	}
	v.OnConfigChange(func(in fsnotify.Event) {
		l.logger.Info("config file changed, reloading", "path", in.Name)
		next, err := l.Load()
		if err != nil {
			l.logger.Error("config reload failed, keeping previous state", "error", err)
			return
		}
		l.mu.Lock()
		l.state = next
		observers := append([]StateObserver(nil), l.observers...)
		l.mu.Unlock()
		for _, obs := range observers {
			go obs.OnStateChange(ctx, next)
		}
	})
	v.WatchConfig()
	return nil
}
