// Package netpolicy decides when background sync is allowed to run, based
// on current connectivity and the user's persisted sync settings.
package netpolicy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/storyweave/offline/internal/storage"
)

// SettingsKey is the storage key for persisted sync settings.
const SettingsKey = "sync_settings"

// ConnectionType classifies the active network transport.
type ConnectionType string

// Connection types
const (
	TypeWifi     ConnectionType = "wifi"
	TypeCellular ConnectionType = "cellular"
	TypeEthernet ConnectionType = "ethernet"
	TypeNone     ConnectionType = "none"
	TypeUnknown  ConnectionType = "unknown"
)

// State is a snapshot of network connectivity.
type State struct {
	Type                ConnectionType `json:"type"`
	IsConnected         bool           `json:"is_connected"`
	IsInternetReachable bool           `json:"is_internet_reachable"`
}

// Disconnected is the definite offline state reported when the underlying
// connectivity provider fails.
var Disconnected = State{Type: TypeNone}

// Monitor is the connectivity provider collaborator.
type Monitor interface {
	// State returns the current connectivity snapshot.
	State(ctx context.Context) (State, error)
	// Subscribe registers fn for connectivity changes and returns an
	// unsubscribe function.
	Subscribe(fn func(State)) (unsubscribe func())
}

// Settings are the user's sync preferences.
type Settings struct {
	AutoDownloadEnabled bool `json:"auto_download_enabled"`
	AllowCellular       bool `json:"allow_cellular"`
}

// DefaultSettings enables auto-download on non-metered connections only.
func DefaultSettings() Settings {
	return Settings{AutoDownloadEnabled: true, AllowCellular: false}
}

// Policy answers sync/no-sync questions from connectivity and settings.
type Policy struct {
	store   storage.BlobStore
	monitor Monitor
}

// New creates a policy reading settings from store and connectivity from
// monitor.
func New(store storage.BlobStore, monitor Monitor) *Policy {
	return &Policy{store: store, monitor: monitor}
}

// NetworkState returns the current connectivity snapshot. A provider
// failure is reported as a definite disconnected state, never an error, so
// callers can always make a sync decision.
func (p *Policy) NetworkState(ctx context.Context) State {
	state, err := p.monitor.State(ctx)
	if err != nil {
		return Disconnected
	}
	return state
}

// Subscribe forwards connectivity changes verbatim to fn.
func (p *Policy) Subscribe(fn func(State)) (unsubscribe func()) {
	return p.monitor.Subscribe(fn)
}

// LoadSettings reads persisted settings; an absent key yields the defaults.
func (p *Policy) LoadSettings() (Settings, error) {
	raw, err := p.store.Get(SettingsKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("load sync settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("decode sync settings: %w", err)
	}
	return s, nil
}

// SaveSettings persists settings.
func (p *Policy) SaveSettings(s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sync settings: %w", err)
	}
	if err := p.store.Set(SettingsKey, raw); err != nil {
		return fmt.Errorf("save sync settings: %w", err)
	}
	return nil
}

// ShouldSync reads persisted settings and reports whether background sync
// may run right now.
func (p *Policy) ShouldSync(ctx context.Context) (bool, error) {
	settings, err := p.LoadSettings()
	if err != nil {
		return false, err
	}
	return p.ShouldSyncWithSettings(ctx, settings), nil
}

// ShouldSyncWithSettings applies the sync predicate to a settings snapshot
// the caller already holds, avoiding a second storage read.
func (p *Policy) ShouldSyncWithSettings(ctx context.Context, settings Settings) bool {
	if !settings.AutoDownloadEnabled {
		return false
	}
	state := p.NetworkState(ctx)
	if !state.IsConnected {
		return false
	}
	if state.Type == TypeCellular && !settings.AllowCellular {
		return false
	}
	return true
}
