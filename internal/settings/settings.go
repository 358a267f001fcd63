package settings

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const DefaultAutoUpdateIntervalHours = 6

// Settings holds the mutable runtime configuration: the keyed-carrier
// credential, the auto-update interval and the per-carrier last-update
// stamps. Setters persist immediately; a failed write is logged, not
// propagated, so a read-only disk never breaks refreshes.
type Settings struct {
	path string

	mu   sync.RWMutex
	data fileData
}

type fileData struct {
	DoarAPIKey              string `json:"doar_api_key,omitempty"`
	AutoUpdateIntervalHours int    `json:"auto_update_interval_hours,omitempty"`
	CainiaoLastUpdate       string `json:"cainiao_last_update,omitempty"`
	DoarLastUpdate          string `json:"doar_last_update,omitempty"`
}

// Load reads the settings file; a missing file starts with defaults.
func Load(path string) (*Settings, error) {
	s := &Settings{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read settings file")
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		return nil, errors.Wrap(err, "parse settings file")
	}
	return s, nil
}

func (s *Settings) DoarAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DoarAPIKey
}

func (s *Settings) SetDoarAPIKey(key string) {
	s.mu.Lock()
	s.data.DoarAPIKey = key
	s.saveLocked()
	s.mu.Unlock()
}

// AutoUpdateIntervalHours is read fresh on every reschedule; changing it
// takes effect on the next timer arm.
func (s *Settings) AutoUpdateIntervalHours() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.AutoUpdateIntervalHours < 1 {
		return DefaultAutoUpdateIntervalHours
	}
	return s.data.AutoUpdateIntervalHours
}

func (s *Settings) SetAutoUpdateIntervalHours(hours int) {
	s.mu.Lock()
	s.data.AutoUpdateIntervalHours = hours
	s.saveLocked()
	s.mu.Unlock()
}

func (s *Settings) CainiaoLastUpdate() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return parseStamp(s.data.CainiaoLastUpdate)
}

func (s *Settings) SetCainiaoLastUpdate(t time.Time) {
	s.mu.Lock()
	s.data.CainiaoLastUpdate = t.Format(time.RFC3339)
	s.saveLocked()
	s.mu.Unlock()
}

func (s *Settings) DoarLastUpdate() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return parseStamp(s.data.DoarLastUpdate)
}

func (s *Settings) SetDoarLastUpdate(t time.Time) {
	s.mu.Lock()
	s.data.DoarLastUpdate = t.Format(time.RFC3339)
	s.saveLocked()
	s.mu.Unlock()
}

func (s *Settings) saveLocked() {
	data, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		slog.Error("marshal settings", "error", err.Error())
		return
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		slog.Error("write settings file", "path", s.path, "error", err.Error())
	}
}

func parseStamp(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
