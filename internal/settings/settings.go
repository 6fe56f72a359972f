// Package settings persists the few values an operator edits at runtime. The
// file lives in the game directory so it survives container rebuilds.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Mask replaces a configured secret in views. Sending it back unchanged keeps
// the stored value.
const Mask = "***"

const DefaultDownloaderURL = "https://downloader.hytale.com/hytale-downloader.zip"

const (
	keyCFAPIKey      = "cf_api_key"
	keyDownloaderURL = "downloader_url"
)

// Settings are the stored values.
type Settings struct {
	CFAPIKey      string `mapstructure:"cf_api_key"`
	DownloaderURL string `mapstructure:"downloader_url"`
}

// View is what clients see; the API key never leaves the process.
type View struct {
	CFAPIKey      string `json:"cf_api_key"`
	CFAPIKeySet   bool   `json:"cf_api_key_set"`
	DownloaderURL string `json:"downloader_url"`
}

// Update carries the fields a client wants to change; nil means unchanged.
type Update struct {
	CFAPIKey      *string `json:"cf_api_key"`
	DownloaderURL *string `json:"downloader_url"`
}

// Masked hides the API key.
func (s Settings) Masked() View {
	v := View{CFAPIKeySet: s.CFAPIKey != "", DownloaderURL: s.DownloaderURL}
	if v.CFAPIKeySet {
		v.CFAPIKey = Mask
	}
	return v
}

// Store reads and writes the settings file. Defaults come from CF_API_KEY and
// HYTALE_DOWNLOADER_URL; values in the file win.
type Store struct {
	path     string
	defaults Settings
	mu       sync.Mutex
}

func NewStore(path string) *Store {
	d := Settings{
		CFAPIKey:      os.Getenv("CF_API_KEY"),
		DownloaderURL: os.Getenv("HYTALE_DOWNLOADER_URL"),
	}
	if d.DownloaderURL == "" {
		d.DownloaderURL = DefaultDownloaderURL
	}
	return &Store{path: path, defaults: d}
}

func (s *Store) Path() string { return s.path }

func (s *Store) open() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	v.SetDefault(keyCFAPIKey, s.defaults.CFAPIKey)
	v.SetDefault(keyDownloaderURL, s.defaults.DownloaderURL)
	return v
}

// read loads the file into v. A missing file is not an error; an unreadable
// or corrupt one is reported while v keeps the defaults.
func (s *Store) read(v *viper.Viper) error {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read settings %s: %w", s.path, err)
	}
	return nil
}

// Load returns the current settings. On error the defaults are returned with
// it so callers can keep serving.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.open()
	err := s.read(v)
	var out Settings
	if uerr := v.Unmarshal(&out); uerr != nil {
		return s.defaults, uerr
	}
	return out, err
}

// Apply merges u into the stored settings and writes the file.
func (s *Store) Apply(u Update) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.open()
	// A corrupt file is replaced rather than blocking every update.
	_ = s.read(v)

	if u.CFAPIKey != nil && *u.CFAPIKey != Mask {
		v.Set(keyCFAPIKey, *u.CFAPIKey)
	}
	if u.DownloaderURL != nil {
		v.Set(keyDownloaderURL, *u.DownloaderURL)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return Settings{}, fmt.Errorf("create settings dir: %w", err)
	}
	if err := v.WriteConfigAs(s.path); err != nil {
		return Settings{}, fmt.Errorf("write settings %s: %w", s.path, err)
	}
	var out Settings
	if err := v.Unmarshal(&out); err != nil {
		return Settings{}, err
	}
	return out, nil
}
