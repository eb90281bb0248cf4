// Package prefs persists device-local settings that are not part of the
// anchor log, such as the camera filename prefix.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const (
	// FileName is the settings file written next to the config.
	FileName = "fieldsync.prefs.json"

	// DefaultPrefix is the camera filename prefix used until one is saved.
	DefaultPrefix = "DSC_"

	keyPrefix = "filenamePrefix"
)

// Store reads and writes settings in a JSON file. Its viper instance is
// private so it never mixes with the application config.
type Store struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// Open loads the settings in dir. A missing file is not an error: the
// defaults apply and the file is created on the first write.
func Open(dir string) (*Store, error) {
	v := viper.New()
	v.SetDefault(keyPrefix, DefaultPrefix)
	v.SetConfigType("json")

	path := filepath.Join(dir, FileName)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading prefs file: %w", err)
			}
		}
	}

	return &Store{v: v, path: path}, nil
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Prefix returns the filename prefix.
func (s *Store) Prefix() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString(keyPrefix)
}

// SetPrefix saves a new filename prefix. Surrounding whitespace is dropped;
// an empty prefix is allowed and means labels are the digits alone.
func (s *Store) SetPrefix(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(keyPrefix, strings.TrimSpace(prefix))
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("error creating prefs dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("error writing prefs file: %w", err)
	}
	return nil
}
