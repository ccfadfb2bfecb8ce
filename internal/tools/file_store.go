package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

const (
	// ConfigFileName is the enabled/disabled map inside the tools directory.
	ConfigFileName = "tools_config.json"

	// ScriptExt is the extension of tool script sources.
	ScriptExt = ".star"
)

type toolConfigEntry struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// FileStore keeps definitions in a directory: tools_config.json maps names to
// {"enabled": bool} and <name>.star holds script sources. Names listed in the
// config without a script resolve to built-in implementations. Script files
// not listed in the config are ignored.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("tools dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tools dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) LoadAll(ctx context.Context) ([]Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.readConfig()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		def, err := s.definition(name, cfg[name])
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (s *FileStore) Get(ctx context.Context, name string) (Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.readConfig()
	if err != nil {
		return Definition{}, err
	}
	entry, ok := cfg[name]
	if !ok {
		return Definition{}, ErrNotFound
	}
	return s.definition(name, entry)
}

func (s *FileStore) Put(ctx context.Context, def Definition) error {
	if err := ValidateName(def.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	scriptPath := s.scriptPath(def.Name)
	if def.Source != "" {
		if err := writeFileAtomic(scriptPath, []byte(def.Source)); err != nil {
			return fmt.Errorf("write tool source: %w", err)
		}
	} else if err := os.Remove(scriptPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove tool source: %w", err)
	}

	cfg, err := s.readConfig()
	if err != nil {
		return err
	}
	enabled := def.Enabled
	cfg[def.Name] = toolConfigEntry{Enabled: &enabled}
	return s.writeConfig(cfg)
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidateName(name); err == nil {
		if err := os.Remove(s.scriptPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove tool source: %w", err)
		}
	}
	cfg, err := s.readConfig()
	if err != nil {
		return err
	}
	if _, ok := cfg[name]; !ok {
		return nil
	}
	delete(cfg, name)
	return s.writeConfig(cfg)
}

func (s *FileStore) definition(name string, entry toolConfigEntry) (Definition, error) {
	def := Definition{Name: name, Enabled: entry.Enabled == nil || *entry.Enabled}
	if ValidateName(name) != nil {
		return def, nil
	}
	data, err := os.ReadFile(s.scriptPath(name))
	switch {
	case err == nil:
		def.Source = string(data)
	case errors.Is(err, os.ErrNotExist):
	default:
		return Definition{}, fmt.Errorf("read tool source %s: %w", name, err)
	}
	return def, nil
}

func (s *FileStore) readConfig() (map[string]toolConfigEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, ConfigFileName))
	if errors.Is(err, os.ErrNotExist) {
		return map[string]toolConfigEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ConfigFileName, err)
	}
	cfg := map[string]toolConfigEntry{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ConfigFileName, err)
	}
	return cfg, nil
}

func (s *FileStore) writeConfig(cfg map[string]toolConfigEntry) error {
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", ConfigFileName, err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, ConfigFileName), append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", ConfigFileName, err)
	}
	return nil
}

func (s *FileStore) scriptPath(name string) string {
	return filepath.Join(s.dir, name+ScriptExt)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
