package config

import (
	"encoding/json"
	"os"
	"regexp"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/actiongate/actiongate/internal/permission"
)

// ServerConfig holds the HTTP/websocket listener settings.
type ServerConfig struct {
	Addr string `json:"addr,omitempty"`
}

// TaskConfig describes one predefined task runnable through the run_task
// action.
type TaskConfig struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
}

// File is the on-disk config shape. Permission values are strings here so a
// typo can be warned about instead of being silently dropped by the decoder.
type File struct {
	Schema            string                `json:"$schema,omitempty"`
	Server            ServerConfig          `json:"server,omitempty"`
	ApprovalTimeoutMs int64                 `json:"approval_timeout_ms,omitempty"`
	LogLevel          string                `json:"log_level,omitempty"`
	ProjectName       string                `json:"project_name,omitempty"`
	Permissions       map[string]string     `json:"permissions,omitempty"`
	Tasks             map[string]TaskConfig `json:"tasks,omitempty"`
}

// Config is the merged static configuration for one gateway instance.
// Permission overrides are deliberately NOT part of it: those are read fresh
// from disk on every resolution through the Store.
type Config struct {
	Addr            string
	ApprovalTimeout time.Duration
	LogLevel        string
	ProjectName     string
	WorkDir         string
	Tasks           map[string]TaskConfig
}

// DefaultAddr is the listener used when no config specifies one.
const DefaultAddr = "127.0.0.1:8000"

// Load merges the global file, the project files, and environment overrides
// into the static gateway configuration. Missing files are skipped.
func Load(directory string) (*Config, error) {
	cfg := &Config{
		Addr:            DefaultAddr,
		ApprovalTimeout: 0, // wait indefinitely unless configured
		WorkDir:         directory,
		Tasks:           map[string]TaskConfig{},
	}

	paths := append([]string{GlobalPath()}, ProjectPaths(directory)...)
	if p := os.Getenv("ACTIONGATE_CONFIG"); p != "" {
		paths = append(paths, p)
	}

	for _, path := range paths {
		file, err := readFile(path)
		if err != nil {
			continue
		}
		applyFile(cfg, file)
	}

	if addr := os.Getenv("ACTIONGATE_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if level := os.Getenv("ACTIONGATE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

func applyFile(cfg *Config, file *File) {
	if file.Server.Addr != "" {
		cfg.Addr = file.Server.Addr
	}
	if file.ApprovalTimeoutMs > 0 {
		cfg.ApprovalTimeout = time.Duration(file.ApprovalTimeoutMs) * time.Millisecond
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.ProjectName != "" {
		cfg.ProjectName = file.ProjectName
	}
	for name, task := range file.Tasks {
		cfg.Tasks[name] = task
	}
}

// readFile loads one JSONC config file with {env:VAR} interpolation.
func readFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = jsonc.ToJSON(data)
	data = interpolate(data)

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate replaces {env:VAR} placeholders with environment values.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Store reads permission overrides fresh on every call, one scope per
// method, so config edits apply to the very next resolution.
type Store struct {
	directory string
}

// NewStore creates a permission store for a workspace directory.
func NewStore(directory string) *Store {
	return &Store{directory: directory}
}

// GlobalLevels reads the global scope's per-action overrides.
func (s *Store) GlobalLevels() map[string]permission.Level {
	return levelsFrom(readFile(GlobalPath()))
}

// ProjectLevels reads the project scope's per-action overrides, with the
// ACTIONGATE_PERMISSION inline JSON env override merged on top.
func (s *Store) ProjectLevels() map[string]permission.Level {
	levels := map[string]permission.Level{}
	for _, path := range ProjectPaths(s.directory) {
		for name, level := range levelsFrom(readFile(path)) {
			levels[name] = level
		}
	}
	if inline := os.Getenv("ACTIONGATE_PERMISSION"); inline != "" {
		var raw map[string]string
		if err := json.Unmarshal([]byte(inline), &raw); err == nil {
			for name, value := range raw {
				if level, ok := permission.Parse(value); ok {
					levels[name] = level
				}
			}
		}
	}
	return levels
}

func levelsFrom(file *File, err error) map[string]permission.Level {
	if err != nil || file == nil {
		return nil
	}
	levels := make(map[string]permission.Level, len(file.Permissions))
	for name, value := range file.Permissions {
		if level, ok := permission.Parse(value); ok {
			levels[name] = level
		}
	}
	return levels
}
