package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actiongate/actiongate/internal/permission"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("ACTIONGATE_CONFIG_DIR", "")
	t.Setenv("ACTIONGATE_CONFIG", "")
	t.Setenv("ACTIONGATE_PERMISSION", "")
	t.Setenv("ACTIONGATE_ADDR", "")
	return tmp
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadProjectOverridesGlobal(t *testing.T) {
	home := isolate(t)
	project := t.TempDir()

	writeConfig(t, filepath.Join(home, ".actiongate", "actiongate.jsonc"), `{
		// global scope
		"server": {"addr": "127.0.0.1:9100"},
		"approval_timeout_ms": 5000
	}`)
	writeConfig(t, filepath.Join(project, "actiongate.jsonc"), `{
		"server": {"addr": "127.0.0.1:9200"},
		"project_name": "demo",
		"tasks": {"build": {"command": "make build"}}
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9200", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.ApprovalTimeout)
	assert.Equal(t, "demo", cfg.ProjectName)
	assert.Equal(t, "make build", cfg.Tasks["build"].Command)
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Zero(t, cfg.ApprovalTimeout)
}

func TestEnvInterpolation(t *testing.T) {
	home := isolate(t)
	t.Setenv("GATE_PORT", "9999")
	writeConfig(t, filepath.Join(home, ".actiongate", "actiongate.jsonc"),
		`{"server": {"addr": "127.0.0.1:{env:GATE_PORT}"}}`)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Addr)
}

func TestStoreScopesAreSeparate(t *testing.T) {
	home := isolate(t)
	project := t.TempDir()

	writeConfig(t, filepath.Join(home, ".actiongate", "actiongate.jsonc"),
		`{"permissions": {"replace_text": "off", "run_command": "copilot"}}`)
	writeConfig(t, filepath.Join(project, ".actiongate", "actiongate.jsonc"),
		`{"permissions": {"replace_text": "autopilot", "broken": "yes-please"}}`)

	store := NewStore(project)

	global := store.GlobalLevels()
	assert.Equal(t, permission.Off, global["replace_text"])
	assert.Equal(t, permission.Copilot, global["run_command"])

	proj := store.ProjectLevels()
	assert.Equal(t, permission.Autopilot, proj["replace_text"])
	// Unparseable levels are dropped, not granted.
	_, ok := proj["broken"]
	assert.False(t, ok)
}

func TestStoreReadsFresh(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	path := filepath.Join(project, "actiongate.jsonc")
	store := NewStore(project)

	assert.Empty(t, store.ProjectLevels())

	writeConfig(t, path, `{"permissions": {"git_commit": "autopilot"}}`)
	assert.Equal(t, permission.Autopilot, store.ProjectLevels()["git_commit"])

	writeConfig(t, path, `{"permissions": {"git_commit": "off"}}`)
	assert.Equal(t, permission.Off, store.ProjectLevels()["git_commit"])
}

func TestStoreInlinePermissionEnv(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	writeConfig(t, filepath.Join(project, "actiongate.jsonc"),
		`{"permissions": {"run_command": "copilot"}}`)
	t.Setenv("ACTIONGATE_PERMISSION", `{"run_command": "off"}`)

	store := NewStore(project)
	assert.Equal(t, permission.Off, store.ProjectLevels()["run_command"])
}
