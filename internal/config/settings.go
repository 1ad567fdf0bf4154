package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// SettingsFileName is the per-workspace settings file.
const SettingsFileName = ".nexwork.toml"

// Duration decodes TOML strings such as "90s" or "1h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Settings are user preferences for the CLI and background tasks. They
// are separate from the workspace document, which holds feature state.
type Settings struct {
	Workspace             string   `toml:"workspace"`
	DefaultBaseBranch     string   `toml:"default_base_branch"`
	DefaultTemplate       string   `toml:"default_template"`
	GitTimeoutSeconds     int      `toml:"git_timeout_seconds"`
	NetworkTimeoutSeconds int      `toml:"network_timeout_seconds"`
	SweepInterval         Duration `toml:"sweep_interval"`
	SweepInitialDelay     Duration `toml:"sweep_initial_delay"`
	PollInterval          Duration `toml:"poll_interval"`
	HistoryDB             string   `toml:"history_db"`
	DebugLog              string   `toml:"debug_log"`
	LogLevel              string   `toml:"log_level"`
	Parallelism           int      `toml:"parallelism"`
}

func DefaultSettings() Settings {
	s := Settings{
		DefaultBaseBranch:     "main",
		DefaultTemplate:       "default",
		GitTimeoutSeconds:     45,
		NetworkTimeoutSeconds: 300,
		SweepInterval:         Duration{time.Hour},
		SweepInitialDelay:     Duration{time.Minute},
		PollInterval:          Duration{5 * time.Second},
		LogLevel:              "warn",
		Parallelism:           8,
	}
	if home, err := os.UserHomeDir(); err == nil {
		s.HistoryDB = filepath.Join(home, ".local", "share", "nexwork", "nexwork-data.db")
	}
	return s
}

// GlobalSettingsPath returns $NEXWORK_CONFIG or ~/.config/nexwork/config.toml.
func GlobalSettingsPath() string {
	if v := strings.TrimSpace(os.Getenv("NEXWORK_CONFIG")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nexwork", "config.toml")
}

// LoadSettings layers defaults, the global file, the workspace file and
// environment overrides. A non-empty workspace argument takes precedence
// over NEXWORK_WORKSPACE and the global file when choosing the workspace.
func LoadSettings(workspace string) (Settings, error) {
	s := DefaultSettings()

	// 1. Global settings
	if path := GlobalSettingsPath(); path != "" {
		if err := decodeSettingsFile(path, &s); err != nil {
			return s, err
		}
	}

	// 2. Pick the workspace
	switch {
	case workspace != "":
		s.Workspace = workspace
	case os.Getenv("NEXWORK_WORKSPACE") != "":
		s.Workspace = os.Getenv("NEXWORK_WORKSPACE")
	}

	// 3. Workspace settings, overrides global
	if s.Workspace != "" {
		chosen := s.Workspace
		if err := decodeSettingsFile(filepath.Join(chosen, SettingsFileName), &s); err != nil {
			return s, err
		}
		s.Workspace = chosen
	}

	// 4. Env var overrides (highest priority)
	applyEnvOverrides(&s)
	s.normalize()
	return s, nil
}

func decodeSettingsFile(path string, s *Settings) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if _, err := toml.DecodeFile(path, s); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("NEXWORK_BASE_BRANCH"); v != "" {
		s.DefaultBaseBranch = v
	}
	if v := os.Getenv("NEXWORK_TEMPLATE"); v != "" {
		s.DefaultTemplate = v
	}
	if v := os.Getenv("NEXWORK_GIT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			s.GitTimeoutSeconds = n
		}
	}
	if v := os.Getenv("NEXWORK_NETWORK_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			s.NetworkTimeoutSeconds = n
		}
	}
	if v := os.Getenv("NEXWORK_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.SweepInterval = Duration{d}
		}
	}
	if v := os.Getenv("NEXWORK_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.PollInterval = Duration{d}
		}
	}
	if v, ok := os.LookupEnv("NEXWORK_HISTORY_DB"); ok {
		s.HistoryDB = v
	}
	if v := os.Getenv("NEXWORK_DEBUG_LOG"); v != "" {
		s.DebugLog = v
	}
	if v := os.Getenv("NEXWORK_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
}

func (s *Settings) normalize() {
	s.GitTimeoutSeconds = clamp(s.GitTimeoutSeconds, 5, 600, 45)
	s.NetworkTimeoutSeconds = clamp(s.NetworkTimeoutSeconds, 30, 1800, 300)
	if s.SweepInterval.Duration <= 0 {
		s.SweepInterval = Duration{time.Hour}
	}
	if s.SweepInitialDelay.Duration < 0 {
		s.SweepInitialDelay = Duration{}
	}
	if s.PollInterval.Duration <= 0 {
		s.PollInterval = Duration{5 * time.Second}
	}
	if s.Parallelism <= 0 {
		s.Parallelism = 8
	}
	if strings.TrimSpace(s.DefaultBaseBranch) == "" {
		s.DefaultBaseBranch = "main"
	}
	if s.Workspace != "" {
		if abs, err := filepath.Abs(s.Workspace); err == nil {
			s.Workspace = abs
		}
	}
}

func clamp(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (s Settings) GitTimeout() time.Duration {
	return time.Duration(s.GitTimeoutSeconds) * time.Second
}

func (s Settings) NetworkTimeout() time.Duration {
	return time.Duration(s.NetworkTimeoutSeconds) * time.Second
}

// SettingDoc describes one settings key for generated documentation.
type SettingDoc struct {
	Key         string
	Type        string
	Default     string
	EnvVar      string
	Description string
}

// SettingsReference lists every settings key with its default value.
func SettingsReference() []SettingDoc {
	d := DefaultSettings()
	return []SettingDoc{
		{"workspace", "string", "", "NEXWORK_WORKSPACE", "Workspace root used when --workspace is not given. Falls back to the current directory."},
		{"default_base_branch", "string", d.DefaultBaseBranch, "NEXWORK_BASE_BRANCH", "Base branch for projects whose HEAD is detached at feature creation."},
		{"default_template", "string", d.DefaultTemplate, "NEXWORK_TEMPLATE", "README template for new features."},
		{"git_timeout_seconds", "int", strconv.Itoa(d.GitTimeoutSeconds), "NEXWORK_GIT_TIMEOUT_SECONDS", "Timeout of local git commands, clamped to 5..600."},
		{"network_timeout_seconds", "int", strconv.Itoa(d.NetworkTimeoutSeconds), "NEXWORK_NETWORK_TIMEOUT_SECONDS", "Timeout of git fetch, clamped to 30..1800."},
		{"sweep_interval", "duration", d.SweepInterval.String(), "NEXWORK_SWEEP_INTERVAL", "Time between expiry sweeps of the daemon."},
		{"sweep_initial_delay", "duration", d.SweepInitialDelay.String(), "", "Delay before the daemon's first sweep."},
		{"poll_interval", "duration", d.PollInterval.String(), "NEXWORK_POLL_INTERVAL", "Refresh interval of nexwork watch."},
		{"history_db", "string", "~/.local/share/nexwork/nexwork-data.db", "NEXWORK_HISTORY_DB", "SQLite activity history. Empty disables history."},
		{"debug_log", "string", "", "NEXWORK_DEBUG_LOG", "File that receives a copy of every log record."},
		{"log_level", "string", d.LogLevel, "NEXWORK_LOG_LEVEL", "debug, info, warn or error."},
		{"parallelism", "int", strconv.Itoa(d.Parallelism), "", "Projects processed concurrently by one operation."},
	}
}
