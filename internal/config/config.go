// Package config loads relay settings from layered INI files with
// environment-variable overrides. config/setting.ini selects the active
// environment and supplies defaults; config/<env>/relay.ini overrides them;
// STREAMGATE_* environment variables win over both.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/relay.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// RelayConfig describes runtime options for the relay daemon and CLI.
type RelayConfig struct {
	Environment string
	ListenAddr  string

	// Connection supervision
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	MaxStreamsPerConn int

	// Logging
	LogFile  string
	LogLevel string

	// Audit store: sqlite|postgres|off
	AuditDriver       string
	AuditPath         string
	AuditDSN          string
	AuditMaxOpenConns int
	AuditMaxIdleConns int

	// Producer routing: pattern=>producer pairs, comma or newline separated,
	// optionally supplemented by a YAML rules file.
	Routes           string
	RoutesFile       string
	FallbackProducer string

	// Upstream producer credentials
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// Load reads the current environment and the matching relay config file.
func Load(root string) (RelayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return RelayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return RelayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := RelayConfig{
		Environment:       s.Environment,
		ListenAddr:        firstNonEmpty(os.Getenv("STREAMGATE_LISTEN_ADDR"), merged["listen_addr"], ":8080"),
		MaxStreamsPerConn: parseOptionalInt(firstNonEmpty(os.Getenv("STREAMGATE_MAX_STREAMS"), merged["max_streams_per_conn"]), 32),
		LogFile:           firstNonEmpty(os.Getenv("STREAMGATE_LOG_FILE"), merged["log_file"]),
		LogLevel:          firstNonEmpty(os.Getenv("STREAMGATE_LOG_LEVEL"), merged["log_level"], "info"),
		AuditDriver:       strings.ToLower(firstNonEmpty(os.Getenv("STREAMGATE_AUDIT_DRIVER"), merged["audit_driver"], "sqlite")),
		AuditPath:         firstNonEmpty(os.Getenv("STREAMGATE_AUDIT_PATH"), merged["audit_path"], DefaultAuditPath()),
		AuditDSN:          firstNonEmpty(os.Getenv("STREAMGATE_AUDIT_DSN"), merged["audit_dsn"]),
		AuditMaxOpenConns: parseOptionalInt(merged["audit_max_open_conns"], 10),
		AuditMaxIdleConns: parseOptionalInt(merged["audit_max_idle_conns"], 5),
		Routes:            firstNonEmpty(os.Getenv("STREAMGATE_ROUTES"), merged["routes"]),
		RoutesFile:        firstNonEmpty(os.Getenv("STREAMGATE_ROUTES_FILE"), merged["routes_file"]),
		FallbackProducer:  firstNonEmpty(os.Getenv("STREAMGATE_FALLBACK_PRODUCER"), merged["fallback_producer"], "loopback"),
		OpenAIAPIKey:      firstNonEmpty(os.Getenv("STREAMGATE_OPENAI_API_KEY"), merged["openai_api_key"]),
		OpenAIBaseURL:     firstNonEmpty(os.Getenv("STREAMGATE_OPENAI_BASE_URL"), merged["openai_base_url"]),
	}

	cfg.HeartbeatInterval, err = parseOptionalDuration(
		firstNonEmpty(os.Getenv("STREAMGATE_HEARTBEAT_INTERVAL"), merged["heartbeat_interval"]), 30*time.Second)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("invalid heartbeat_interval: %w", err)
	}
	cfg.IdleTimeout, err = parseOptionalDuration(
		firstNonEmpty(os.Getenv("STREAMGATE_IDLE_TIMEOUT"), merged["idle_timeout"]), 5*time.Minute)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("invalid idle_timeout: %w", err)
	}

	switch cfg.AuditDriver {
	case "sqlite", "postgres", "off":
	default:
		return RelayConfig{}, fmt.Errorf("invalid audit_driver %q (want sqlite, postgres or off)", cfg.AuditDriver)
	}
	if cfg.AuditDriver == "postgres" && strings.TrimSpace(cfg.AuditDSN) == "" {
		return RelayConfig{}, errors.New("audit_driver=postgres requires audit_dsn")
	}

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultAuditPath returns the fallback audit database location under the
// user's home directory.
func DefaultAuditPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "audit.db"
	}
	return filepath.Join(home, ".streamgate", "audit.db")
}
