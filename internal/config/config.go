package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"
)

// Duration is a time.Duration that unmarshals from JSON strings like "5m".
type Duration time.Duration

// UnmarshalJSON accepts either a duration string ("30s", "5m") or a
// number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration: %s", data)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PortalConfig holds the SSO portal endpoint set.
type PortalConfig struct {
	// PreAuthURL is fetched first; the portal redirects it to the login page.
	PreAuthURL string `json:"preAuthURL"`
	// CaptchaURL serves the captcha image for a challenge uuid.
	CaptchaURL string `json:"captchaURL"`
	// LoginURL receives the credential + captcha form post.
	LoginURL string `json:"loginURL"`
	// LogoutURL invalidates the portal-side session.
	LogoutURL string `json:"logoutURL"`
	// CheckURL answers whether the current cookies are still accepted.
	CheckURL string `json:"checkURL"`
	// LoginHost identifies the login page; a redirect back to this host
	// after a form post means the attempt was rejected.
	LoginHost string `json:"loginHost"`
	// Timeout bounds individual portal requests.
	Timeout Duration `json:"timeout"`
}

// LoginConfig holds login flow policy.
type LoginConfig struct {
	// CaptchaRetries bounds how many wrong captcha answers are tolerated
	// before the attempt fails.
	CaptchaRetries int `json:"captchaRetries"`
	// CaptchaDir is where captcha images are written for human inspection.
	CaptchaDir string `json:"captchaDir"`
}

// SessionConfig holds session persistence and monitoring settings.
type SessionConfig struct {
	// Dir is the directory holding the persisted session record.
	Dir string `json:"dir"`
	// MonitorInterval is how often the background monitor probes the portal.
	MonitorInterval Duration `json:"monitorInterval"`
}

// ServerConfig holds the MCP HTTP server settings.
type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	EnableCORS bool   `json:"enableCORS"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// Config is the root campusd configuration.
type Config struct {
	Portal  PortalConfig  `json:"portal"`
	Login   LoginConfig   `json:"login"`
	Session SessionConfig `json:"session"`
	Server  ServerConfig  `json:"server"`
	Log     LogConfig     `json:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	paths := GetPaths()
	return &Config{
		Portal: PortalConfig{
			PreAuthURL: "https://my.sjtu.edu.cn/api/account",
			CaptchaURL: "https://jaccount.sjtu.edu.cn/jaccount/captcha",
			LoginURL:   "https://jaccount.sjtu.edu.cn/jaccount/ulogin",
			LogoutURL:  "https://jaccount.sjtu.edu.cn/jaccount/logout",
			CheckURL:   "https://my.sjtu.edu.cn/api/account",
			LoginHost:  "jaccount.sjtu.edu.cn",
			Timeout:    Duration(10 * time.Second),
		},
		Login: LoginConfig{
			CaptchaRetries: 3,
			CaptchaDir:     paths.CaptchaDir(),
		},
		Session: SessionConfig{
			Dir:             paths.SessionDir(),
			MonitorInterval: Duration(5 * time.Minute),
		},
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       1896,
			EnableCORS: true,
		},
		Log: LogConfig{
			Level: "INFO",
		},
	}
}

// Load loads configuration from multiple sources (priority order):
//  1. Built-in defaults
//  2. Global config (~/.config/campusd/campusd.json or .jsonc)
//  3. CAMPUSD_CONFIG file
//  4. Environment variables (highest priority)
func Load() (*Config, error) {
	cfg := Default()

	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "campusd.json"), cfg)
	loadConfigFile(filepath.Join(globalPath, "campusd.jsonc"), cfg)

	if path := os.Getenv("CAMPUSD_CONFIG"); path != "" {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadConfigFile loads a single config file with interpolation support.
// A missing file is not an error.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply {env:VAR} interpolation
	data = interpolate(data)

	if err := json.Unmarshal(data, cfg); err != nil {
		return err
	}

	return nil
}

// interpolate processes {env:VAR} placeholders.
func interpolate(data []byte) []byte {
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(varName)))
	})
}

// applyEnvOverrides applies CAMPUSD_* environment variables on top of cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CAMPUSD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CAMPUSD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CAMPUSD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CAMPUSD_SESSION_DIR"); v != "" {
		cfg.Session.Dir = v
	}
	if v := os.Getenv("CAMPUSD_CAPTCHA_DIR"); v != "" {
		cfg.Login.CaptchaDir = v
	}
	if v := os.Getenv("CAMPUSD_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.MonitorInterval = Duration(d)
		}
	}
}
