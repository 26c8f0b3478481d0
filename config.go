package ocirun

import (
	"encoding/json"
	"os"
)

// Config is the decoded form of the JSON configuration file. Loading it is
// an external collaborator's job; the core only consumes the decoded
// struct.
type Config struct {
	DefaultRuntime string `json:"default_runtime,omitempty"`
	StateRoot      string `json:"state_root,omitempty"`

	Remote RemoteConfig `json:"remote,omitempty"`
	LXC    LXCToolConfig `json:"lxc,omitempty"`
	Log    LogConfig     `json:"log,omitempty"`
}

// RemoteConfig configures the Proxmox VM backend's remote endpoint.
type RemoteConfig struct {
	Hosts     []string `json:"hosts,omitempty"`
	Port      int      `json:"port,omitempty"`
	Token     string   `json:"token,omitempty"`
	Node      string   `json:"node,omitempty"`
	TLSVerify *bool    `json:"tls_verify,omitempty"`
}

// LXCToolConfig configures the local host-tool LXC backend.
type LXCToolConfig struct {
	ToolPath             string `json:"tool_path,omitempty"`
	UnprivilegedDefault  bool   `json:"unprivileged_default,omitempty"`
}

// LogConfig configures ambient logging.
type LogConfig struct {
	Path   *string `json:"path,omitempty"`
	Format string  `json:"format,omitempty"` // "text" | "json"
	Level  string  `json:"level,omitempty"`  // "debug" | "info" | "warn" | "error"
}

// DefaultStateRoot is the platform-specific default state location.
const DefaultStateRoot = "/var/lib/ocirun/state"

// LoadConfig decodes a JSON configuration file, applying env var overrides
// (STATE_ROOT, REMOTE_TOKEN); CONFIG_PATH is resolved by ConfigPathFromEnv.
// A missing path is not an error: defaults are returned.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		StateRoot: DefaultStateRoot,
		Remote:    RemoteConfig{Port: 8006},
		Log:       LogConfig{Format: "text", Level: "info"},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, internalErr("failed to read config file", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, internalErr("failed to parse config file", err)
		}
	}

	if v := os.Getenv("STATE_ROOT"); v != "" {
		cfg.StateRoot = v
	}
	if v := os.Getenv("REMOTE_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}
	if cfg.Remote.Port == 0 {
		cfg.Remote.Port = 8006
	}
	if cfg.Remote.TLSVerify == nil {
		t := true
		cfg.Remote.TLSVerify = &t
	}
	return cfg, nil
}

// ConfigPathFromEnv resolves CONFIG_PATH
func ConfigPathFromEnv(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv("CONFIG_PATH")
}
