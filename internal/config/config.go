// ABOUTME: Settings loading with global + project deep merge, JSONC syntax, and validation
// ABOUTME: Files may carry // and /* */ comments and trailing commas (tidwall/jsonc)

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"
)

// Defaults for a fresh install.
const (
	DefaultAgentCommand     = "kiro-cli"
	DefaultProfileFlag      = "--agent"
	DefaultHandshakeTimeout = 8 * time.Second
	DefaultRequestTimeout   = 60 * time.Second
	DefaultShutdownGrace    = 2 * time.Second
	DefaultLogLevel         = "warn"
)

// Permission modes.
const (
	ModeNormal = "normal"
	ModeYolo   = "yolo"
	ModePlan   = "plan"
)

// Settings holds the merged configuration.
type Settings struct {
	Agent       AgentSettings      `json:"agent"`
	Timeouts    TimeoutSettings    `json:"timeouts"`
	Permissions PermissionSettings `json:"permissions"`
	LogLevel    string             `json:"log_level,omitempty"`
	Transcripts bool               `json:"transcripts,omitempty"`
	MetricsAddr string             `json:"metrics_addr,omitempty"`
}

// AgentSettings describes the agent process to launch.
type AgentSettings struct {
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Profile     string            `json:"profile,omitempty"`
	ProfileFlag string            `json:"profile_flag,omitempty"`
	SearchPaths []string          `json:"search_paths,omitempty"`
}

// TimeoutSettings bound the handshake, each request, and shutdown.
type TimeoutSettings struct {
	Handshake Duration `json:"handshake,omitempty"`
	Request   Duration `json:"request,omitempty"`
	Shutdown  Duration `json:"shutdown,omitempty"`
}

// PermissionSettings configure the permission policy.
type PermissionSettings struct {
	Mode  string   `json:"mode,omitempty"`
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("8s") or as
// integer milliseconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s: want a string like \"8s\" or milliseconds", data)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Defaults returns the settings used when no file sets a field.
func Defaults() *Settings {
	return &Settings{
		Agent: AgentSettings{
			Command:     DefaultAgentCommand,
			Args:        []string{"acp"},
			ProfileFlag: DefaultProfileFlag,
		},
		Timeouts: TimeoutSettings{
			Handshake: Duration(DefaultHandshakeTimeout),
			Request:   Duration(DefaultRequestTimeout),
			Shutdown:  Duration(DefaultShutdownGrace),
		},
		Permissions: PermissionSettings{Mode: ModeNormal},
		LogLevel:    DefaultLogLevel,
	}
}

// Load reads the global and project settings files, merges them onto the
// defaults (project wins), and expands ${VAR} references.
func Load(projectRoot string) (*Settings, error) {
	return LoadFiles(SettingsFiles(projectRoot)...)
}

// LoadFiles merges the given files onto the defaults in order. Missing files
// are skipped.
func LoadFiles(paths ...string) (*Settings, error) {
	merged := Defaults()
	for _, path := range paths {
		s, err := loadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		merged = merge(merged, s)
	}
	ResolveEnvVars(merged)
	return merged, nil
}

func loadFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := json.Unmarshal(jsonc.ToJSON(data), &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &s, nil
}

// merge overlays the non-zero fields of over onto base. Env maps merge key by
// key; permission rules accumulate with over's rules last.
func merge(base, over *Settings) *Settings {
	if base == nil {
		base = &Settings{}
	}
	if over == nil {
		return base
	}
	result := *base

	if over.Agent.Command != "" {
		result.Agent.Command = over.Agent.Command
		// A new command brings its own argument list.
		result.Agent.Args = over.Agent.Args
	} else if over.Agent.Args != nil {
		result.Agent.Args = over.Agent.Args
	}
	if len(over.Agent.Env) > 0 {
		env := make(map[string]string, len(base.Agent.Env)+len(over.Agent.Env))
		maps.Copy(env, base.Agent.Env)
		maps.Copy(env, over.Agent.Env)
		result.Agent.Env = env
	}
	if over.Agent.Profile != "" {
		result.Agent.Profile = over.Agent.Profile
	}
	if over.Agent.ProfileFlag != "" {
		result.Agent.ProfileFlag = over.Agent.ProfileFlag
	}
	if over.Agent.SearchPaths != nil {
		result.Agent.SearchPaths = over.Agent.SearchPaths
	}

	if over.Timeouts.Handshake != 0 {
		result.Timeouts.Handshake = over.Timeouts.Handshake
	}
	if over.Timeouts.Request != 0 {
		result.Timeouts.Request = over.Timeouts.Request
	}
	if over.Timeouts.Shutdown != 0 {
		result.Timeouts.Shutdown = over.Timeouts.Shutdown
	}

	if over.Permissions.Mode != "" {
		result.Permissions.Mode = over.Permissions.Mode
	}
	result.Permissions.Allow = append(append([]string(nil), base.Permissions.Allow...), over.Permissions.Allow...)
	result.Permissions.Deny = append(append([]string(nil), base.Permissions.Deny...), over.Permissions.Deny...)

	if over.LogLevel != "" {
		result.LogLevel = over.LogLevel
	}
	if over.Transcripts {
		result.Transcripts = true
	}
	if over.MetricsAddr != "" {
		result.MetricsAddr = over.MetricsAddr
	}
	return &result
}

// EnvList returns the agent environment as sorted KEY=VALUE entries.
func (a AgentSettings) EnvList() []string {
	keys := make([]string, 0, len(a.Env))
	for k := range a.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+a.Env[k])
	}
	return out
}

// Validate reports every problem with s at once.
func (s *Settings) Validate() error {
	var errs []error
	if s.Agent.Command == "" {
		errs = append(errs, errors.New("agent.command is empty"))
	}
	timeouts := []struct {
		name string
		d    Duration
	}{
		{"timeouts.handshake", s.Timeouts.Handshake},
		{"timeouts.request", s.Timeouts.Request},
		{"timeouts.shutdown", s.Timeouts.Shutdown},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", t.name, t.d.Std()))
		}
	}
	switch s.Permissions.Mode {
	case ModeNormal, ModeYolo, ModePlan:
	default:
		errs = append(errs, fmt.Errorf("permissions.mode %q is not one of normal, yolo, plan", s.Permissions.Mode))
	}
	return errors.Join(errs...)
}
