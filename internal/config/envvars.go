// ABOUTME: ${VAR} expansion for the string fields of Settings
// ABOUTME: Unset variables expand to ""; $$ and bare $NAME are left alone

package config

import (
	"os"
	"regexp"
)

var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// ResolveEnvVars expands ${VAR} in the agent command, args, env values,
// profile, search paths, and metrics address.
func ResolveEnvVars(s *Settings) {
	s.Agent.Command = expandEnv(s.Agent.Command)
	s.Agent.Profile = expandEnv(s.Agent.Profile)
	s.MetricsAddr = expandEnv(s.MetricsAddr)
	s.Agent.Args = expandAll(s.Agent.Args)
	s.Agent.SearchPaths = expandAll(s.Agent.SearchPaths)
	for k, v := range s.Agent.Env {
		s.Agent.Env[k] = expandEnv(v)
	}
}

func expandAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = expandEnv(v)
	}
	return out
}

// expandEnv replaces ${VAR} with os.Getenv(VAR).
func expandEnv(s string) string {
	if s == "" {
		return s
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}
