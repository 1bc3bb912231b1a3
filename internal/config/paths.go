// ABOUTME: Filesystem locations for acp-engine settings, agent profiles, and transcripts
// ABOUTME: ~/.acp-engine/ holds global state; <project>/.acp-engine/ holds per-project overrides

package config

import (
	"os"
	"path/filepath"
)

const dirName = ".acp-engine"

// GlobalDir returns the user-global config directory (~/.acp-engine/).
func GlobalDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", dirName)
	}
	return filepath.Join(home, dirName)
}

// ProjectDir returns the project-local config directory.
func ProjectDir(projectRoot string) string {
	return filepath.Join(projectRoot, dirName)
}

// GlobalSettingsFile returns the path to the global settings file.
func GlobalSettingsFile() string {
	return filepath.Join(GlobalDir(), "settings.json")
}

// ProjectSettingsFile returns the path to the project settings file.
func ProjectSettingsFile(projectRoot string) string {
	return filepath.Join(ProjectDir(projectRoot), "settings.json")
}

// SettingsFiles returns the settings files in merge order, global first.
func SettingsFiles(projectRoot string) []string {
	return []string{GlobalSettingsFile(), ProjectSettingsFile(projectRoot)}
}

// AgentsDirs returns the profile directories in lookup order (project first).
func AgentsDirs(projectRoot string) []string {
	return []string{
		filepath.Join(ProjectDir(projectRoot), "agents"),
		filepath.Join(GlobalDir(), "agents"),
	}
}

// TranscriptsDir returns where session transcripts are written.
func TranscriptsDir() string {
	return filepath.Join(GlobalDir(), "transcripts")
}

// EnsureDir creates a directory and all parents with owner-only permissions.
// Transcripts contain file contents, so they are not world-readable.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o700)
}
