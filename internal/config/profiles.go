// ABOUTME: Agent profiles: Markdown files with YAML frontmatter under the agents/ config dirs
// ABOUTME: A profile names the agent persona and may override the command, args, and env

package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// ParseFrontmatter splits Markdown content into YAML frontmatter decoded as T
// and the remaining body. Content without an opening fence yields the zero T
// and the content unchanged. An opening fence with no closing fence is an error.
func ParseFrontmatter[T any](content string) (T, string, error) {
	var meta T
	text := strings.ReplaceAll(content, "\r\n", "\n")
	rest, ok := strings.CutPrefix(text, fence+"\n")
	if !ok {
		return meta, content, nil
	}

	var head, body string
	switch {
	case rest == fence:
	case strings.HasPrefix(rest, fence+"\n"):
		body = rest[len(fence)+1:]
	default:
		var found bool
		head, body, found = strings.Cut(rest, "\n"+fence)
		if !found {
			return meta, "", errors.New("frontmatter has no closing ---")
		}
		body = strings.TrimPrefix(body, "\n")
	}

	if err := yaml.Unmarshal([]byte(head), &meta); err != nil {
		return meta, "", fmt.Errorf("frontmatter: %w", err)
	}
	return meta, body, nil
}

// Profile is one agent profile.
type Profile struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`

	// Body is the Markdown after the frontmatter.
	Body string `yaml:"-"`
	// Path is the file the profile was read from.
	Path string `yaml:"-"`
}

// ParseProfile decodes a profile file. The name defaults to the file name
// without its extension.
func ParseProfile(path, content string) (*Profile, error) {
	p, body, err := ParseFrontmatter[Profile](content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	p.Body = strings.TrimSpace(body)
	p.Path = path
	if p.Description == "" && p.Body != "" {
		p.Description, _, _ = strings.Cut(p.Body, "\n")
	}
	return &p, nil
}

// LoadProfiles reads every *.md file in dirs. When two dirs define the same
// name the earlier dir wins. Missing dirs are skipped; unreadable or
// malformed files are reported together while the rest still load.
func LoadProfiles(dirs ...string) ([]*Profile, error) {
	byName := make(map[string]*Profile)
	var errs []error
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".md") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			p, err := ParseProfile(path, string(data))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if _, seen := byName[p.Name]; !seen {
				byName[p.Name] = p
			}
		}
	}

	profiles := slices.Collect(maps.Values(byName))
	slices.SortFunc(profiles, func(a, b *Profile) int { return strings.Compare(a.Name, b.Name) })
	return profiles, errors.Join(errs...)
}

// FindProfile returns the profile called name.
func FindProfile(profiles []*Profile, name string) (*Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// ApplyProfile selects p: its name becomes the profile sent to the agent, and
// a command it names replaces the configured one along with its args.
func (s *Settings) ApplyProfile(p *Profile) {
	s.Agent.Profile = p.Name
	if p.Command != "" {
		s.Agent.Command = expandEnv(p.Command)
		s.Agent.Args = expandAll(p.Args)
	}
	if len(p.Env) > 0 {
		env := maps.Clone(s.Agent.Env)
		if env == nil {
			env = make(map[string]string, len(p.Env))
		}
		for k, v := range p.Env {
			env[k] = expandEnv(v)
		}
		s.Agent.Env = env
	}
}
