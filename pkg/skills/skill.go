// Package skills loads skill documents: directories holding a SKILL.md file
// whose YAML frontmatter names and describes the skill, plus any markdown
// reference files the skill points the agent at.
package skills

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

const skillFileName = "SKILL.md"

// Skill represents a discovered skill with its metadata
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Directory   string `json:"directory"`
	Content     string `json:"-"`
}

// References lists the markdown files bundled with the skill, relative to
// its directory and sorted. SKILL.md itself is excluded.
func (s *Skill) References() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(s.Directory), "**/*.md", doublestar.WithFilesOnly())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(err, "failed to list references of skill %s", s.Name)
	}

	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		if m == skillFileName {
			continue
		}
		refs = append(refs, filepath.FromSlash(m))
	}
	sort.Strings(refs)
	return refs, nil
}

// FilterByAllowlist filters skills by an allowlist of names
// If the allowlist is empty, all skills are returned
func FilterByAllowlist(skills map[string]*Skill, allowed []string) map[string]*Skill {
	if len(allowed) == 0 {
		return skills
	}

	filtered := make(map[string]*Skill)
	for _, name := range allowed {
		if skill, exists := skills[name]; exists {
			filtered[name] = skill
		}
	}
	return filtered
}

// Names returns the sorted names of skills.
func Names(skills map[string]*Skill) []string {
	names := make([]string, 0, len(skills))
	for name := range skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
