// Package envfile loads .env files along the user/project/extension
// hierarchy and maintains the small env file gk uses to hand session IDs
// from one hook invocation to the next.
package envfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse decodes .env content. A leading UTF-8 byte order mark and stray NUL
// bytes are dropped before parsing. When the file as a whole does not parse,
// it is read line by line and only the malformed lines are dropped; the
// error is returned only when no line could be kept.
func Parse(data []byte) (map[string]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.ReplaceAll(data, []byte{0}, nil)

	values, err := godotenv.UnmarshalBytes(data)
	if err == nil {
		return values, nil
	}

	values = parseLines(data)
	if len(values) == 0 {
		return nil, errors.Wrap(err, "failed to parse env file")
	}
	return values, nil
}

func parseLines(data []byte) map[string]string {
	values := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		parsed, err := godotenv.Unmarshal(line)
		if err != nil {
			continue
		}
		for k, v := range parsed {
			values[k] = v
		}
	}
	return values
}

// ReadFile parses the .env file at path.
func ReadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// HierarchyOptions describes where LoadHierarchy looks.
type HierarchyOptions struct {
	HomeDir      string
	WorkDir      string
	ExtensionDir string
}

// Candidates returns every .env path LoadHierarchy considers, lowest
// precedence first: home files, then each directory from the enclosing git
// root down to WorkDir, then the extension directory.
func Candidates(opts HierarchyOptions) []string {
	var candidates []string

	if opts.HomeDir != "" {
		candidates = append(candidates,
			filepath.Join(opts.HomeDir, ".gemini", ".env"),
			filepath.Join(opts.HomeDir, ".gemini.env"),
			filepath.Join(opts.HomeDir, "gemini.env"),
			filepath.Join(opts.HomeDir, ".env"),
		)
	}

	if opts.WorkDir != "" {
		var chain []string
		for dir := filepath.Clean(opts.WorkDir); ; {
			chain = append(chain, filepath.Join(dir, ".env"))
			if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
		for i := len(chain) - 1; i >= 0; i-- {
			candidates = append(candidates, chain[i])
		}
	}

	if opts.ExtensionDir != "" {
		candidates = append(candidates, filepath.Join(opts.ExtensionDir, ".env"))
	}

	return dedupe(candidates)
}

// LoadHierarchy merges every readable candidate file; later files override
// earlier ones. Unreadable or unparsable files are skipped.
func LoadHierarchy(opts HierarchyOptions) map[string]string {
	merged := map[string]string{}
	for _, path := range Candidates(opts) {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		values, err := ReadFile(path)
		if err != nil {
			continue
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	return merged
}

// Apply exports values into the process environment without overriding
// variables that are already set. It returns the keys it exported.
func Apply(values map[string]string) []string {
	var applied []string
	for k, v := range values {
		if _, exists := os.LookupEnv(k); exists {
			continue
		}
		if err := os.Setenv(k, v); err == nil {
			applied = append(applied, k)
		}
	}
	return applied
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, p := range in {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
