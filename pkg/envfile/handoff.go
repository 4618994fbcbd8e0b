package envfile

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

// Handoff variables written for every active session.
const (
	VarSessionID     = "GK_SESSION_ID"
	VarHostSessionID = "GK_HOST_SESSION_ID"
	VarProjectID     = "GK_PROJECT_ID"
	VarProjectPath   = "GK_PROJECT_PATH"
	VarAgentID       = "GK_AGENT_ID"
)

// Handoff is the per-project env file that carries session IDs between
// otherwise stateless hook invocations.
type Handoff struct {
	path string
}

// NewHandoff returns a handoff backed by the file at path.
func NewHandoff(path string) *Handoff {
	return &Handoff{path: path}
}

// Path returns the backing file.
func (h *Handoff) Path() string {
	return h.path
}

// Write replaces the handoff file contents with vars.
func (h *Handoff) Write(vars map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create handoff directory")
	}

	content, err := godotenv.Marshal(vars)
	if err != nil {
		return errors.Wrap(err, "failed to encode handoff vars")
	}

	if err := lockedfile.Write(h.path, bytes.NewReader([]byte(content+"\n")), 0o600); err != nil {
		return errors.Wrap(err, "failed to write handoff file")
	}
	return nil
}

// Update merges vars into the existing handoff file under its lock.
func (h *Handoff) Update(vars map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create handoff directory")
	}

	return lockedfile.Transform(h.path, func(data []byte) ([]byte, error) {
		current := map[string]string{}
		if len(data) > 0 {
			parsed, err := Parse(data)
			if err != nil {
				return nil, err
			}
			current = parsed
		}
		for k, v := range vars {
			current[k] = v
		}
		content, err := godotenv.Marshal(current)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode handoff vars")
		}
		return []byte(content + "\n"), nil
	})
}

// Read returns the handoff vars, or an empty map when no file exists.
func (h *Handoff) Read() (map[string]string, error) {
	data, err := lockedfile.Read(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errors.Wrap(err, "failed to read handoff file")
	}
	return Parse(data)
}

// Clear removes the handoff file. A missing file is not an error.
func (h *Handoff) Clear() error {
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove handoff file")
	}
	return nil
}

// ExportLine renders one `export K=V` line with V quoted for POSIX shells,
// so the value survives sourcing unchanged and is never expanded.
func ExportLine(key, value string) string {
	return "export " + key + "=" + shellescape.Quote(value) + "\n"
}

// FormatExports renders vars as export lines sorted by key.
func FormatExports(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(ExportLine(k, vars[k]))
	}
	return b.String()
}

// AppendExports appends export lines to a host-provided env file so that
// later shell commands of the host see the variables.
func AppendExports(path string, vars map[string]string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrapf(err, "failed to open env file %s", path)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatExports(vars)); err != nil {
		return errors.Wrapf(err, "failed to append to env file %s", path)
	}
	return nil
}
