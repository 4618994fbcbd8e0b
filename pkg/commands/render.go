package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"

	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/osutil"
)

const (
	// ArgsPlaceholder is replaced with the raw argument string.
	ArgsPlaceholder = "{{args}}"

	// DefaultShellTimeout bounds each !{...} injection.
	DefaultShellTimeout = 30 * time.Second

	shellTrigger = '!'
	fileTrigger  = '@'
)

// Renderer expands command templates. It resolves @{path} against WorkDir
// and runs !{cmd} there with sh -c.
type Renderer struct {
	WorkDir      string
	ShellTimeout time.Duration
}

// NewRenderer creates a renderer rooted at workDir. An empty workDir means
// the process working directory.
func NewRenderer(workDir string) *Renderer {
	return &Renderer{WorkDir: workDir, ShellTimeout: DefaultShellTimeout}
}

// Render expands prompt with args. Injection failures are rendered inline
// as [ERROR ...] markers so the prompt is always produced.
func (r *Renderer) Render(ctx context.Context, prompt, args string) string {
	var b strings.Builder

	for i := 0; i < len(prompt); {
		c := prompt[i]
		if (c == shellTrigger || c == fileTrigger) && i+1 < len(prompt) && prompt[i+1] == '{' {
			if end := closingBrace(prompt, i+1); end > 0 {
				body := prompt[i+2 : end]
				if c == shellTrigger {
					b.WriteString(r.shell(ctx, strings.ReplaceAll(body, ArgsPlaceholder, shellescape.Quote(args))))
				} else {
					b.WriteString(r.file(ctx, strings.TrimSpace(body)))
				}
				i = end + 1
				continue
			}
		}
		if strings.HasPrefix(prompt[i:], ArgsPlaceholder) {
			b.WriteString(args)
			i += len(ArgsPlaceholder)
			continue
		}
		b.WriteByte(c)
		i++
	}

	out := b.String()
	if args != "" && !strings.Contains(prompt, ArgsPlaceholder) {
		out += "\n\n" + args
	}
	return out
}

// closingBrace returns the index of the brace closing the one at open, or
// -1 when braces never balance.
func closingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (r *Renderer) shell(ctx context.Context, command string) string {
	command = strings.TrimSpace(command)
	if command == "" {
		return "[ERROR: empty shell command]"
	}

	timeout := r.ShellTimeout
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = r.WorkDir
	osutil.SetProcessGroup(cmd)
	osutil.SetProcessGroupKill(cmd)

	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.G(ctx).WithField("command", command).WithError(err).Warn("shell injection failed")
		if cmdCtx.Err() == context.DeadlineExceeded {
			return fmt.Sprintf("[ERROR executing command '%s': timed out after %s]", command, timeout)
		}
		detail := strings.TrimSpace(string(output))
		if detail != "" {
			return fmt.Sprintf("[ERROR executing command '%s': %v: %s]", command, err, detail)
		}
		return fmt.Sprintf("[ERROR executing command '%s': %v]", command, err)
	}

	return strings.TrimRight(string(output), "\n\r")
}

func (r *Renderer) file(ctx context.Context, path string) string {
	if path == "" {
		return "[ERROR: empty file path]"
	}
	if !filepath.IsAbs(path) && r.WorkDir != "" {
		path = filepath.Join(r.WorkDir, path)
	}

	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		return fmt.Sprintf("[ERROR reading file '%s': is a directory]", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		logger.G(ctx).WithField("path", path).WithError(err).Warn("file injection failed")
		return fmt.Sprintf("[ERROR reading file '%s': %v]", path, err)
	}
	return string(content)
}
