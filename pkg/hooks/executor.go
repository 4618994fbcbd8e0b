package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/osutil"
)

// Output is what a user hook may print. Plain text output is taken as
// additional context.
type Output struct {
	SystemMessage     string `json:"systemMessage,omitempty"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

// Execute runs every hook registered for event with payload on stdin. All
// hooks run even if some fail; failures are aggregated.
func (m HookManager) Execute(ctx context.Context, event Event, payload any) ([]Output, error) {
	hooks := m.hooks[event]
	if len(hooks) == 0 {
		return nil, nil
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}

	var outputs []Output
	var result *multierror.Error
	for _, hook := range hooks {
		stdout, err := m.executeHook(ctx, hook, payloadBytes)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("hook", hook.Name).Warn("hook execution failed")
			result = multierror.Append(result, err)
			continue
		}
		if out, ok := parseOutput(stdout); ok {
			outputs = append(outputs, out)
		}
	}

	return outputs, result.ErrorOrNil()
}

// executeHook runs a single hook with timeout enforcement
func (m HookManager) executeHook(ctx context.Context, hook *Hook, payload []byte) ([]byte, error) {
	timeout := m.timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, hook.Path, "run")
	osutil.SetProcessGroup(cmd)
	osutil.SetProcessGroupKill(cmd)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Errorf("hook %s timed out after %s", hook.Name, timeout)
		}
		return nil, errors.Wrapf(err, "hook %s failed: %s", hook.Name, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

func parseOutput(stdout []byte) (Output, bool) {
	text := strings.TrimSpace(string(stdout))
	if text == "" {
		return Output{}, false
	}

	var out Output
	if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &out) == nil {
		return out, out.SystemMessage != "" || out.AdditionalContext != ""
	}
	return Output{AdditionalContext: text}, true
}
