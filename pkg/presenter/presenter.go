// Package presenter writes gk's user-facing messages. Status lines go to
// stderr so that stdout only carries command results (IDs, JSON, rendered
// prompts) and stays safe to pipe.
package presenter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// UsageStats describes the cost of a single model request.
type UsageStats struct {
	Model    string
	Tokens   int64
	Duration time.Duration
}

// Presenter is the output surface used by the gk commands.
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Confirm(question string) bool
	Stats(usage *UsageStats)
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// TerminalPresenter implements Presenter for terminal output
type TerminalPresenter struct {
	status    io.Writer
	input     io.Reader
	colorMode ColorMode
	quiet     bool
}

// ColorMode represents different color output modes
type ColorMode int

const (
	// ColorAuto leaves the decision to the color package (TTY detection).
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output.
	ColorAlways
	// ColorNever disables colored output.
	ColorNever
)

// New creates a presenter writing to stderr and reading answers from stdin.
func New() *TerminalPresenter {
	return NewWithOptions(os.Stderr, os.Stdin, detectColorMode())
}

// NewWithOptions creates a TerminalPresenter with custom streams.
func NewWithOptions(status io.Writer, input io.Reader, colorMode ColorMode) *TerminalPresenter {
	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	}

	return &TerminalPresenter{
		status:    status,
		input:     input,
		colorMode: colorMode,
	}
}

// detectColorMode honours NO_COLOR first, then GK_COLOR.
func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}

	switch strings.ToLower(os.Getenv("GK_COLOR")) {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error is printed even in quiet mode.
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}

	errorColor := color.New(color.FgRed, color.Bold)
	if context != "" {
		errorColor.Fprintf(p.status, "[ERROR] %s: %v\n", context, err)
		return
	}
	errorColor.Fprintf(p.status, "[ERROR] %v\n", err)
}

func (p *TerminalPresenter) Success(message string) {
	p.line(color.New(color.FgGreen, color.Bold), "✓ "+message)
}

func (p *TerminalPresenter) Warning(message string) {
	p.line(color.New(color.FgYellow, color.Bold), "⚠ "+message)
}

func (p *TerminalPresenter) Info(message string) {
	p.line(nil, message)
}

func (p *TerminalPresenter) line(c *color.Color, message string) {
	if p.quiet {
		return
	}
	if c == nil {
		fmt.Fprintln(p.status, message)
		return
	}
	c.Fprintln(p.status, message)
}

// Confirm asks a yes/no question. Anything but y or yes, including a
// closed input, is a no.
func (p *TerminalPresenter) Confirm(question string) bool {
	color.New(color.FgCyan).Fprintf(p.status, "%s [y/N]: ", question)

	answer, err := bufio.NewReader(p.input).ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(p.status)
		return false
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Stats prints a one-line summary of a model request.
func (p *TerminalPresenter) Stats(usage *UsageStats) {
	if p.quiet || usage == nil {
		return
	}

	var parts []string
	if usage.Model != "" {
		parts = append(parts, "Model: "+usage.Model)
	}
	if usage.Tokens > 0 {
		parts = append(parts, fmt.Sprintf("Tokens: %d", usage.Tokens))
	}
	parts = append(parts, fmt.Sprintf("Time: %.1fs", usage.Duration.Seconds()))
	color.New(color.FgCyan, color.Bold).Fprintf(p.status, "[Stats] %s\n", strings.Join(parts, " | "))
}

func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter = New()

// Error reports err through the default presenter.
func Error(err error, context string) {
	defaultPresenter.Error(err, context)
}

// Success reports a completed action through the default presenter.
func Success(message string) {
	defaultPresenter.Success(message)
}

// Warning reports a non-fatal problem through the default presenter.
func Warning(message string) {
	defaultPresenter.Warning(message)
}

// Info prints a plain status line through the default presenter.
func Info(message string) {
	defaultPresenter.Info(message)
}

// Confirm asks a yes/no question through the default presenter.
func Confirm(question string) bool {
	return defaultPresenter.Confirm(question)
}

// Stats prints request statistics through the default presenter.
func Stats(usage *UsageStats) {
	defaultPresenter.Stats(usage)
}

// SetQuiet silences everything but errors and prompts.
func SetQuiet(quiet bool) {
	defaultPresenter.SetQuiet(quiet)
}

// IsQuiet reports whether the default presenter is quiet.
func IsQuiet() bool {
	return defaultPresenter.IsQuiet()
}
