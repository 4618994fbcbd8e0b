package mmio

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/gemini-kit/gk/pkg/logger"
)

// JSONMIMEType is the response MIME type requested for JSON output.
const JSONMIMEType = "application/json"

// Result is the outcome of a text-producing request.
type Result struct {
	Text       string        `json:"text"`
	Model      string        `json:"model"`
	TokensUsed int32         `json:"tokens_used,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ProcessOptions tunes a Process call. Empty fields fall back to config.
type ProcessOptions struct {
	Model      string
	JSON       bool
	Resolution string
	Thinking   string
}

// Process sends source (a file path or YouTube URL) together with prompt.
func (c *Client) Process(ctx context.Context, source, prompt string, opts ProcessOptions) (*Result, error) {
	start := c.now()
	model := firstNonEmpty(opts.Model, c.cfg.Models.Analyze)

	media, err := c.mediaPart(ctx, source)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{media, genai.NewPartFromText(prompt)}, genai.RoleUser),
	}
	cfg := c.contentConfig(model, opts)

	var resp *genai.GenerateContentResponse
	err = c.call(ctx, fmt.Sprintf("Processing (%s)", model), func() error {
		var callErr error
		resp, callErr = c.genai.Models.GenerateContent(ctx, model, contents, cfg)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		Text:     resp.Text(),
		Model:    model,
		Duration: c.now().Sub(start),
	}
	if resp.UsageMetadata != nil {
		result.TokensUsed = resp.UsageMetadata.TotalTokenCount
	}
	return result, nil
}

func (c *Client) contentConfig(model string, opts ProcessOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if opts.JSON {
		cfg.ResponseMIMEType = JSONMIMEType
	}
	if r := mediaResolution(firstNonEmpty(opts.Resolution, c.cfg.Resolution)); r != "" {
		cfg.MediaResolution = r
	}
	// Thinking levels are only understood by the gemini-3 family.
	if strings.HasPrefix(model, "gemini-3") {
		if level := firstNonEmpty(opts.Thinking, c.cfg.Thinking); level != "" {
			cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingLevel: genai.ThinkingLevel(strings.ToUpper(level))}
		}
	}
	return cfg
}

func mediaResolution(level string) genai.MediaResolution {
	switch strings.ToLower(level) {
	case "low":
		return genai.MediaResolutionLow
	case "medium":
		return genai.MediaResolutionMedium
	case "high":
		return genai.MediaResolutionHigh
	}
	return ""
}

// mediaPart builds the media part for source. Large files go through the
// File API; everything else is sent inline.
func (c *Client) mediaPart(ctx context.Context, source string) (*genai.Part, error) {
	if IsYouTubeURL(source) {
		return genai.NewPartFromURI(source, "video/mp4"), nil
	}

	data, mimeType, err := loadFile(source)
	if err != nil {
		return nil, err
	}
	if !c.useFileAPI(len(data)) {
		return genai.NewPartFromBytes(data, mimeType), nil
	}

	file, err := c.upload(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	return genai.NewPartFromURI(file.URI, mimeType), nil
}

func (c *Client) upload(ctx context.Context, data []byte, mimeType string) (*genai.File, error) {
	log := logger.G(ctx).WithField("mime_type", mimeType).WithField("bytes", len(data))
	log.Info("uploading media through the File API")

	file, err := c.genai.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return nil, classify(err, "File upload")
	}

	for file.State == genai.FileStateProcessing {
		if err := sleepCtx(ctx, c.filePoll); err != nil {
			return nil, err
		}
		file, err = c.genai.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, classify(err, "File status check")
		}
	}

	if file.State == genai.FileStateFailed {
		msg := "unknown error"
		if file.Error != nil && file.Error.Message != "" {
			msg = file.Error.Message
		}
		return nil, errors.Errorf("file processing failed: %s", msg)
	}
	log.WithField("file", file.Name).Debug("file ready")
	return file, nil
}

// TranscribeOptions selects what a transcription includes.
type TranscribeOptions struct {
	Model      string
	Timestamps bool
	Speakers   bool
	Language   string
}

// TranscriptionPrompt builds the instruction for transcribing source.
func TranscriptionPrompt(source string, opts TranscribeOptions) string {
	kind := "video"
	if IsAudio(source) {
		kind = "audio"
	}

	var clauses []string
	if opts.Timestamps {
		clauses = append(clauses, "with timestamps in [HH:MM:SS] format")
	}
	if opts.Speakers {
		clauses = append(clauses, "identifying different speakers")
	}
	if opts.Language != "" {
		clauses = append(clauses, "in "+opts.Language)
	}

	if len(clauses) == 0 {
		return fmt.Sprintf("Transcribe this %s.", kind)
	}
	return fmt.Sprintf("Transcribe this %s %s.", kind, strings.Join(clauses, ", "))
}

// Transcribe transcribes an audio or video file.
func (c *Client) Transcribe(ctx context.Context, source string, opts TranscribeOptions) (*Result, error) {
	model := firstNonEmpty(opts.Model, c.cfg.Models.Transcribe)
	return c.Process(ctx, source, TranscriptionPrompt(source, opts), ProcessOptions{Model: model})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
