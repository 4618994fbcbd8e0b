package mmio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/gemini-kit/gk/pkg/logger"
)

const (
	maxImagenCount = 4
	imageMIMEType  = "image/png"
	videoMIMEType  = "video/mp4"
)

// ErrNoImage is returned when a response carries no image data.
var ErrNoImage = errors.New("no image generated")

// ImagineOptions tunes image generation.
type ImagineOptions struct {
	Model     string
	Ratio     string
	Size      string
	Count     int
	Reference string
}

// Imagine generates an image from prompt. imagen-* models use the Imagen
// API; other models use Gemini native image output.
func (c *Client) Imagine(ctx context.Context, prompt string, opts ImagineOptions) (*Media, error) {
	model := firstNonEmpty(opts.Model, c.cfg.Models.Imagine)
	opts.Ratio = firstNonEmpty(opts.Ratio, "1:1")
	opts.Size = firstNonEmpty(opts.Size, "1K")

	if strings.HasPrefix(model, "imagen-") {
		return c.imagineImagen(ctx, prompt, model, opts)
	}
	return c.imagineGemini(ctx, prompt, model, opts)
}

func (c *Client) imagineImagen(ctx context.Context, prompt, model string, opts ImagineOptions) (*Media, error) {
	count := opts.Count
	if count < 1 {
		count = 1
	}
	if count > maxImagenCount {
		count = maxImagenCount
	}

	cfg := &genai.GenerateImagesConfig{
		NumberOfImages: int32(count),
		AspectRatio:    opts.Ratio,
	}
	// Fast models reject an explicit image size.
	if !strings.Contains(strings.ToLower(model), "fast") {
		cfg.ImageSize = opts.Size
	}

	var resp *genai.GenerateImagesResponse
	err := c.call(ctx, fmt.Sprintf("Image generation (%s)", model), func() error {
		var callErr error
		resp, callErr = c.genai.Models.GenerateImages(ctx, model, prompt, cfg)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, ErrNoImage
	}
	img := resp.GeneratedImages[0].Image
	return &Media{
		Data:     img.ImageBytes,
		MIMEType: firstNonEmpty(img.MIMEType, imageMIMEType),
		Metadata: map[string]any{"model": model, "ratio": opts.Ratio, "count": len(resp.GeneratedImages)},
	}, nil
}

func (c *Client) imagineGemini(ctx context.Context, prompt, model string, opts ImagineOptions) (*Media, error) {
	var parts []*genai.Part
	if opts.Reference != "" {
		data, mimeType, err := loadFile(opts.Reference)
		if err != nil {
			return nil, err
		}
		parts = append(parts, genai.NewPartFromBytes(data, mimeType))
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	imageConfig := &genai.ImageConfig{AspectRatio: opts.Ratio}
	if strings.Contains(strings.ToLower(model), "pro") {
		imageConfig.ImageSize = opts.Size
	}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityImage)},
		ImageConfig:        imageConfig,
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	var resp *genai.GenerateContentResponse
	err := c.call(ctx, fmt.Sprintf("Image generation (%s)", model), func() error {
		var callErr error
		resp, callErr = c.genai.Models.GenerateContent(ctx, model, contents, cfg)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &Media{
					Data:     part.InlineData.Data,
					MIMEType: firstNonEmpty(part.InlineData.MIMEType, imageMIMEType),
					Metadata: map[string]any{"model": model, "ratio": opts.Ratio},
				}, nil
			}
		}
	}
	return nil, ErrNoImage
}

// VideoOptions tunes video generation.
type VideoOptions struct {
	Model      string
	Resolution string
	Ratio      string
	StartFrame string
	EndFrame   string
}

// Video generates a video from prompt, waiting for the long-running
// operation to finish and downloading the first result.
func (c *Client) Video(ctx context.Context, prompt string, opts VideoOptions) (*Media, error) {
	model := firstNonEmpty(opts.Model, c.cfg.Models.Video)
	opts.Resolution = firstNonEmpty(opts.Resolution, "1080p")
	opts.Ratio = firstNonEmpty(opts.Ratio, "16:9")
	operation := fmt.Sprintf("Video generation (%s)", model)

	cfg := &genai.GenerateVideosConfig{
		AspectRatio: opts.Ratio,
		Resolution:  opts.Resolution,
	}

	var first *genai.Image
	if opts.StartFrame != "" {
		img, err := loadImage(opts.StartFrame)
		if err != nil {
			return nil, err
		}
		first = img
	}
	if opts.EndFrame != "" {
		img, err := loadImage(opts.EndFrame)
		if err != nil {
			return nil, err
		}
		cfg.LastFrame = img
	}

	var op *genai.GenerateVideosOperation
	err := c.call(ctx, operation, func() error {
		var callErr error
		op, callErr = c.genai.Models.GenerateVideos(ctx, model, prompt, first, cfg)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	log := logger.G(ctx).WithField("operation", op.Name)
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for !op.Done {
		log.Debug("waiting for video generation")
		if err := sleepCtx(ctx, interval); err != nil {
			return nil, err
		}
		if err := c.call(ctx, operation, func() error {
			next, callErr := c.genai.Operations.GetVideosOperation(ctx, op, nil)
			if callErr == nil {
				op = next
			}
			return callErr
		}); err != nil {
			return nil, err
		}
	}

	if len(op.Error) > 0 {
		return nil, classify(errors.Errorf("%v", op.Error["message"]), operation)
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return nil, errors.Errorf("%s returned no video", operation)
	}

	video := op.Response.GeneratedVideos[0]
	data := video.Video.VideoBytes
	if len(data) == 0 {
		if err := c.call(ctx, operation, func() error {
			var callErr error
			data, callErr = c.genai.Files.Download(ctx, genai.NewDownloadURIFromGeneratedVideo(video), nil)
			return callErr
		}); err != nil {
			return nil, err
		}
	}

	return &Media{
		Data:     data,
		MIMEType: videoMIMEType,
		Metadata: map[string]any{"model": model, "resolution": opts.Resolution, "ratio": opts.Ratio},
	}, nil
}

func loadImage(path string) (*genai.Image, error) {
	data, mimeType, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	return &genai.Image{ImageBytes: data, MIMEType: mimeType}, nil
}

// OutputPath returns the default destination for generated media of kind
// ("image" or "video") under the configured output directory.
func (c *Client) OutputPath(kind, ext string) string {
	dir := firstNonEmpty(c.cfg.OutputDir, "generated")
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", kind, c.now().Unix(), ext))
}
