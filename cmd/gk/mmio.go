package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gemini-kit/gk/pkg/logger"
	"github.com/gemini-kit/gk/pkg/mmio"
	"github.com/gemini-kit/gk/pkg/presenter"
)

type MMIOProcessConfig struct {
	Model      string
	JSON       bool
	Resolution string
	Thinking   string
	Output     string
}

func NewMMIOProcessConfig() *MMIOProcessConfig {
	return &MMIOProcessConfig{}
}

type MMIOImagineConfig struct {
	Model     string
	Ratio     string
	Size      string
	Count     int
	Reference string
	Output    string
}

func NewMMIOImagineConfig() *MMIOImagineConfig {
	return &MMIOImagineConfig{
		Ratio: "1:1",
		Size:  "1K",
		Count: 1,
	}
}

type MMIOVideoConfig struct {
	Model      string
	Resolution string
	Ratio      string
	StartFrame string
	EndFrame   string
	Output     string
}

func NewMMIOVideoConfig() *MMIOVideoConfig {
	return &MMIOVideoConfig{
		Resolution: "1080p",
		Ratio:      "16:9",
	}
}

type MMIOTranscribeConfig struct {
	Model      string
	Timestamps bool
	Speakers   bool
	Language   string
	Output     string
}

func NewMMIOTranscribeConfig() *MMIOTranscribeConfig {
	return &MMIOTranscribeConfig{}
}

type MMIOConvertConfig struct {
	Format string
	Model  string
	Output string
}

func NewMMIOConvertConfig() *MMIOConvertConfig {
	return &MMIOConvertConfig{
		Format: string(mmio.FormatMarkdown),
	}
}

var mmioCmd = &cobra.Command{
	Use:   "mmio",
	Short: "Multimodal input and output with Gemini",
	Long: `Analyse images, audio, video and documents, generate images and videos,
transcribe media and convert documents with the Gemini API.

The API key is read from mmio.api_key, $GEMINI_API_KEY or $GOOGLE_API_KEY.
.env files in ~/.gemini, the home directory, the project and the
multimodal-io extension directory are loaded first.

Exit codes: 0 on success, 1 on errors, 2 when the operation needs billing
or exceeds the free tier.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var mmioProcessCmd = &cobra.Command{
	Use:   "process <file-or-youtube-url> <prompt>",
	Short: "Analyse a file or YouTube video with a prompt",
	Long: `Analyse a file or YouTube video with a prompt.

Examples:
  gk mmio process screenshot.png "What error is shown?"
  gk mmio process https://youtu.be/abc123 "Summarise the talk" --model gemini-2.5-pro
  gk mmio process invoice.pdf "Extract line items" --json`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getMMIOProcessConfigFromFlags(cmd)
		client := mustMMIOClient(ctx)
		result, err := client.Process(ctx, args[0], args[1], mmio.ProcessOptions{
			Model:      config.Model,
			JSON:       config.JSON,
			Resolution: config.Resolution,
			Thinking:   config.Thinking,
		})
		exitOnMMIOError(err, "Processing failed")
		exitOnMMIOError(writeResult(result, config.Output, os.Stdout), "Failed to write result")
	},
}

var mmioImagineCmd = &cobra.Command{
	Use:   "imagine <prompt>",
	Short: "Generate an image",
	Long: `Generate an image. imagen-* models use the Imagen API; other models use
Gemini native image output and accept a reference image.

Examples:
  gk mmio imagine "a lighthouse at dusk, watercolour" --ratio 16:9
  gk mmio imagine "same scene in winter" --reference lighthouse.png
  gk mmio imagine "app icon, flat" --model imagen-4.0-generate-001 --count 4`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getMMIOImagineConfigFromFlags(cmd)
		client := mustMMIOClient(ctx)
		media, err := client.Imagine(ctx, args[0], mmio.ImagineOptions{
			Model:     config.Model,
			Ratio:     config.Ratio,
			Size:      config.Size,
			Count:     config.Count,
			Reference: config.Reference,
		})
		exitOnMMIOError(err, "Image generation failed")
		exitOnMMIOError(saveMedia(client, media, "image", config.Output), "Failed to save image")
	},
}

var mmioVideoCmd = &cobra.Command{
	Use:   "video <prompt>",
	Short: "Generate a video",
	Long: `Generate a video and wait for it to finish. This can take several minutes.

Examples:
  gk mmio video "a paper boat drifting down a rainy street"
  gk mmio video "the boat sails away" --start-frame boat.png --ratio 9:16`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getMMIOVideoConfigFromFlags(cmd)
		client := mustMMIOClient(ctx)
		presenter.Info("Generating video, this may take a few minutes...")
		media, err := client.Video(ctx, args[0], mmio.VideoOptions{
			Model:      config.Model,
			Resolution: config.Resolution,
			Ratio:      config.Ratio,
			StartFrame: config.StartFrame,
			EndFrame:   config.EndFrame,
		})
		exitOnMMIOError(err, "Video generation failed")
		exitOnMMIOError(saveMedia(client, media, "video", config.Output), "Failed to save video")
	},
}

var mmioTranscribeCmd = &cobra.Command{
	Use:   "transcribe <file>",
	Short: "Transcribe an audio or video file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getMMIOTranscribeConfigFromFlags(cmd)
		client := mustMMIOClient(ctx)
		result, err := client.Transcribe(ctx, args[0], mmio.TranscribeOptions{
			Model:      config.Model,
			Timestamps: config.Timestamps,
			Speakers:   config.Speakers,
			Language:   config.Language,
		})
		exitOnMMIOError(err, "Transcription failed")
		exitOnMMIOError(writeResult(result, config.Output, os.Stdout), "Failed to write transcript")
	},
}

var mmioConvertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert a document to markdown, JSON or text",
	Long: `Convert a document to markdown, JSON or text. HTML files converted to
markdown are handled locally without an API call.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		config := getMMIOConvertConfigFromFlags(cmd)
		format, err := mmio.ParseFormat(config.Format)
		exitOnError(err, "Invalid format")

		var result *mmio.Result
		if mmio.ConvertsLocally(args[0], format) {
			result, err = mmio.ConvertHTML(args[0])
		} else {
			result, err = mustMMIOClient(ctx).Convert(ctx, args[0], format, config.Model)
		}
		exitOnMMIOError(err, "Conversion failed")
		exitOnMMIOError(writeResult(result, config.Output, os.Stdout), "Failed to write result")
	},
}

func init() {
	processDefaults := NewMMIOProcessConfig()
	mmioProcessCmd.Flags().StringP("model", "m", processDefaults.Model, "Model (defaults to mmio.models.analyze)")
	mmioProcessCmd.Flags().Bool("json", processDefaults.JSON, "Ask for a JSON response")
	mmioProcessCmd.Flags().String("resolution", processDefaults.Resolution, "Media resolution: low, medium or high (defaults to mmio.resolution)")
	mmioProcessCmd.Flags().String("thinking", processDefaults.Thinking, "Thinking level for gemini-3 models: minimal, low or high")
	mmioProcessCmd.Flags().StringP("output", "o", processDefaults.Output, "Write the response to a file")

	imagineDefaults := NewMMIOImagineConfig()
	mmioImagineCmd.Flags().StringP("model", "m", imagineDefaults.Model, "Model (defaults to mmio.models.imagine)")
	mmioImagineCmd.Flags().String("ratio", imagineDefaults.Ratio, "Aspect ratio, e.g. 1:1, 16:9, 9:16")
	mmioImagineCmd.Flags().String("size", imagineDefaults.Size, "Image size: 1K, 2K or 4K")
	mmioImagineCmd.Flags().Int("count", imagineDefaults.Count, "Number of images (Imagen only, at most 4)")
	mmioImagineCmd.Flags().String("reference", imagineDefaults.Reference, "Reference image for Gemini models")
	mmioImagineCmd.Flags().StringP("output", "o", imagineDefaults.Output, "Output path (defaults to mmio.output_dir)")

	videoDefaults := NewMMIOVideoConfig()
	mmioVideoCmd.Flags().StringP("model", "m", videoDefaults.Model, "Model (defaults to mmio.models.video)")
	mmioVideoCmd.Flags().String("resolution", videoDefaults.Resolution, "Resolution: 720p or 1080p")
	mmioVideoCmd.Flags().String("ratio", videoDefaults.Ratio, "Aspect ratio: 16:9 or 9:16")
	mmioVideoCmd.Flags().String("start-frame", videoDefaults.StartFrame, "Image used as the first frame")
	mmioVideoCmd.Flags().String("end-frame", videoDefaults.EndFrame, "Image used as the last frame")
	mmioVideoCmd.Flags().StringP("output", "o", videoDefaults.Output, "Output path (defaults to mmio.output_dir)")

	transcribeDefaults := NewMMIOTranscribeConfig()
	mmioTranscribeCmd.Flags().StringP("model", "m", transcribeDefaults.Model, "Model (defaults to mmio.models.transcribe)")
	mmioTranscribeCmd.Flags().Bool("timestamps", transcribeDefaults.Timestamps, "Include [HH:MM:SS] timestamps")
	mmioTranscribeCmd.Flags().Bool("speakers", transcribeDefaults.Speakers, "Identify different speakers")
	mmioTranscribeCmd.Flags().String("language", transcribeDefaults.Language, "Transcribe in this language")
	mmioTranscribeCmd.Flags().StringP("output", "o", transcribeDefaults.Output, "Write the transcript to a file")

	convertDefaults := NewMMIOConvertConfig()
	mmioConvertCmd.Flags().StringP("format", "f", convertDefaults.Format, "Output format: markdown, json or text")
	mmioConvertCmd.Flags().StringP("model", "m", convertDefaults.Model, "Model (defaults to mmio.models.analyze)")
	mmioConvertCmd.Flags().StringP("output", "o", convertDefaults.Output, "Write the result to a file")

	mmioCmd.AddCommand(mmioProcessCmd)
	mmioCmd.AddCommand(mmioImagineCmd)
	mmioCmd.AddCommand(mmioVideoCmd)
	mmioCmd.AddCommand(mmioTranscribeCmd)
	mmioCmd.AddCommand(mmioConvertCmd)
	rootCmd.AddCommand(mmioCmd)
}

func getMMIOProcessConfigFromFlags(cmd *cobra.Command) *MMIOProcessConfig {
	config := NewMMIOProcessConfig()
	config.Model, _ = cmd.Flags().GetString("model")
	config.JSON, _ = cmd.Flags().GetBool("json")
	config.Resolution, _ = cmd.Flags().GetString("resolution")
	config.Thinking, _ = cmd.Flags().GetString("thinking")
	config.Output, _ = cmd.Flags().GetString("output")
	return config
}

func getMMIOImagineConfigFromFlags(cmd *cobra.Command) *MMIOImagineConfig {
	config := NewMMIOImagineConfig()
	config.Model, _ = cmd.Flags().GetString("model")
	if ratio, err := cmd.Flags().GetString("ratio"); err == nil && ratio != "" {
		config.Ratio = ratio
	}
	if size, err := cmd.Flags().GetString("size"); err == nil && size != "" {
		config.Size = size
	}
	if count, err := cmd.Flags().GetInt("count"); err == nil {
		config.Count = count
	}
	config.Reference, _ = cmd.Flags().GetString("reference")
	config.Output, _ = cmd.Flags().GetString("output")
	return config
}

func getMMIOVideoConfigFromFlags(cmd *cobra.Command) *MMIOVideoConfig {
	config := NewMMIOVideoConfig()
	config.Model, _ = cmd.Flags().GetString("model")
	if resolution, err := cmd.Flags().GetString("resolution"); err == nil && resolution != "" {
		config.Resolution = resolution
	}
	if ratio, err := cmd.Flags().GetString("ratio"); err == nil && ratio != "" {
		config.Ratio = ratio
	}
	config.StartFrame, _ = cmd.Flags().GetString("start-frame")
	config.EndFrame, _ = cmd.Flags().GetString("end-frame")
	config.Output, _ = cmd.Flags().GetString("output")
	return config
}

func getMMIOTranscribeConfigFromFlags(cmd *cobra.Command) *MMIOTranscribeConfig {
	config := NewMMIOTranscribeConfig()
	config.Model, _ = cmd.Flags().GetString("model")
	config.Timestamps, _ = cmd.Flags().GetBool("timestamps")
	config.Speakers, _ = cmd.Flags().GetBool("speakers")
	config.Language, _ = cmd.Flags().GetString("language")
	config.Output, _ = cmd.Flags().GetString("output")
	return config
}

func getMMIOConvertConfigFromFlags(cmd *cobra.Command) *MMIOConvertConfig {
	config := NewMMIOConvertConfig()
	if format, err := cmd.Flags().GetString("format"); err == nil && format != "" {
		config.Format = format
	}
	config.Model, _ = cmd.Flags().GetString("model")
	config.Output, _ = cmd.Flags().GetString("output")
	return config
}

func newMMIOClient(ctx context.Context, a *app) (*mmio.Client, error) {
	mmio.LoadEnv(ctx, a.workDir)
	return mmio.NewClient(ctx, a.cfg.MMIO)
}

func mustMMIOClient(ctx context.Context) *mmio.Client {
	a := mustLoadApp()
	client, err := newMMIOClient(ctx, a)
	exitOnMMIOError(err, "Failed to create Gemini client")
	return client
}

// exitOnMMIOError exits with 2 for billing and quota errors, 1 otherwise.
func exitOnMMIOError(err error, context string) {
	if err == nil {
		return
	}
	code := mmio.ExitCode(err)
	if code == 2 {
		// The explanation is the message.
		presenter.Error(err, "")
	} else {
		presenter.Error(err, context)
	}
	os.Exit(code)
}

func writeResult(result *mmio.Result, output string, out io.Writer) error {
	presenter.Stats(&presenter.UsageStats{
		Model:    result.Model,
		Tokens:   int64(result.TokensUsed),
		Duration: result.Duration,
	})

	if output == "" {
		fmt.Fprintln(out, result.Text)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", output)
	}
	if err := os.WriteFile(output, []byte(result.Text), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", output)
	}
	presenter.Success(fmt.Sprintf("Saved to %s", output))
	return nil
}

func saveMedia(client *mmio.Client, media *mmio.Media, kind, output string) error {
	if output == "" {
		output = client.OutputPath(kind, media.Extension())
	}
	if err := media.Save(output); err != nil {
		return err
	}
	logger.L.WithField("path", output).WithField("bytes", len(media.Data)).Debug("saved generated media")
	presenter.Success(fmt.Sprintf("Saved %s to %s", kind, output))
	return nil
}
