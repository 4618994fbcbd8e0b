package mmio

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMIMEType is used for extensions missing from the table.
const DefaultMIMEType = "application/octet-stream"

var mimeTypes = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png",
	".webp": "image/webp", ".gif": "image/gif", ".bmp": "image/bmp",
	".mp3": "audio/mp3", ".wav": "audio/wav", ".flac": "audio/flac",
	".aac": "audio/aac", ".ogg": "audio/ogg", ".m4a": "audio/mp4",
	".mp4": "video/mp4", ".mov": "video/quicktime", ".avi": "video/x-msvideo",
	".webm": "video/webm", ".mkv": "video/x-matroska",
	".pdf": "application/pdf", ".txt": "text/plain",
}

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".aac": true, ".ogg": true, ".m4a": true,
}

var youtubePatterns = []string{"youtube.com/watch", "youtu.be/", "youtube.com/shorts"}

// MIMEType returns the MIME type of path by extension.
func MIMEType(path string) string {
	if m, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	return DefaultMIMEType
}

// IsYouTubeURL reports whether source points at a YouTube video.
func IsYouTubeURL(source string) bool {
	for _, p := range youtubePatterns {
		if strings.Contains(source, p) {
			return true
		}
	}
	return false
}

// IsAudio reports whether path has an audio extension.
func IsAudio(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsHTML reports whether path is an HTML document.
func IsHTML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return false
}

func loadFile(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", errors.Errorf("file not found: %s", path)
		}
		return nil, "", errors.Wrapf(err, "failed to read %s", path)
	}
	return data, MIMEType(path), nil
}

// Media is generated image or video output.
type Media struct {
	Data     []byte         `json:"-"`
	Path     string         `json:"path,omitempty"`
	MIMEType string         `json:"mime_type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Extension returns the file extension matching the media's MIME type.
func (m *Media) Extension() string {
	switch m.MIMEType {
	case "image/jpeg":
		return ".jpg"
	case "image/png", "":
		return ".png"
	case "video/mp4":
		return ".mp4"
	}
	exts := make([]string, 0, 2)
	for ext, mimeType := range mimeTypes {
		if mimeType == m.MIMEType {
			exts = append(exts, ext)
		}
	}
	if len(exts) == 0 {
		return ".bin"
	}
	sort.Strings(exts)
	return exts[0]
}

// Save writes the media to path, creating parent directories, and records
// the path.
func (m *Media) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := os.WriteFile(path, m.Data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	m.Path = path
	return nil
}
