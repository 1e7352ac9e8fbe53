package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

var (
	ErrEmptyArtifact    = errors.New("artifact is empty")
	ErrArtifactTooLarge = errors.New("artifact exceeds size limit")
)

// Artifact is a downloaded result file
type Artifact struct {
	Data        []byte
	ContentType string
	Extension   string
}

// Size returns the artifact length in bytes
func (a *Artifact) Size() int64 {
	return int64(len(a.Data))
}

// ArtifactClient downloads vendor result files
type ArtifactClient struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewArtifactClient creates a downloader that rejects files above maxBytes
func NewArtifactClient(timeout time.Duration, maxBytes int64) *ArtifactClient {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ArtifactClient{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

// Fetch makes a single download attempt and validates the body
func (c *ArtifactClient) Fetch(ctx context.Context, rawURL string) (*Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artifact download failed with status %d", resp.StatusCode)
	}

	if c.maxBytes > 0 && resp.ContentLength > c.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrArtifactTooLarge, resp.ContentLength)
	}

	reader := io.Reader(resp.Body)
	if c.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyArtifact
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, ErrArtifactTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			contentType = mediaType
		}
	}

	return &Artifact{
		Data:        data,
		ContentType: contentType,
		Extension:   artifactExtension(contentType, rawURL),
	}, nil
}

var extensionsByType = map[string]string{
	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/webm":       "webm",
	"audio/mpeg":       "mp3",
	"audio/wav":        "wav",
	"application/json": "json",
	"text/plain":       "txt",
}

// artifactExtension prefers the content type and falls back to the URL path
func artifactExtension(contentType, rawURL string) string {
	if ext, ok := extensionsByType[contentType]; ok {
		return ext
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" && len(ext) <= 5 {
			return strings.ToLower(ext)
		}
	}
	return "bin"
}
