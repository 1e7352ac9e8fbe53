package client

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_Success(t *testing.T) {
	payload := bytes.Repeat([]byte{0x1}, 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	art, err := NewArtifactClient(time.Second, 4096).Fetch(context.Background(), srv.URL+"/out.mp4")

	require.NoError(t, err)
	assert.Equal(t, int64(1024), art.Size())
	assert.Equal(t, "video/mp4", art.ContentType)
	assert.Equal(t, "mp4", art.Extension)
}

func TestFetch_ExtensionFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-custom")
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	art, err := NewArtifactClient(time.Second, 0).Fetch(context.Background(), srv.URL+"/result.MKV?sig=abc")

	require.NoError(t, err)
	assert.Equal(t, "mkv", art.Extension)
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			wantErr: ErrEmptyArtifact,
		},
		{
			name: "too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(bytes.Repeat([]byte{0x1}, 200))
			},
			wantErr: ErrArtifactTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewArtifactClient(time.Second, 100).Fetch(context.Background(), srv.URL)

			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestArtifactExtension(t *testing.T) {
	assert.Equal(t, "json", artifactExtension("application/json", "https://x/t"))
	assert.Equal(t, "mp4", artifactExtension("video/mp4", "https://x/t.bin"))
	assert.Equal(t, "bin", artifactExtension("", "https://x/noext"))
}

func TestMinioClient_GetPublicURL(t *testing.T) {
	c := &MinioClient{bucket: "media", endpoint: "minio:9000"}
	assert.Equal(t, "http://minio:9000/media/videos/a.mp4", c.GetPublicURL("videos/a.mp4"))

	c.useSSL = true
	assert.Equal(t, "https://minio:9000/media/videos/a.mp4", c.GetPublicURL("videos/a.mp4"))

	c.publicURL = "https://cdn.example.com"
	assert.Equal(t, "https://cdn.example.com/videos/a.mp4", c.GetPublicURL("videos/a.mp4"))
}

func TestR2Client_GetPublicURL(t *testing.T) {
	c := &R2Client{bucketName: "media", publicURL: "https://cdn.example.com"}
	assert.Equal(t, "https://cdn.example.com/k.mp4", c.GetPublicURL("k.mp4"))
}
