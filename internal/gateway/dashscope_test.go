package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixai/api/internal/client"
	"github.com/matrixai/api/internal/config"
	"github.com/matrixai/api/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *client.DashScopeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return client.NewDashScopeClient(&config.DashScopeConfig{BaseURL: srv.URL, Timeout: 5}, "test-key", zerolog.Nop())
}

func TestSubmit_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusForbidden, AuthFailure},
		{http.StatusTooManyRequests, RateLimited},
		{http.StatusInternalServerError, ServerError},
		{http.StatusBadGateway, ServerError},
		{http.StatusBadRequest, InvalidInput},
		{http.StatusUnauthorized, InvalidInput},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"code":"Err","message":"nope"}`))
			})
			gw := NewTextToVideoGateway(c, "wanx2.1-t2v-turbo", "720P")

			_, err := gw.Submit(context.Background(), Input{Prompt: "cat"})

			var se *SubmissionError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.kind, se.Kind)
			assert.Equal(t, tt.status, se.Status)
		})
	}
}

func TestSubmit_SendsAsyncVideoRequest(t *testing.T) {
	var got client.VideoSynthesisRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/services/aigc/video-generation/video-synthesis", r.URL.Path)
		assert.Equal(t, "enable", r.Header.Get("X-DashScope-Async"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"output":{"task_id":"task-1","task_status":"PENDING"}}`))
	})
	gw := NewImageToVideoGateway(c, "wanx2.1-i2v-plus", "720P")

	taskID, err := gw.Submit(context.Background(), Input{ImageURL: "https://img/x.png", Template: "dance1"})

	require.NoError(t, err)
	assert.Equal(t, "task-1", taskID)
	assert.Equal(t, "wanx2.1-i2v-plus", got.Model)
	assert.Equal(t, "https://img/x.png", got.Input.ImageURL)
	assert.Equal(t, "dance1", got.Input.Template)
	assert.Equal(t, "720P", got.Parameters.Resolution)
	assert.Nil(t, got.Parameters.PromptExtend)
}

func TestSubmit_TextToVideoUsesSize(t *testing.T) {
	var got client.VideoSynthesisRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"output":{"task_id":"task-2"}}`))
	})
	gw := NewTextToVideoGateway(c, "wanx2.1-t2v-turbo", "720P")

	_, err := gw.Submit(context.Background(), Input{Prompt: "cat", Resolution: "480P"})

	require.NoError(t, err)
	assert.Equal(t, "832*480", got.Parameters.Size)
	require.NotNil(t, got.Parameters.PromptExtend)
	assert.True(t, *got.Parameters.PromptExtend)
}

func TestSubmit_MissingTaskID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":{}}`))
	})
	gw := NewTextToVideoGateway(c, "m", "720P")

	_, err := gw.Submit(context.Background(), Input{Prompt: "cat"})

	assert.Equal(t, ServerError, KindOf(err))
}

func TestSubmit_TransportFailureIsServerError(t *testing.T) {
	c := client.NewDashScopeClient(&config.DashScopeConfig{BaseURL: "http://127.0.0.1:1", Timeout: 1}, "k", zerolog.Nop())
	gw := NewTextToVideoGateway(c, "m", "720P")

	_, err := gw.Submit(context.Background(), Input{Prompt: "cat"})

	assert.Equal(t, ServerError, KindOf(err))
}

func TestPoll_MapsTaskStatus(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		state State
		url   string
	}{
		{"pending", `{"output":{"task_status":"PENDING"}}`, StateRunning, ""},
		{"running", `{"output":{"task_status":"RUNNING"}}`, StateRunning, ""},
		{"succeeded", `{"output":{"task_status":"SUCCEEDED","video_url":"http://vendor/out.mp4"}}`, StateSucceeded, "http://vendor/out.mp4"},
		{"succeeded without url", `{"output":{"task_status":"SUCCEEDED"}}`, StateFailed, ""},
		{"failed", `{"output":{"task_status":"FAILED","code":"DataInspectionFailed","message":"bad input"}}`, StateFailed, ""},
		{"canceled", `{"output":{"task_status":"CANCELED"}}`, StateFailed, ""},
		{"unknown", `{"output":{"task_status":"UNKNOWN"}}`, StateFailed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/tasks/task-1", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})
			gw := NewTextToVideoGateway(c, "m", "720P")

			out, err := gw.Poll(context.Background(), "task-1")

			require.NoError(t, err)
			assert.Equal(t, tt.state, out.State)
			assert.Equal(t, tt.url, out.ArtifactURL)
			if tt.state == StateFailed {
				assert.NotEmpty(t, out.Reason)
			}
		})
	}
}

func TestPoll_TransportErrorIsReturned(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	gw := NewTextToVideoGateway(c, "m", "720P")

	_, err := gw.Poll(context.Background(), "task-1")

	assert.Error(t, err)
}

func TestTranscriptionGateway(t *testing.T) {
	var submitted client.TranscriptionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "/api/v1/services/audio/asr/transcription", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			_, _ = w.Write([]byte(`{"output":{"task_id":"asr-1","task_status":"PENDING"}}`))
		default:
			_, _ = w.Write([]byte(`{"output":{"task_status":"SUCCEEDED","results":[{"file_url":"https://a/x.mp3","transcription_url":"https://vendor/t.json","subtask_status":"SUCCEEDED"}]}}`))
		}
	})
	gw := NewTranscriptionGateway(c, "paraformer-v2")

	taskID, err := gw.Submit(context.Background(), Input{AudioURL: "https://a/x.mp3", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "asr-1", taskID)
	assert.Equal(t, []string{"https://a/x.mp3"}, submitted.Input.FileURLs)
	assert.Equal(t, []string{"en"}, submitted.Parameters.LanguageHints)

	out, err := gw.Poll(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, Succeeded("https://vendor/t.json"), out)
}

func TestRegistry_VariantFor(t *testing.T) {
	r := NewRegistry(nil, []string{"dance1", "Money"})

	tests := []struct {
		kind     model.JobKind
		template string
		want     Variant
	}{
		{model.JobKindTextToVideo, "", VariantTextToVideo},
		{model.JobKindImageToVideo, "", VariantImageToVideo},
		{model.JobKindImageToVideoTemplate, "flying", VariantImageToVideo},
		{model.JobKindImageToVideoTemplate, "dance1", VariantImageToVideoPlus},
		{model.JobKindImageToVideoTemplate, "money", VariantImageToVideoPlus},
		{model.JobKindTranscription, "", VariantTranscription},
	}
	for _, tt := range tests {
		got, err := r.VariantFor(tt.kind, tt.template)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s/%s", tt.kind, tt.template)
	}

	_, err := r.VariantFor("unknown", "")
	assert.Error(t, err)
}

func TestRegistry_ResolveMissingVariant(t *testing.T) {
	r := NewRegistry(map[Variant]Gateway{}, nil)

	_, _, err := r.Resolve(model.JobKindTextToVideo, "")

	assert.Error(t, err)
}
