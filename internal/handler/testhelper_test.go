package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/matrixai/api/internal/auth"
	"github.com/matrixai/api/internal/client"
	"github.com/matrixai/api/internal/gateway"
	"github.com/matrixai/api/internal/handler"
	"github.com/matrixai/api/internal/middleware"
	"github.com/matrixai/api/internal/repository"
	"github.com/matrixai/api/internal/retry"
	"github.com/matrixai/api/internal/service"
	"github.com/matrixai/api/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "owner1"
)

// scriptedGateway replays poll outcomes in order; the last one repeats.
type scriptedGateway struct {
	mu          sync.Mutex
	outcomes    []gateway.Outcome
	submitErr   error
	submitCalls int
	pollCalls   int
}

func (g *scriptedGateway) Submit(ctx context.Context, in gateway.Input) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitCalls++
	if g.submitErr != nil {
		return "", g.submitErr
	}
	return "task-1", nil
}

func (g *scriptedGateway) Poll(ctx context.Context, taskID string) (gateway.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pollCalls++
	if len(g.outcomes) == 0 {
		return gateway.Running(), nil
	}
	out := g.outcomes[0]
	if len(g.outcomes) > 1 {
		g.outcomes = g.outcomes[1:]
	}
	return out, nil
}

func (g *scriptedGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submitCalls + g.pollCalls
}

// memoryStore keeps uploaded artifacts in memory
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memoryStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return "https://store/" + key, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memoryStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

// inlineDispatcher runs the poll phase before the create request returns
type inlineDispatcher struct {
	orchestrator *worker.Orchestrator
	canceled     []string
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, jobID string) error {
	return d.orchestrator.Run(ctx, jobID)
}

func (d *inlineDispatcher) Cancel(ctx context.Context, jobID string) error {
	d.canceled = append(d.canceled, jobID)
	return nil
}

// testApp holds all components needed for testing
type testApp struct {
	app        *fiber.App
	gateway    *scriptedGateway
	store      *memoryStore
	jobs       *repository.MemoryJobRepository
	ledger     *repository.MemoryLedgerRepository
	dispatcher *inlineDispatcher
	vendorURL  string
}

// setupApp creates a Fiber app wired like main.go, with in-memory
// repositories, a scripted vendor and a local artifact server.
func setupApp(t *testing.T, coins int64) *testApp {
	t.Helper()

	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(make([]byte, 1024))
	}))
	t.Cleanup(vendor.Close)

	ta := &testApp{
		gateway:   &scriptedGateway{},
		store:     &memoryStore{objects: make(map[string][]byte)},
		jobs:      repository.NewMemoryJobRepository(),
		ledger:    repository.NewMemoryLedgerRepository(),
		vendorURL: vendor.URL + "/out.mp4",
	}
	if coins >= 0 {
		if err := ta.ledger.CreateAccount(context.Background(), testUserID, coins); err != nil {
			t.Fatalf("failed to seed account: %v", err)
		}
	}

	log := zerolog.Nop()
	gateways := gateway.NewRegistry(map[gateway.Variant]gateway.Gateway{
		gateway.VariantTextToVideo:      ta.gateway,
		gateway.VariantImageToVideo:     ta.gateway,
		gateway.VariantImageToVideoPlus: ta.gateway,
		gateway.VariantTranscription:    ta.gateway,
	}, []string{"dance1"})

	ledgerService := service.NewLedgerService(ta.ledger, log)
	orchestrator := worker.NewOrchestrator(
		ta.jobs, gateways, client.NewArtifactClient(5*time.Second, 1<<20), ta.store, ledgerService, nil,
		worker.OrchestratorConfig{
			PollInterval:  time.Millisecond,
			MaxAttempts:   5,
			Submit:        retry.Constant(2, time.Millisecond),
			Download:      retry.Constant(2, time.Millisecond),
			UploadTimeout: 5 * time.Second,
		},
		log,
	)
	ta.dispatcher = &inlineDispatcher{orchestrator: orchestrator}

	jobService := service.NewJobService(
		ta.jobs, ledgerService, orchestrator, ta.dispatcher, ta.store, gateways,
		service.Pricing{Standard: 25, Premium: 55, Transcription: 5}, log,
	)

	validate := validator.New()
	jobHandler := handler.NewJobHandler(jobService, validate, log)
	ledgerHandler := handler.NewLedgerHandler(ledgerService)
	authHandler := handler.NewAuthHandler(auth.NewAuthenticator(nil, testJWTSecret))

	// Legacy HMAC auth only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)

	app := fiber.New()
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", authMiddleware.Authenticate())

	jobs := api.Group("/jobs")
	jobs.Post("/", jobHandler.Create)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Delete("/:jobId", jobHandler.Delete)

	ledger := api.Group("/ledger")
	ledger.Get("/balance", ledgerHandler.Balance)
	ledger.Get("/transactions", ledgerHandler.Transactions)

	ta.app = app
	return ta
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.IssueLegacyToken(userID, userID+"@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request authenticated as testUserID.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doAuthRequestAs(t, app, testUserID, method, path, body)
}

func doAuthRequestAs(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from an error envelope.
func errorCode(t *testing.T, result map[string]interface{}) string {
	t.Helper()
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", result)
	}
	code, _ := errObj["code"].(string)
	return code
}
