package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/pterodeploy/pterodeploy/internal/domain"
	"github.com/pterodeploy/pterodeploy/internal/repository"
	"github.com/pterodeploy/pterodeploy/internal/service/auth"
	"github.com/pterodeploy/pterodeploy/internal/service/deploy"
	"github.com/pterodeploy/pterodeploy/internal/ws"
	"github.com/pterodeploy/pterodeploy/pkg/config"
)

const testToken = "valid-token"

type fakeAuth struct{}

func (fakeAuth) Signup(_ context.Context, email, password string) (*domain.User, auth.TokenPair, error) {
	if !strings.Contains(email, "@") || len(password) < 8 {
		return nil, auth.TokenPair{}, auth.ErrInvalidCredentials
	}
	return &domain.User{ID: "user-1", Email: email}, auth.TokenPair{AccessToken: testToken}, nil
}

func (fakeAuth) Login(_ context.Context, email, password string) (*domain.User, auth.TokenPair, error) {
	if email != "alice@example.com" || password != "hunter2hunter2" {
		return nil, auth.TokenPair{}, auth.ErrInvalidCredentials
	}
	return &domain.User{ID: "user-1", Email: email}, auth.TokenPair{AccessToken: testToken}, nil
}

func (fakeAuth) Authorize(_ context.Context, token string) (*domain.User, error) {
	if token != testToken {
		return nil, auth.ErrInvalidCredentials
	}
	return &domain.User{ID: "user-1", Email: "alice@example.com"}, nil
}

// fakeDeploy returns canned results keyed by deployment ID.
type fakeDeploy struct {
	startErr  error
	cancelErr error
}

func (fakeDeploy) Create(_ context.Context, ownerID, targetURL, name string) (*domain.Deployment, error) {
	if strings.TrimSpace(targetURL) == "" {
		return nil, deploy.ErrEmptyTarget
	}
	return &domain.Deployment{ID: "dep-1", OwnerID: ownerID, TargetURL: targetURL, Name: name, Status: domain.StatusPending}, nil
}

func (fakeDeploy) Get(_ context.Context, ownerID, deploymentID string) (*domain.Deployment, error) {
	if deploymentID != "dep-1" {
		return nil, repository.ErrNotFound
	}
	return &domain.Deployment{ID: "dep-1", OwnerID: ownerID, Status: domain.StatusPending}, nil
}

func (fakeDeploy) List(context.Context, string, domain.DeploymentFilter) ([]domain.Deployment, error) {
	return []domain.Deployment{{ID: "dep-1", Status: domain.StatusPending}}, nil
}

func (f fakeDeploy) Start(_ context.Context, _, deploymentID string) error {
	if deploymentID != "dep-1" {
		return repository.ErrNotFound
	}
	return f.startErr
}

func (f fakeDeploy) Cancel(_ context.Context, _, deploymentID string) error {
	if deploymentID != "dep-1" {
		return repository.ErrNotFound
	}
	return f.cancelErr
}

func newTestRouter(t *testing.T, deploySvc DeployService) http.Handler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{Environment: "test"}
	limiter := NewMemoryRateLimiter()
	t.Cleanup(limiter.Close)
	router := NewRouter(log, cfg, fakeAuth{}, deploySvc, ws.NewHub(), limiter)
	return router.Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(t, fakeDeploy{})
	rec := doRequest(t, handler, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDeploymentsRequireAuth(t *testing.T) {
	handler := newTestRouter(t, fakeDeploy{})
	paths := []struct{ method, path string }{
		{http.MethodGet, "/deployments"},
		{http.MethodPost, "/deployments"},
		{http.MethodGet, "/deployments/dep-1"},
		{http.MethodPost, "/deployments/dep-1/start"},
		{http.MethodPost, "/deployments/dep-1/cancel"},
	}
	for _, p := range paths {
		rec := doRequest(t, handler, p.method, p.path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestRejectsBadToken(t *testing.T) {
	handler := newTestRouter(t, fakeDeploy{})
	rec := doRequest(t, handler, http.MethodGet, "/deployments", "wrong", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSignupAndLogin(t *testing.T) {
	handler := newTestRouter(t, fakeDeploy{})

	rec := doRequest(t, handler, http.MethodPost, "/auth/signup", "", `{"email":"alice@example.com","password":"hunter2hunter2"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, want 201: %s", rec.Code, rec.Body)
	}
	var signedUp authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &signedUp); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if signedUp.Tokens.AccessToken == "" {
		t.Error("signup returned no access token")
	}

	rec = doRequest(t, handler, http.MethodPost, "/auth/login", "", `{"email":"alice@example.com","password":"wrong-password"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/auth/login", "", `{"email":"alice@example.com","password":"hunter2hunter2"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("login status = %d, want 200", rec.Code)
	}
}

func TestCreateDeployment(t *testing.T) {
	handler := newTestRouter(t, fakeDeploy{})

	rec := doRequest(t, handler, http.MethodPost, "/deployments", testToken, `{"target_url":"https://example.com/pack.zip"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, handler, http.MethodPost, "/deployments", testToken, `{"target_url":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty target status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/deployments", testToken, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestGetDeployment(t *testing.T) {
	handler := newTestRouter(t, fakeDeploy{})

	rec := doRequest(t, handler, http.MethodGet, "/deployments/dep-1", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	rec = doRequest(t, handler, http.MethodGet, "/deployments/missing", testToken, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing deployment status = %d, want 404", rec.Code)
	}
}

func TestStartDeployment(t *testing.T) {
	handler := newTestRouter(t, fakeDeploy{})
	rec := doRequest(t, handler, http.MethodPost, "/deployments/dep-1/start", testToken, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}

	conflicted := newTestRouter(t, fakeDeploy{startErr: deploy.ErrNotPending})
	rec = doRequest(t, conflicted, http.MethodPost, "/deployments/dep-1/start", testToken, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("non-pending start status = %d, want 409", rec.Code)
	}
}

func TestCancelDeployment(t *testing.T) {
	handler := newTestRouter(t, fakeDeploy{})
	rec := doRequest(t, handler, http.MethodPost, "/deployments/dep-1/cancel", testToken, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	terminal := newTestRouter(t, fakeDeploy{cancelErr: deploy.ErrAlreadyTerminal})
	rec = doRequest(t, terminal, http.MethodPost, "/deployments/dep-1/cancel", testToken, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("terminal cancel status = %d, want 409", rec.Code)
	}
}

func TestUnknownSubresource(t *testing.T) {
	handler := newTestRouter(t, fakeDeploy{})
	rec := doRequest(t, handler, http.MethodPost, "/deployments/dep-1/restart", testToken, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestMemoryRateLimiter(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	defer limiter.Close()

	for i := 0; i < 3; i++ {
		if decision := limiter.Allow("k", 3, time.Minute); !decision.allowed {
			t.Fatalf("request %d denied under limit", i)
		}
	}
	if decision := limiter.Allow("k", 3, time.Minute); decision.allowed {
		t.Fatal("request over limit was allowed")
	}
	if decision := limiter.Allow("other", 3, time.Minute); !decision.allowed {
		t.Fatal("separate key shares the window")
	}
}

func TestRateLimitReturns429(t *testing.T) {
	handler := newTestRouter(t, fakeDeploy{})
	body := `{"email":"nope","password":"short"}`
	var last *httptest.ResponseRecorder
	for i := 0; i < authRateLimit+1; i++ {
		last = doRequest(t, handler, http.MethodPost, "/auth/signup", "", body)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status after %d requests = %d, want 429", authRateLimit+1, last.Code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/deployments":            "/deployments",
		"/deployments/abc":        "/deployments/{id}",
		"/deployments/abc/start":  "/deployments/{id}/start",
		"/deployments/abc/cancel": "/deployments/{id}/cancel",
		"/healthz":                "/healthz",
	}
	for path, want := range cases {
		if got := normalizeRoute(path); got != want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", path, got, want)
		}
	}
}
