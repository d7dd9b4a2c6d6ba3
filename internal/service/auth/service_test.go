package auth

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/pterodeploy/pterodeploy/internal/domain"
	"github.com/pterodeploy/pterodeploy/internal/repository"
	"github.com/pterodeploy/pterodeploy/pkg/config"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*domain.User)}
}

func (r *fakeUserRepo) CreateUser(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return errors.New("duplicate email")
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func newTestAuth() Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}
	return New(newFakeUserRepo(), log, cfg)
}

func TestSignupLoginAuthorize(t *testing.T) {
	svc := newTestAuth()
	ctx := context.Background()

	user, tokens, err := svc.Signup(ctx, "Alice@Example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email = %q, want lowercased", user.Email)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Error("signup returned empty tokens")
	}

	_, loginTokens, err := svc.Login(ctx, "alice@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}

	authorized, err := svc.Authorize(ctx, loginTokens.AccessToken)
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if authorized.ID != user.ID {
		t.Errorf("authorized user = %q, want %q", authorized.ID, user.ID)
	}
}

func TestSignupValidation(t *testing.T) {
	svc := newTestAuth()
	ctx := context.Background()

	if _, _, err := svc.Signup(ctx, "not-an-email", "hunter2hunter2"); err == nil {
		t.Error("expected error for invalid email")
	}
	if _, _, err := svc.Signup(ctx, "bob@example.com", "short"); err == nil {
		t.Error("expected error for short password")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newTestAuth()
	ctx := context.Background()

	if _, _, err := svc.Signup(ctx, "alice@example.com", "hunter2hunter2"); err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthorizeRejectsGarbageToken(t *testing.T) {
	svc := newTestAuth()
	for _, token := range []string{"", "   ", "not.a.jwt", strings.Repeat("x", 64)} {
		if _, err := svc.Authorize(context.Background(), token); err == nil {
			t.Errorf("Authorize(%q) succeeded, want error", token)
		}
	}
}
