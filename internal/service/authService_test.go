package service

import (
	"context"
	"testing"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/google/uuid"
)

type stubUserStore struct {
	users map[string]*models.User
}

func (s *stubUserStore) Create(_ context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	s.users[u.Email] = u
	return nil
}

func (s *stubUserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return s.users[email], nil
}

func (s *stubUserStore) FindById(_ context.Context, id string) (*models.User, error) {
	for _, u := range s.users {
		if u.ID.String() == id {
			return u, nil
		}
	}
	return nil, nil
}

func (s *stubUserStore) Count(context.Context) (int64, error) {
	return int64(len(s.users)), nil
}

func TestRegisterLoginValidate(t *testing.T) {
	store := &stubUserStore{users: map[string]*models.User{}}
	svc := NewAuthService(store, "secret", 1, false)
	ctx := context.Background()

	if err := svc.Register(ctx, "ops@example.com", "hunter22", "Ops"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := svc.Register(ctx, "other@example.com", "pw", "Other"); err != ErrRegistrationClosed {
		t.Errorf("second Register() error = %v, want ErrRegistrationClosed", err)
	}

	if _, err := svc.Login(ctx, "ops@example.com", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("Login(wrong password) error = %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "hunter22"); err != ErrInvalidCredentials {
		t.Errorf("Login(unknown user) error = %v", err)
	}

	token, err := svc.Login(ctx, "ops@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims["email"] != "ops@example.com" || claims["role"] != "admin" {
		t.Errorf("claims = %v", claims)
	}

	other := NewAuthService(store, "different", 1, false)
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("token signed with another secret should be rejected")
	}
}

func TestOpenRegistrationRejectsDuplicates(t *testing.T) {
	store := &stubUserStore{users: map[string]*models.User{}}
	svc := NewAuthService(store, "secret", 1, true)
	ctx := context.Background()

	if err := svc.Register(ctx, "a@example.com", "pw", "A"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := svc.Register(ctx, "b@example.com", "pw", "B"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := svc.Register(ctx, "a@example.com", "pw", "A"); err != ErrUserExists {
		t.Errorf("Register(duplicate) error = %v, want ErrUserExists", err)
	}
}
