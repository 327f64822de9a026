package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"jestbook/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users         map[string]store.User
	emailIndex    map[string]string // email -> userID
	verifications map[string]store.User
	resets        map[string]struct {
		userID    string
		expiresAt time.Time
		used      bool
	}
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:         make(map[string]store.User),
		emailIndex:    make(map[string]string),
		verifications: make(map[string]store.User),
		resets: make(map[string]struct {
			userID    string
			expiresAt time.Time
			used      bool
		}),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if user, ok := m.users[userID]; ok {
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		m.users[userID] = user
		m.verifications[token] = user
	}
	return nil
}

func (m *mockUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	if user, ok := m.verifications[token]; ok {
		user.IsEmailVerified = true
		m.users[user.ID] = user
		m.emailIndex[user.Email] = user.ID
		return nil
	}
	return errors.New("invalid token")
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		m.users[userID] = user
		return nil
	}
	return errors.New("user not found")
}

func (m *mockUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = struct {
		userID    string
		expiresAt time.Time
		used      bool
	}{userID: userID, expiresAt: expiresAt, used: false}
	return nil
}

func (m *mockUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", errors.New("invalid or expired token")
}

func (m *mockUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		req := SignUpRequest{
			Email:       "test@example.com",
			Password:    "password123",
			DisplayName: "Test User",
		}
		resp, err := svc.SignUp(ctx, req)
		if err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}
		if resp.UserID == "" {
			t.Error("expected user ID")
		}
		if resp.VerificationToken == "" {
			t.Error("expected verification token")
		}
		if !resp.RequiresEmailVerify {
			t.Error("expected email verification to be required")
		}

		user, err := mockStore.GetUserByID(ctx, resp.UserID)
		if err != nil {
			t.Fatalf("created user not found: %v", err)
		}
		if len(user.Groups) != 1 || user.Groups[0] != "contributor" {
			t.Errorf("expected new users in the contributor group, got %v", user.Groups)
		}
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		req := SignUpRequest{
			Email:       "test@example.com",
			Password:    "password123",
			DisplayName: "Another User",
		}
		if _, err := svc.SignUp(ctx, req); err == nil {
			t.Error("expected error for duplicate email")
		}
	})

	t.Run("short password rejected", func(t *testing.T) {
		req := SignUpRequest{
			Email:       "short@example.com",
			Password:    "short",
			DisplayName: "Short Password",
		}
		if _, err := svc.SignUp(ctx, req); err == nil {
			t.Error("expected error for short password")
		}
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{Email: "x@example.com"}); err == nil {
			t.Error("expected error for missing fields")
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	signUp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "signin@example.com",
		Password:    "password123",
		DisplayName: "Sign In User",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	t.Run("unverified email requires verify", func(t *testing.T) {
		resp, err := svc.SignIn(ctx, SignInRequest{Email: "signin@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if !resp.RequiresVerify {
			t.Error("expected verification requirement before email confirmed")
		}
	})

	if err := svc.VerifyEmail(ctx, signUp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		resp, err := svc.SignIn(ctx, SignInRequest{Email: "signin@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if resp.RequiresVerify {
			t.Error("did not expect verification requirement after confirming email")
		}
		if resp.User.Email != "signin@example.com" {
			t.Errorf("unexpected user: %+v", resp.User)
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "signin@example.com", Password: "wrong-password"}); err == nil {
			t.Error("expected error for wrong password")
		}
	})

	t.Run("unknown email rejected", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "password123"}); err == nil {
			t.Error("expected error for unknown email")
		}
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore())

	if err := svc.VerifyEmail(ctx, ""); err == nil {
		t.Error("expected error for empty token")
	}
	if err := svc.VerifyEmail(ctx, "bogus-token"); err == nil {
		t.Error("expected error for unknown token")
	}
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	signUp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "reset@example.com",
		Password:    "password123",
		DisplayName: "Reset User",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if err := svc.VerifyEmail(ctx, signUp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	t.Run("unknown email yields no token and no error", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "nobody@example.com")
		if err != nil {
			t.Fatalf("RequestPasswordReset failed: %v", err)
		}
		if token != "" {
			t.Error("expected empty token for unknown email")
		}
	})

	t.Run("full reset flow", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "reset@example.com")
		if err != nil {
			t.Fatalf("RequestPasswordReset failed: %v", err)
		}
		if token == "" {
			t.Fatal("expected reset token")
		}

		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "new-password-456"}); err != nil {
			t.Fatalf("ResetPassword failed: %v", err)
		}

		if _, err := svc.SignIn(ctx, SignInRequest{Email: "reset@example.com", Password: "password123"}); err == nil {
			t.Error("old password still accepted after reset")
		}
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "reset@example.com", Password: "new-password-456"}); err != nil {
			t.Errorf("new password rejected: %v", err)
		}

		// Token is single use.
		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "another-pass-789"}); err == nil {
			t.Error("expected error reusing the reset token")
		}
	})

	t.Run("short new password rejected", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "reset@example.com")
		if err != nil {
			t.Fatalf("RequestPasswordReset failed: %v", err)
		}
		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "short"}); err == nil {
			t.Error("expected error for short password")
		}
	})
}
