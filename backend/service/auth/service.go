package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"danmakuhub/backend/store"
)

type Service struct {
	store         *store.Store
	sessionMaxAge time.Duration

	rateMu   sync.Mutex
	failures map[string]loginFailure
}

type loginFailure struct {
	count    int
	lockedAt time.Time
}

type LoginResult struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expiresAt"`
	User      UserInfo `json:"user"`
}

type UserInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

const (
	maxLoginFailures = 5
	lockoutDuration  = 5 * time.Minute
	defaultMaxAge    = 24 * time.Hour
)

func New(storeDB *store.Store, sessionMaxAge time.Duration) *Service {
	if sessionMaxAge <= 0 {
		sessionMaxAge = defaultMaxAge
	}
	return &Service{
		store:         storeDB,
		sessionMaxAge: sessionMaxAge,
		failures:      make(map[string]loginFailure),
	}
}

// EnsureBootstrapUser creates the admin account on first start. A missing
// password leaves the service with no accounts; the admin surface then
// rejects everything until one is configured.
func (s *Service) EnsureBootstrapUser(ctx context.Context, username string, password string) error {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil
	}
	existing, err := s.store.GetAdminUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return err
	}
	_, err = s.store.CreateAdminUser(ctx, username, string(hash))
	return err
}

func (s *Service) Login(ctx context.Context, username string, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	if s.isLockedOut(username) {
		return nil, errors.New("too many login attempts, please try again later")
	}

	user, err := s.store.GetAdminUserByUsername(ctx, username)
	if err != nil || user == nil {
		s.recordFailure(username)
		return nil, errors.New("invalid username or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordFailure(username)
		return nil, errors.New("invalid username or password")
	}

	s.clearFailure(username)

	token := uuid.NewString()
	expiresAt := time.Now().UTC().Add(s.sessionMaxAge)
	if _, err := s.store.CreateAdminSession(ctx, user.ID, token, expiresAt); err != nil {
		return nil, err
	}

	// Best-effort cleanup of expired sessions.
	_, _ = s.store.DeleteExpiredAdminSessions(ctx)

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		User: UserInfo{
			ID:       user.ID,
			Username: user.Username,
		},
	}, nil
}

func (s *Service) Validate(ctx context.Context, token string) (*store.AdminUser, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("empty token")
	}
	session, err := s.store.GetAdminSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.New("invalid session")
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		_ = s.store.DeleteAdminSession(ctx, token)
		return nil, errors.New("session expired")
	}
	user, err := s.store.GetAdminUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New("user not found")
	}
	return user, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return s.store.DeleteAdminSession(ctx, token)
}

func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredAdminSessions(ctx)
}

func (s *Service) isLockedOut(username string) bool {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	f, ok := s.failures[username]
	if !ok {
		return false
	}
	if f.count >= maxLoginFailures && time.Since(f.lockedAt) < lockoutDuration {
		return true
	}
	if time.Since(f.lockedAt) >= lockoutDuration {
		delete(s.failures, username)
	}
	return false
}

func (s *Service) recordFailure(username string) {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	f := s.failures[username]
	f.count++
	f.lockedAt = time.Now()
	s.failures[username] = f
}

func (s *Service) clearFailure(username string) {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	delete(s.failures, username)
}
