// Package service holds the session core: registration, sign-in, refresh
// token rotation and logout.  SessionService is the only component that
// mints tokens or writes users and refresh_tokens rows.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/testdeck/internal/model"
	"github.com/iliyamo/testdeck/internal/queue"
	"github.com/iliyamo/testdeck/internal/repository"
	"github.com/iliyamo/testdeck/internal/utils"
)

// tokenPrefixLen is how much of a token may appear in logs and events.
const tokenPrefixLen = 10

// UserStore is the subset of repository.UserRepo the service needs.
type UserStore interface {
	Create(ctx context.Context, u repository.NewUser) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	TouchLastLogin(ctx context.Context, id uint64, at time.Time) error
	SetActive(ctx context.Context, id uint64, active bool) error
}

// TokenStore is the subset of repository.TokenRepo the service needs.
type TokenStore interface {
	Create(ctx context.Context, userID uint64, token string, exp time.Time) (uint64, error)
	GetByToken(ctx context.Context, token string) (model.RefreshToken, error)
	Delete(ctx context.Context, id uint64) error
	DeleteAllForUser(ctx context.Context, userID uint64) (int64, error)
	Rotate(ctx context.Context, oldID, userID uint64, token string, exp time.Time) (uint64, error)
}

// EventPublisher delivers security events off the request path.  Publish
// must not block on the broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.SecurityEvent) error
}

// Session is returned by Register and Signin.
type Session struct {
	User         model.PublicUser
	AccessToken  utils.AccessToken
	RefreshToken utils.RefreshToken
}

// TokenPair is returned by Refresh.
type TokenPair struct {
	AccessToken  utils.AccessToken
	RefreshToken utils.RefreshToken
}

type SessionService struct {
	users      UserStore
	tokens     TokenStore
	codec      *utils.Codec
	events     EventPublisher
	log        *zap.SugaredLogger
	bcryptCost int
	now        func() time.Time
}

// NewSessionService wires the session core.  A nil publisher drops events.
func NewSessionService(users UserStore, tokens TokenStore, codec *utils.Codec, events EventPublisher, log *zap.SugaredLogger, bcryptCost int) *SessionService {
	if events == nil {
		events = queue.NopPublisher{}
	}
	return &SessionService{
		users:      users,
		tokens:     tokens,
		codec:      codec,
		events:     events,
		log:        log,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// WithClock replaces the time source used for expiry checks and
// timestamps.  It should match the codec's clock.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// Register creates a tester account and opens its first session.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (Session, error) {
	if err := in.normalize(); err != nil {
		return Session{}, err
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return Session{}, ErrEmailInUse
	} else if !errors.Is(err, repository.ErrNotFound) {
		return Session{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := utils.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.users.Create(ctx, repository.NewUser{
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     in.FullName,
		Role:         model.DefaultRole,
	})
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return Session{}, ErrEmailInUse
		}
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return Session{}, fmt.Errorf("load new user: %w", err)
	}

	s.log.Infow("user registered", "user_id", u.ID)
	return s.openSession(ctx, u)
}

// Signin checks credentials and opens a new session.  Unknown emails, wrong
// passwords and disabled accounts are indistinguishable to the caller.
func (s *SessionService) Signin(ctx context.Context, email, password string) (Session, error) {
	email = repository.NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, validationError("email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.BurnPasswordCheck(password, s.bcryptCost)
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) || !u.IsActive {
		return Session{}, ErrInvalidCredentials
	}

	at := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, u.ID, at); err != nil {
		return Session{}, fmt.Errorf("touch last login: %w", err)
	}
	u.LastLoginAt = &at

	return s.openSession(ctx, u)
}

func (s *SessionService) openSession(ctx context.Context, u model.User) (Session, error) {
	access, err := s.codec.MintAccessToken(u.ID, u.Email, string(u.Role))
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.codec.MintRefreshToken(u.ID)
	if err != nil {
		return Session{}, err
	}
	if _, err := s.tokens.Create(ctx, u.ID, refresh.Token, refresh.Exp); err != nil {
		return Session{}, fmt.Errorf("store refresh token: %w", err)
	}
	return Session{User: u.Public(), AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh consumes a refresh token and returns a new pair.  The stored row
// is looked up before the signature is checked, so a token that was never
// issued (or was already used) fails fast.  Every rejection that finds a
// row deletes it, after the reason has been reported.
func (s *SessionService) Refresh(ctx context.Context, token string) (TokenPair, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenPair{}, ErrInvalidRefreshToken
	}
	prefix := tokenPrefix(token)

	row, err := s.tokens.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.report(ctx, queue.EventRefreshNotFound, queue.SeverityWarn, 0, prefix)
			return TokenPair{}, ErrInvalidRefreshToken
		}
		s.log.Errorw("refresh: token lookup failed", "token_prefix", prefix, "err", err)
		return TokenPair{}, ErrRefresh
	}

	if row.Expired(s.now()) {
		s.report(ctx, queue.EventRefreshExpired, queue.SeverityInfo, row.UserID, prefix)
		s.dropToken(ctx, row)
		return TokenPair{}, ErrExpiredRefreshToken
	}

	claims, err := s.codec.VerifyRefresh(token)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			s.report(ctx, queue.EventRefreshExpired, queue.SeverityInfo, row.UserID, prefix)
			s.dropToken(ctx, row)
			return TokenPair{}, ErrExpiredRefreshToken
		}
		s.report(ctx, queue.EventRefreshCorrupted, queue.SeverityError, row.UserID, prefix)
		s.dropToken(ctx, row)
		return TokenPair{}, ErrCorruptedRefreshToken
	}

	if claims.UserID != row.UserID {
		s.report(ctx, queue.EventRefreshMismatch, queue.SeverityAlert, row.UserID, prefix)
		s.dropToken(ctx, row)
		return TokenPair{}, ErrTokenMismatch
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.log.Errorw("refresh: user lookup failed", "user_id", claims.UserID, "err", err)
		return TokenPair{}, ErrRefresh
	}
	if err != nil || !u.IsActive {
		s.report(ctx, queue.EventRefreshUserGone, queue.SeverityWarn, row.UserID, prefix)
		s.dropToken(ctx, row)
		return TokenPair{}, ErrUserNotFound
	}

	access, err := s.codec.MintAccessToken(u.ID, u.Email, string(u.Role))
	if err != nil {
		s.log.Errorw("refresh: mint access token failed", "user_id", u.ID, "err", err)
		return TokenPair{}, ErrRefresh
	}
	next, err := s.codec.MintRefreshToken(u.ID)
	if err != nil {
		s.log.Errorw("refresh: mint refresh token failed", "user_id", u.ID, "err", err)
		return TokenPair{}, ErrRefresh
	}
	if _, err := s.tokens.Rotate(ctx, row.ID, row.UserID, next.Token, next.Exp); err != nil {
		if errors.Is(err, repository.ErrTokenConsumed) {
			s.report(ctx, queue.EventRefreshReplayed, queue.SeverityWarn, row.UserID, prefix)
			return TokenPair{}, ErrInvalidRefreshToken
		}
		s.log.Errorw("refresh: rotate failed", "user_id", u.ID, "err", err)
		return TokenPair{}, ErrRefresh
	}

	return TokenPair{AccessToken: access, RefreshToken: next}, nil
}

// Logout deletes the row of one refresh token.
func (s *SessionService) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidLogoutToken
	}
	row, err := s.tokens.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidLogoutToken
		}
		return fmt.Errorf("logout lookup: %w", err)
	}
	if err := s.tokens.Delete(ctx, row.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidLogoutToken
		}
		return fmt.Errorf("logout delete: %w", err)
	}
	return nil
}

// LogoutAll deletes every refresh token of the user and returns how many
// sessions were ended.  Outstanding access tokens stay valid until they
// expire.
func (s *SessionService) LogoutAll(ctx context.Context, userID uint64) (int64, error) {
	s.report(ctx, queue.EventLogoutAll, queue.SeverityInfo, userID, "")
	n, err := s.tokens.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("logout all: %w", err)
	}
	return n, nil
}

// SetUserActive enables or disables an account on behalf of actorID.
// Disabling also ends all of the user's sessions.
func (s *SessionService) SetUserActive(ctx context.Context, actorID, userID uint64, active bool) (model.User, error) {
	if !active && actorID == userID {
		return model.User{}, validationError("administrators cannot deactivate their own account")
	}
	if err := s.users.SetActive(ctx, userID, active); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("set active: %w", err)
	}
	if !active {
		s.report(ctx, queue.EventAccountDeactivated, queue.SeverityWarn, userID, "")
		if _, err := s.tokens.DeleteAllForUser(ctx, userID); err != nil {
			return model.User{}, fmt.Errorf("end sessions: %w", err)
		}
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, fmt.Errorf("reload user: %w", err)
	}
	s.log.Infow("account status changed", "actor_id", actorID, "user_id", userID, "active", active)
	return u, nil
}

// dropToken deletes a rejected row.  A row already gone is not an error.
func (s *SessionService) dropToken(ctx context.Context, row model.RefreshToken) {
	if err := s.tokens.Delete(ctx, row.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.log.Errorw("delete rejected refresh token failed", "token_id", row.ID, "user_id", row.UserID, "err", err)
	}
}

// report logs a security event and publishes it in the background.
func (s *SessionService) report(ctx context.Context, event, severity string, userID uint64, prefix string) {
	ev := queue.SecurityEvent{
		Event:       event,
		Severity:    severity,
		UserID:      userID,
		TokenPrefix: prefix,
		IP:          ClientIP(ctx),
		OccurredAt:  s.now().UTC(),
	}
	fields := []interface{}{
		"event", ev.Event,
		"severity", ev.Severity,
		"user_id", ev.UserID,
		"token_prefix", ev.TokenPrefix,
		"ip", ev.IP,
	}
	switch severity {
	case queue.SeverityAlert, queue.SeverityError:
		s.log.Errorw("security event", fields...)
	case queue.SeverityWarn:
		s.log.Warnw("security event", fields...)
	default:
		s.log.Infow("security event", fields...)
	}

	// the event outlives the request that raised it
	if err := s.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warnw("publish security event failed", "event", ev.Event, "err", err)
	}
}

func tokenPrefix(token string) string {
	if len(token) <= tokenPrefixLen {
		return token
	}
	return token[:tokenPrefixLen]
}
