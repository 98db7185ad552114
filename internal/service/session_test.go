package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/testdeck/internal/database"
	"github.com/iliyamo/testdeck/internal/model"
	"github.com/iliyamo/testdeck/internal/queue"
	"github.com/iliyamo/testdeck/internal/repository"
	"github.com/iliyamo/testdeck/internal/utils"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.SecurityEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Event)
	}
	return out
}

func (p *recordingPublisher) last() queue.SecurityEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type fixture struct {
	svc    *SessionService
	users  *repository.UserRepo
	tokens *repository.TokenRepo
	codec  *utils.Codec
	clock  *clock
	events *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))

	clk := &clock{now: time.Now().UTC().Truncate(time.Second)}
	codec, err := utils.NewCodec("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	codec.WithClock(clk.Now)

	f := &fixture{
		users:  repository.NewUserRepo(db),
		tokens: repository.NewTokenRepo(db),
		codec:  codec,
		clock:  clk,
		events: &recordingPublisher{},
	}
	f.svc = NewSessionService(f.users, f.tokens, codec, f.events, zap.NewNop().Sugar(), bcrypt.MinCost).WithClock(clk.Now)
	return f
}

func (f *fixture) register(t *testing.T, email string) Session {
	t.Helper()
	s, err := f.svc.Register(context.Background(), RegisterInput{Email: email, FullName: "Ada Tester", Password: "s3cret-pass"})
	require.NoError(t, err)
	return s
}

func (f *fixture) tokenExists(t *testing.T, token string) bool {
	t.Helper()
	_, err := f.tokens.GetByToken(context.Background(), token)
	if errors.Is(err, repository.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "  Ada@Example.com ")

	assert.Equal(t, "ada@example.com", s.User.Email)
	assert.Equal(t, model.RoleTester, s.User.Role)
	assert.True(t, s.User.IsActive)
	assert.Nil(t, s.User.LastLoginAt)
	assert.NotEmpty(t, s.AccessToken.Token)
	assert.True(t, f.tokenExists(t, s.RefreshToken.Token))

	claims, err := f.codec.VerifyAccess(s.AccessToken.Token)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, claims.UserID)
	assert.Equal(t, "tester", claims.Role)
}

func TestRegister_EmailInUse(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com")

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "ADA@example.com", FullName: "Other", Password: "another-pass"})
	assert.ErrorIs(t, err, ErrEmailInUse)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		in   RegisterInput
	}{
		{"missing email", RegisterInput{FullName: "A", Password: "secret1"}},
		{"bad email", RegisterInput{Email: "not-an-email", FullName: "A", Password: "secret1"}},
		{"display name form", RegisterInput{Email: "Ada <ada@example.com>", FullName: "A", Password: "secret1"}},
		{"missing name", RegisterInput{Email: "ada@example.com", FullName: "  ", Password: "secret1"}},
		{"short password", RegisterInput{Email: "ada@example.com", FullName: "A", Password: "12345"}},
		{"long password", RegisterInput{Email: "ada@example.com", FullName: "A", Password: string(make([]byte, 73))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tc.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSignin(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "ada@example.com")
	f.clock.Advance(time.Minute)

	s, err := f.svc.Signin(context.Background(), " ADA@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, s.User.ID)
	require.NotNil(t, s.User.LastLoginAt)
	assert.True(t, s.User.LastLoginAt.Equal(f.clock.Now()))
	assert.NotEqual(t, reg.RefreshToken.Token, s.RefreshToken.Token)
	assert.True(t, f.tokenExists(t, s.RefreshToken.Token))
	assert.True(t, f.tokenExists(t, reg.RefreshToken.Token), "sessions coexist")

	stored, err := f.users.GetByID(context.Background(), reg.User.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
}

func TestSignin_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com")
	ctx := context.Background()

	_, unknown := f.svc.Signin(ctx, "nobody@example.com", "s3cret-pass")
	_, wrong := f.svc.Signin(ctx, "ada@example.com", "wrong-pass")

	require.ErrorIs(t, unknown, ErrInvalidCredentials)
	require.ErrorIs(t, wrong, ErrInvalidCredentials)
	assert.Equal(t, unknown.Error(), wrong.Error())
}

func TestSignin_InactiveAccount(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "ada@example.com")
	require.NoError(t, f.users.SetActive(context.Background(), reg.User.ID, false))

	_, err := f.svc.Signin(context.Background(), "ada@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "ada@example.com")
	ctx := context.Background()

	pair, err := f.svc.Refresh(ctx, reg.RefreshToken.Token)
	require.NoError(t, err)
	assert.NotEqual(t, reg.RefreshToken.Token, pair.RefreshToken.Token)
	assert.False(t, f.tokenExists(t, reg.RefreshToken.Token))
	assert.True(t, f.tokenExists(t, pair.RefreshToken.Token))

	claims, err := f.codec.VerifyAccess(pair.AccessToken.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)

	_, err = f.svc.Refresh(ctx, reg.RefreshToken.Token)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	assert.Equal(t, []string{queue.EventRefreshNotFound}, f.events.names())
	ev := f.events.last()
	assert.Equal(t, reg.RefreshToken.Token[:tokenPrefixLen], ev.TokenPrefix)
	assert.Len(t, ev.TokenPrefix, tokenPrefixLen)
}

func TestRefresh_Expired(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "ada@example.com")
	ctx := context.Background()

	f.clock.Advance(7*24*time.Hour + time.Second)

	_, err := f.svc.Refresh(ctx, reg.RefreshToken.Token)
	assert.ErrorIs(t, err, ErrExpiredRefreshToken)
	assert.False(t, f.tokenExists(t, reg.RefreshToken.Token))

	_, err = f.svc.Refresh(ctx, reg.RefreshToken.Token)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	assert.Equal(t, []string{queue.EventRefreshExpired, queue.EventRefreshNotFound}, f.events.names())
}

func TestRefresh_Corrupted(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "ada@example.com")
	ctx := context.Background()

	// an access token stored as if it were a refresh token fails the
	// refresh-secret check
	exp := f.clock.Now().Add(time.Hour)
	_, err := f.tokens.Create(ctx, reg.User.ID, reg.AccessToken.Token, exp)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, reg.AccessToken.Token)
	assert.ErrorIs(t, err, ErrCorruptedRefreshToken)
	assert.False(t, f.tokenExists(t, reg.AccessToken.Token))

	ev := f.events.last()
	assert.Equal(t, queue.EventRefreshCorrupted, ev.Event)
	assert.Equal(t, queue.SeverityError, ev.Severity)
}

func TestRefresh_UserMismatchRaisesAlert(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada@example.com")
	bob := f.register(t, "bob@example.com")
	ctx := context.Background()

	forged, err := f.codec.MintRefreshToken(bob.User.ID)
	require.NoError(t, err)
	_, err = f.tokens.Create(ctx, ada.User.ID, forged.Token, forged.Exp)
	require.NoError(t, err)

	_, err = f.svc.Refresh(WithClientIP(ctx, "10.1.2.3"), forged.Token)
	assert.ErrorIs(t, err, ErrTokenMismatch)
	assert.False(t, f.tokenExists(t, forged.Token))

	ev := f.events.last()
	assert.Equal(t, queue.EventRefreshMismatch, ev.Event)
	assert.Equal(t, queue.SeverityAlert, ev.Severity)
	assert.Equal(t, ada.User.ID, ev.UserID)
	assert.Equal(t, "10.1.2.3", ev.IP)
}

func TestRefresh_InactiveUser(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "ada@example.com")
	ctx := context.Background()
	require.NoError(t, f.users.SetActive(ctx, reg.User.ID, false))

	_, err := f.svc.Refresh(ctx, reg.RefreshToken.Token)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.False(t, f.tokenExists(t, reg.RefreshToken.Token))
}

func TestRefresh_EmptyToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Refresh(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_ConcurrentUseWinsOnce(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "ada@example.com")

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), reg.RefreshToken.Token)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrInvalidRefreshToken):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, losses)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "ada@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, reg.RefreshToken.Token))
	assert.False(t, f.tokenExists(t, reg.RefreshToken.Token))

	assert.ErrorIs(t, f.svc.Logout(ctx, reg.RefreshToken.Token), ErrInvalidLogoutToken)
	assert.ErrorIs(t, f.svc.Logout(ctx, ""), ErrInvalidLogoutToken)

	_, err := f.svc.Refresh(ctx, reg.RefreshToken.Token)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t)
	reg := f.register(t, "ada@example.com")
	other := f.register(t, "bob@example.com")
	ctx := context.Background()
	_, err := f.svc.Signin(ctx, "ada@example.com", "s3cret-pass")
	require.NoError(t, err)

	n, err := f.svc.LogoutAll(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.False(t, f.tokenExists(t, reg.RefreshToken.Token))
	assert.True(t, f.tokenExists(t, other.RefreshToken.Token))

	assert.Equal(t, queue.EventLogoutAll, f.events.last().Event)
}

func TestSetUserActive(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "admin@example.com")
	reg := f.register(t, "ada@example.com")
	ctx := context.Background()

	u, err := f.svc.SetUserActive(ctx, admin.User.ID, reg.User.ID, false)
	require.NoError(t, err)
	assert.False(t, u.IsActive)
	assert.False(t, f.tokenExists(t, reg.RefreshToken.Token))

	_, err = f.svc.Signin(ctx, "ada@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	u, err = f.svc.SetUserActive(ctx, admin.User.ID, reg.User.ID, true)
	require.NoError(t, err)
	assert.True(t, u.IsActive)
	_, err = f.svc.Signin(ctx, "ada@example.com", "s3cret-pass")
	assert.NoError(t, err)

	_, err = f.svc.SetUserActive(ctx, admin.User.ID, 9999, true)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.svc.SetUserActive(ctx, admin.User.ID, admin.User.ID, false)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Contains(t, f.events.names(), queue.EventAccountDeactivated)
}

func TestRateLimitedError(t *testing.T) {
	var err error = &RateLimitedError{TimeLeft: 299}
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 299, rl.TimeLeft)
	assert.Contains(t, err.Error(), "299 seconds")
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "", ClientIP(context.Background()))
	assert.Equal(t, "10.0.0.1", ClientIP(WithClientIP(context.Background(), "10.0.0.1")))
}
