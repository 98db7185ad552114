// Package ratelimit throttles sign-in attempts per client IP with a fixed
// window and an escalating lockout.
//
// A key may make MaxAttempts requests per Window.  The next request inside
// the same window locks the key for Lockout, which is independent of the
// window: while locked every request is rejected with the remaining lockout
// time, and once the lock passes the key starts a fresh window.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Entry is the per-key state kept by a Store.
type Entry struct {
	Count       int
	ResetAt     time.Time // end of the current window
	LockedUntil time.Time // zero when not locked
}

// Locked reports whether the entry is locked at now.
func (e Entry) Locked(now time.Time) bool {
	return !e.LockedUntil.IsZero() && now.Before(e.LockedUntil)
}

// expiresAt is the instant after which the entry carries no information.
func (e Entry) expiresAt() time.Time {
	if e.LockedUntil.After(e.ResetAt) {
		return e.LockedUntil
	}
	return e.ResetAt
}

// fresh reports whether an increment at now must start a new window.
func (e Entry) fresh(now time.Time) bool {
	if !now.Before(e.ResetAt) {
		return true
	}
	return !e.LockedUntil.IsZero() && !now.Before(e.LockedUntil)
}

// Store holds rate-limit entries.  Implementations must make Increment
// atomic per key; Get and SetLockout may be plain reads and writes.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Increment adds one attempt to key.  A missing entry, an elapsed
	// window or an elapsed lock starts a new window with Count 1.
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Entry, error)
	SetLockout(ctx context.Context, key string, until time.Time) error
}

// Options configures a Limiter.
type Options struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
	Prefix      string
}

// Result is the outcome of a check.  TimeLeft is the remaining lockout in
// whole seconds, rounded up, and is zero when Allowed.
type Result struct {
	Allowed  bool
	TimeLeft int
}

// Limiter applies the fixed window + lockout policy over a Store.
type Limiter struct {
	store Store
	opts  Options
	now   func() time.Time
}

// New returns a Limiter over store.
func New(store Store, opts Options) *Limiter {
	return &Limiter{store: store, opts: opts, now: time.Now}
}

// WithClock replaces the limiter's time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Enabled reports whether checks are enforced.
func (l *Limiter) Enabled() bool { return l.opts.Enabled }

// Check records an attempt for ip and decides whether it may proceed.
func (l *Limiter) Check(ctx context.Context, ip string) (Result, error) {
	if !l.opts.Enabled {
		return Result{Allowed: true}, nil
	}
	key := l.key(ip)
	now := l.now()

	entry, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit get %s: %w", key, err)
	}
	if ok && entry.Locked(now) {
		return Result{TimeLeft: secondsLeft(entry.LockedUntil.Sub(now))}, nil
	}

	entry, err = l.store.Increment(ctx, key, now, l.opts.Window)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit increment %s: %w", key, err)
	}
	if entry.Count <= l.opts.MaxAttempts {
		return Result{Allowed: true}, nil
	}

	until := now.Add(l.opts.Lockout)
	if err := l.store.SetLockout(ctx, key, until); err != nil {
		return Result{}, fmt.Errorf("ratelimit lockout %s: %w", key, err)
	}
	return Result{TimeLeft: secondsLeft(l.opts.Lockout)}, nil
}

func (l *Limiter) key(ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	if l.opts.Prefix == "" {
		return ip
	}
	return l.opts.Prefix + ":" + ip
}

func secondsLeft(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
