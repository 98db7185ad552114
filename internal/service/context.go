package service

import "context"

type ctxKey int

const clientIPKey ctxKey = iota

// WithClientIP attaches the caller's address to ctx so security events can
// record it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the address stored by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
