package auth

import "context"

type sessionKey struct{}

// Session is the signed-in user of a request with their effective permission names.
type Session struct {
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	FullName    string   `json:"full_name"`
	Permissions []string `json:"permissions"`
}

// Has reports whether the session holds every named permission.
func (s *Session) Has(names ...string) bool {
	if s == nil {
		return false
	}
	held := make(map[string]struct{}, len(s.Permissions))
	for _, p := range s.Permissions {
		held[p] = struct{}{}
	}
	for _, n := range names {
		if _, ok := held[n]; !ok {
			return false
		}
	}
	return true
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored in ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}
