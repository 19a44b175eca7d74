package internal

import "context"

type userIDKey struct{}

// ContextWithUserID records the authenticated user; set only by the auth middleware.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

// RequireUserID returns the session user or ErrUnauthenticated.
func RequireUserID(ctx context.Context) (string, error) {
	if userID := UserIDFromContext(ctx); userID != "" {
		return userID, nil
	}
	return "", ErrUnauthenticated
}
