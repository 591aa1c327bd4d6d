package auth

import "context"

// ReviewerFromContext returns the subject that decisions and rollbacks are
// attributed to. ok is false for unauthenticated requests.
func ReviewerFromContext(ctx context.Context) (reviewer string, ok bool) {
	claims, found := GetClaims(ctx)
	if !found || claims == nil || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}
