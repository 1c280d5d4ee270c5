package auth

import "errors"

var (
	// ErrConfiguration indicates a missing or malformed client-secret
	// descriptor. Fatal; never retried.
	ErrConfiguration = errors.New("invalid oauth client configuration")

	// ErrAuthorization indicates the interactive authorization flow could
	// not complete (no interactive surface, user cancelled, network failure).
	ErrAuthorization = errors.New("interactive authorization failed")

	// ErrRefresh indicates the provider rejected a refresh attempt for a
	// reason other than an expired/revoked refresh token.
	ErrRefresh = errors.New("token refresh rejected")

	// ErrTimeout indicates a network or user-interaction deadline expired.
	ErrTimeout = errors.New("authorization timed out")
)
