package session

import "errors"

var (
	// ErrAuthenticationExhausted is returned when every configured
	// authentication method has failed or been declined.
	ErrAuthenticationExhausted = errors.New("all authentication methods failed")

	// ErrConnectionLost is returned when the remote side closes the
	// connection unexpectedly, before the remote command reported an exit
	// status.
	ErrConnectionLost = errors.New("connection lost")
)
