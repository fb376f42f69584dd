package subscriber

import "errors"

var (
	// ErrSubscribeTimeout means the hub never validated the handshake
	// within the validation window; the subscription was rolled back.
	ErrSubscribeTimeout = errors.New("hub validation timed out")
	// ErrSignatureInvalid means an update callback's HMAC did not match.
	ErrSignatureInvalid = errors.New("update signature mismatch")
	// ErrInvalidToken means a validation callback carried the wrong
	// verify token.
	ErrInvalidToken = errors.New("invalid verify token")
	// ErrUnknownSite means no parser is registered for the site.
	ErrUnknownSite = errors.New("no subscriber for site")
	// ErrMalformedFeed means the update payload could not be parsed.
	ErrMalformedFeed = errors.New("malformed feed payload")
)
