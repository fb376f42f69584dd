package api

import (
	"errors"
	"net/http"
)

var (
	errForbidden = errors.New("invalid or missing token")
	errBadLimit  = errors.New("limit must be a positive integer")
)

// tokenAuth rejects requests whose "token" header does not match the
// configured app token. Hub callback routes are mounted outside this
// middleware: the hub cannot know the app token.
func tokenAuth(appToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("token") != appToken {
				writeError(w, http.StatusForbidden, errForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
