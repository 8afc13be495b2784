// Package authmw guards the workflow API with static bearer tokens.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/xerrors"
)

const realm = `Bearer realm="warden"`

// Bearer returns middleware that admits requests carrying any of tokens in
// an "Authorization: Bearer" header. More than one token allows rotation
// without downtime. The scheme name is matched case-insensitively; the
// token itself is compared in constant time.
func Bearer(tokens ...string) func(http.Handler) http.Handler {
	var accepted [][]byte
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			accepted = append(accepted, []byte(t))
		}
	}
	if len(accepted) == 0 {
		panic(xerrors.New("authmw: at least one token is required"))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, `missing or malformed authorization header`, "")
				return
			}
			if !matches(accepted, got) {
				unauthorized(w, `invalid token`, `, error="invalid_token"`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) ([]byte, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	return []byte(token), true
}

// matches checks every candidate so the time taken does not reveal which
// token, if any, matched.
func matches(accepted [][]byte, got []byte) bool {
	found := 0
	for _, want := range accepted {
		found |= subtle.ConstantTimeCompare(got, want)
	}
	return found == 1
}

func unauthorized(w http.ResponseWriter, msg, challengeSuffix string) {
	w.Header().Set("WWW-Authenticate", realm+challengeSuffix)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
