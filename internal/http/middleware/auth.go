package middlewarex

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// CallbackGuard checks the shared token embedded in the callback URL. A
// mismatch is acknowledged with 200 like any other delivery, so a forged
// request learns nothing and a misconfigured provider does not retry-storm.
func CallbackGuard(token string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := sha256.Sum256([]byte(r.URL.Query().Get("token")))
			if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
				Logger(r.Context()).Error().
					Str("remote_addr", r.RemoteAddr).
					Msg("push callback with bad token dropped")
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"status":"ok"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
