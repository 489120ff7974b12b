package shield

import "net/http"

// MaxBody limits every request body to maxBytes. Signatures travel as data
// URIs inside JSON, so the limit has to leave room for a few images.
// maxBytes <= 0 disables the limit.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
