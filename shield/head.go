package shield

import "net/http"

// HeadToGet converts HEAD requests to GET so routes registered with
// r.Get() answer HEAD too; the connectivity probe relies on it. net/http
// strips the body of HEAD responses.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
