package health

import (
	"net/http"
)

// Check reports whether one dependency of the process is ready.
type Check func() bool

// Register installs the liveness and readiness handlers. Readiness answers
// 503 until every supplied check passes.
func Register(mux *http.ServeMux, checks ...Check) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if !check() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}
