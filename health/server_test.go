package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegister_Handlers(t *testing.T) {
	type want struct {
		code int
		body string
	}
	tests := []struct {
		name   string
		path   string
		checks []Check
		want   want
	}{
		{name: "healthz ok", path: "/healthz", want: want{code: http.StatusOK, body: "ok"}},
		{name: "healthz ignores checks", path: "/healthz", checks: []Check{func() bool { return false }}, want: want{code: http.StatusOK, body: "ok"}},
		{name: "readyz no checks", path: "/readyz", want: want{code: http.StatusOK, body: "ready"}},
		{name: "readyz all pass", path: "/readyz", checks: []Check{func() bool { return true }, func() bool { return true }}, want: want{code: http.StatusOK, body: "ready"}},
		{name: "readyz one failing", path: "/readyz", checks: []Check{func() bool { return true }, func() bool { return false }}, want: want{code: http.StatusServiceUnavailable, body: "not ready"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			Register(mux, tt.checks...)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.want.code {
				t.Errorf("status code mismatch\n got=%#v\nwant=%#v", rec.Code, tt.want.code)
			}
			if body := rec.Body.String(); body != tt.want.body {
				t.Errorf("body mismatch\n got=%#v\nwant=%#v", body, tt.want.body)
			}
		})
	}
}

func TestRegister_ReadinessFlips(t *testing.T) {
	ready := false
	mux := http.NewServeMux()
	Register(mux, func() bool { return ready })

	probe := func() int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	if code := probe(); code != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready got=%#v want=%#v", code, http.StatusServiceUnavailable)
	}
	ready = true
	if code := probe(); code != http.StatusOK {
		t.Errorf("readyz after ready got=%#v want=%#v", code, http.StatusOK)
	}
}
