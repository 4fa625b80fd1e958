package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		apiKey     string
		setHeaders func(r *http.Request)
		wantStatus int
	}{
		{"DisabledPassesThrough", "", func(r *http.Request) {}, http.StatusOK},
		{"MissingToken", "secret", func(r *http.Request) {}, http.StatusUnauthorized},
		{
			"ValidBearer", "secret",
			func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") },
			http.StatusOK,
		},
		{
			"ValidAPIKeyHeader", "secret",
			func(r *http.Request) { r.Header.Set("X-API-Key", "secret") },
			http.StatusOK,
		},
		{
			"WrongToken", "secret",
			func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
			http.StatusUnauthorized,
		},
		{
			"NonBearerScheme", "secret",
			func(r *http.Request) { r.Header.Set("Authorization", "Basic secret") },
			http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Auth(tt.apiKey)(next)
			req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
			tt.setHeaders(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
