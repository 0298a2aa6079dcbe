package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(middleware gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(middleware)
	router.GET("/test", func(c *gin.Context) {
		c.String(200, "ok")
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHeadersMiddleware(t *testing.T) {
	w := serve(HeadersMiddleware(), httptest.NewRequest("GET", "/test", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for header, expected := range want {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("%s = %q, want %q", header, got, expected)
		}
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		expectHeader   bool
	}{
		{"allowed origin", []string{"https://example.com"}, "https://example.com", true},
		{"wildcard allows all", []string{"*"}, "https://anything.com", true},
		{"disallowed origin", []string{"https://example.com"}, "https://evil.com", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Origin", tc.requestOrigin)
			w := serve(CORSMiddleware(tc.allowedOrigins), req)

			hasHeader := w.Header().Get("Access-Control-Allow-Origin") != ""
			if hasHeader != tc.expectHeader {
				t.Errorf("CORS header present = %v, want %v", hasHeader, tc.expectHeader)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest("OPTIONS", "/test", nil)
	req.Header.Set("Origin", "https://example.com")
	w := serve(CORSMiddleware([]string{"*"}), req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if methods := w.Header().Get("Access-Control-Allow-Methods"); methods == "" {
		t.Error("Access-Control-Allow-Methods not set")
	}
}

func TestValidateEndpointURL(t *testing.T) {
	// Hostname cases are limited to IP literals so the test never
	// depends on DNS.
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://8.8.8.8/v1", true},
		{"http://8.8.8.8", true},
		{"ftp://8.8.8.8", false},
		{"https://localhost:8080", false},
		{"https://127.0.0.1", false},
		{"https://10.0.0.5", false},
		{"https://169.254.169.254", false},
		{"https://metadata.google.internal", false},
		{"https://", false},
		{"", false},
	}

	for _, tc := range tests {
		err := ValidateEndpointURL(tc.url)
		if (err == nil) != tc.valid {
			t.Errorf("ValidateEndpointURL(%q) error = %v, want valid=%v", tc.url, err, tc.valid)
		}
	}
}
