package csrf

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func newTestRouter(cfg Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg.Logger = logger

	p := New(cfg)
	r := gin.New()
	r.Use(p.Middleware())
	r.GET("/form", func(c *gin.Context) {
		c.String(http.StatusOK, Token(c))
	})
	r.POST("/form", func(c *gin.Context) {
		c.String(http.StatusOK, "accepted")
	})
	r.POST("/login", func(c *gin.Context) {
		Rotate(c)
		c.String(http.StatusOK, "rotated")
	})
	return r
}

func fetchToken(t *testing.T, r *gin.Engine) (string, *http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/form", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /form: status %d", rec.Code)
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "csrftoken" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("expected csrftoken cookie to be set")
	}
	return rec.Body.String(), cookie
}

func postForm(r *gin.Engine, path string, form url.Values, cookie *http.Cookie, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestMaskRoundTrip(t *testing.T) {
	secret := randomString(secretLength)
	a, b := mask(secret), mask(secret)
	if len(a) != tokenLength {
		t.Fatalf("expected token length %d, got %d", tokenLength, len(a))
	}
	if a == b {
		t.Fatalf("expected masking to differ between calls")
	}
	if unmask(a) != secret || unmask(b) != secret {
		t.Fatalf("unmask did not recover the secret")
	}
	if !matches(a, secret) || !matches(secret, secret) {
		t.Fatalf("expected masked and raw secret to match")
	}
	if matches(mask(randomString(secretLength)), secret) {
		t.Fatalf("token for another secret matched")
	}
}

func TestCheckFormat(t *testing.T) {
	testCases := map[string]string{
		strings.Repeat("a", secretLength): "",
		strings.Repeat("a", tokenLength):  "",
		"short":                           "length",
		strings.Repeat("-", secretLength): "chars",
	}
	for token, want := range testCases {
		if got := checkFormat(token); got != want {
			t.Errorf("checkFormat(%q) = %q, want %q", token, got, want)
		}
	}
}

func TestSafeMethodsPass(t *testing.T) {
	r := newTestRouter(Config{})
	token, cookie := fetchToken(t, r)
	if len(token) != tokenLength {
		t.Fatalf("expected masked token, got %q", token)
	}
	if !matches(token, cookie.Value) {
		t.Fatalf("rendered token does not match cookie")
	}
}

func TestUnsafeRequests(t *testing.T) {
	r := newTestRouter(Config{})
	token, cookie := fetchToken(t, r)

	testCases := []struct {
		name       string
		form       url.Values
		cookie     *http.Cookie
		mutate     func(*http.Request)
		wantStatus int
		wantReason string
	}{
		{
			name:       "valid form token",
			form:       url.Values{"csrfmiddlewaretoken": {token}},
			cookie:     cookie,
			wantStatus: http.StatusOK,
		},
		{
			name:       "valid header token",
			form:       url.Values{},
			cookie:     cookie,
			mutate:     func(r *http.Request) { r.Header.Set("X-CSRFToken", token) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "no cookie",
			form:       url.Values{"malicious_data": {"value"}},
			mutate:     func(r *http.Request) { r.Header.Set("Referer", "/form") },
			wantStatus: http.StatusForbidden,
			wantReason: ReasonNoCookie,
		},
		{
			name:       "missing token",
			form:       url.Values{"malicious_data": {"value"}},
			cookie:     cookie,
			wantStatus: http.StatusForbidden,
			wantReason: ReasonNoToken,
		},
		{
			name:       "wrong length",
			form:       url.Values{"csrfmiddlewaretoken": {"abc"}},
			cookie:     cookie,
			wantStatus: http.StatusForbidden,
			wantReason: "CSRF token from POST has incorrect length.",
		},
		{
			name:       "invalid characters",
			form:       url.Values{"csrfmiddlewaretoken": {strings.Repeat("!", tokenLength)}},
			cookie:     cookie,
			wantStatus: http.StatusForbidden,
			wantReason: "CSRF token from POST has invalid characters.",
		},
		{
			name:       "token for another secret",
			form:       url.Values{"csrfmiddlewaretoken": {mask(randomString(secretLength))}},
			cookie:     cookie,
			wantStatus: http.StatusForbidden,
			wantReason: "CSRF token from POST incorrect.",
		},
		{
			name:       "foreign origin",
			form:       url.Values{"csrfmiddlewaretoken": {token}},
			cookie:     cookie,
			mutate:     func(r *http.Request) { r.Header.Set("Origin", "http://evil.example.com") },
			wantStatus: http.StatusForbidden,
			wantReason: "Origin checking failed - http://evil.example.com does not match any trusted origins.",
		},
		{
			name:       "same origin",
			form:       url.Values{"csrfmiddlewaretoken": {token}},
			cookie:     cookie,
			mutate:     func(r *http.Request) { r.Header.Set("Origin", "http://example.com") },
			wantStatus: http.StatusOK,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postForm(r, "/form", tc.form, tc.cookie, tc.mutate)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d (%s)", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantReason != "" && !strings.Contains(rec.Body.String(), tc.wantReason) {
				t.Fatalf("expected reason %q in body %q", tc.wantReason, rec.Body.String())
			}
		})
	}
}

func TestSecureRequestsCheckReferer(t *testing.T) {
	r := newTestRouter(Config{TrustedOrigins: []string{"https://*.trusted.example"}})
	token, cookie := fetchToken(t, r)
	form := url.Values{"csrfmiddlewaretoken": {token}}

	testCases := []struct {
		name       string
		referer    string
		wantStatus int
		wantReason string
	}{
		{name: "no referer", wantStatus: http.StatusForbidden, wantReason: ReasonNoReferer},
		{name: "insecure referer", referer: "http://example.com/form", wantStatus: http.StatusForbidden, wantReason: ReasonInsecureReferer},
		{name: "malformed referer", referer: "not a url", wantStatus: http.StatusForbidden, wantReason: ReasonMalformedReferer},
		{name: "foreign referer", referer: "https://evil.example/form", wantStatus: http.StatusForbidden, wantReason: "does not match any trusted origins"},
		{name: "same host", referer: "https://example.com/form", wantStatus: http.StatusOK},
		{name: "trusted subdomain", referer: "https://app.trusted.example/x", wantStatus: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postForm(r, "/form", form, cookie, func(req *http.Request) {
				req.TLS = &tls.ConnectionState{}
				if tc.referer != "" {
					req.Header.Set("Referer", tc.referer)
				}
			})
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d (%s)", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantReason != "" && !strings.Contains(rec.Body.String(), tc.wantReason) {
				t.Fatalf("expected reason %q in body %q", tc.wantReason, rec.Body.String())
			}
		})
	}
}

func TestRotateInvalidatesOldTokens(t *testing.T) {
	r := newTestRouter(Config{})
	token, cookie := fetchToken(t, r)

	rec := postForm(r, "/login", url.Values{"csrfmiddlewaretoken": {token}}, cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d", rec.Code)
	}
	var rotated *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "csrftoken" {
			rotated = c
		}
	}
	if rotated == nil || rotated.Value == cookie.Value {
		t.Fatalf("expected a new csrf cookie after rotation")
	}

	rec = postForm(r, "/form", url.Values{"csrfmiddlewaretoken": {token}}, rotated, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected stale token to be rejected, got %d", rec.Code)
	}
}

func TestCustomFailureHandler(t *testing.T) {
	var seen string
	r := newTestRouter(Config{OnFailure: func(c *gin.Context, reason string) {
		seen = FailureReason(c)
		c.String(http.StatusForbidden, "custom")
	}})
	rec := postForm(r, "/form", url.Values{}, nil, nil)
	if rec.Code != http.StatusForbidden || rec.Body.String() != "custom" {
		t.Fatalf("expected custom 403, got %d %q", rec.Code, rec.Body.String())
	}
	if seen != ReasonNoCookie {
		t.Fatalf("expected failure reason to be exposed, got %q", seen)
	}
}
