// Package csrf implements double-submit cookie CSRF protection for gin.
//
// The cookie holds a 32 character secret. Forms carry a 64 character token:
// a random mask followed by the secret shifted by that mask, so the value
// embedded in a page changes on every render while still validating against
// the same cookie.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	secretLength = 32
	tokenLength  = 2 * secretLength
	allowedChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	contextKey       = "csrf.state"
	failureReasonKey = "csrf.reason"
)

// Failure reasons, shown on the 403 page.
const (
	ReasonNoCookie         = "CSRF cookie not set."
	ReasonNoToken          = "CSRF token missing."
	ReasonNoReferer        = "Referer checking failed - no Referer."
	ReasonMalformedReferer = "Referer checking failed - Referer is malformed."
	ReasonInsecureReferer  = "Referer checking failed - Referer is insecure while host is secure."
	reasonBadReferer       = "Referer checking failed - %s does not match any trusted origins."
	reasonBadOrigin        = "Origin checking failed - %s does not match any trusted origins."
	reasonIncorrectLength  = "CSRF token from %s has incorrect length."
	reasonInvalidChars     = "CSRF token from %s has invalid characters."
	reasonIncorrect        = "CSRF token from %s incorrect."
)

// Config controls cookie and header names and the trusted origins list.
type Config struct {
	CookieName string
	FieldName  string
	HeaderName string
	MaxAge     time.Duration
	Secure     bool
	// TrustedOrigins are full origins such as "https://example.com" or
	// "https://*.example.com" accepted for cross-origin unsafe requests.
	TrustedOrigins []string
	Logger         logrus.FieldLogger
	// OnFailure renders the rejection; the request is aborted afterwards.
	OnFailure func(c *gin.Context, reason string)
}

// Protector validates unsafe requests and hands out tokens to templates.
type Protector struct {
	cfg Config
}

type state struct {
	p      *Protector
	secret string
}

func New(cfg Config) *Protector {
	if cfg.CookieName == "" {
		cfg.CookieName = "csrftoken"
	}
	if cfg.FieldName == "" {
		cfg.FieldName = "csrfmiddlewaretoken"
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = "X-CSRFToken"
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 365 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.OnFailure == nil {
		cfg.OnFailure = func(c *gin.Context, reason string) {
			c.String(http.StatusForbidden, "Forbidden (%s)", reason)
		}
	}
	return &Protector{cfg: cfg}
}

// FieldName is the form field templates must use for the token.
func (p *Protector) FieldName() string {
	return p.cfg.FieldName
}

// Middleware rejects unsafe requests that fail origin or token checks.
func (p *Protector) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		st := &state{p: p}
		if cookie, err := c.Request.Cookie(p.cfg.CookieName); err == nil && checkFormat(cookie.Value) == "" && len(cookie.Value) == secretLength {
			st.secret = cookie.Value
		}
		c.Set(contextKey, st)

		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		if reason := p.verify(c, st); reason != "" {
			p.reject(c, reason)
			return
		}
		c.Next()
	}
}

// Token returns a masked token for the current request, setting the cookie
// if the client does not have one yet. It must run before the body is written.
func Token(c *gin.Context) string {
	st := current(c)
	if st == nil {
		return ""
	}
	if st.secret == "" {
		st.secret = randomString(secretLength)
		st.p.writeCookie(c, st)
	}
	c.Header("Vary", "Cookie")
	return mask(st.secret)
}

// Rotate replaces the secret, invalidating tokens rendered earlier. It is
// called when the user logs in.
func Rotate(c *gin.Context) {
	st := current(c)
	if st == nil {
		return
	}
	st.secret = randomString(secretLength)
	st.p.writeCookie(c, st)
}

// FailureReason reports why the request was rejected, if it was.
func FailureReason(c *gin.Context) string {
	return c.GetString(failureReasonKey)
}

func current(c *gin.Context) *state {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil
	}
	st, _ := v.(*state)
	return st
}

func (p *Protector) writeCookie(c *gin.Context, st *state) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     p.cfg.CookieName,
		Value:    st.secret,
		Path:     "/",
		MaxAge:   int(p.cfg.MaxAge / time.Second),
		Expires:  time.Now().Add(p.cfg.MaxAge),
		Secure:   p.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (p *Protector) verify(c *gin.Context, st *state) string {
	r := c.Request
	secure := r.TLS != nil

	if origin := r.Header.Get("Origin"); origin != "" {
		if !p.originVerified(r, origin, secure) {
			return fmt.Sprintf(reasonBadOrigin, origin)
		}
	} else if secure {
		if reason := p.checkReferer(r); reason != "" {
			return reason
		}
	}

	if st.secret == "" {
		return ReasonNoCookie
	}

	source := "POST"
	token := ""
	if r.Method == http.MethodPost {
		token = c.PostForm(p.cfg.FieldName)
	}
	if token == "" {
		token = r.Header.Get(p.cfg.HeaderName)
		source = fmt.Sprintf("the '%s' HTTP header", p.cfg.HeaderName)
	}
	if token == "" {
		return ReasonNoToken
	}

	switch checkFormat(token) {
	case "length":
		return fmt.Sprintf(reasonIncorrectLength, source)
	case "chars":
		return fmt.Sprintf(reasonInvalidChars, source)
	}
	if !matches(token, st.secret) {
		return fmt.Sprintf(reasonIncorrect, source)
	}
	return ""
}

func (p *Protector) reject(c *gin.Context, reason string) {
	p.cfg.Logger.WithFields(logrus.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"reason": reason,
	}).Warn("forbidden: csrf check failed")
	c.Set(failureReasonKey, reason)
	p.cfg.OnFailure(c, reason)
	c.Abort()
}

func (p *Protector) originVerified(r *http.Request, origin string, secure bool) bool {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	if origin == scheme+"://"+r.Host {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return p.trusted(u.Scheme, u.Host)
}

func (p *Protector) checkReferer(r *http.Request) string {
	referer := r.Header.Get("Referer")
	if referer == "" {
		return ReasonNoReferer
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ReasonMalformedReferer
	}
	if u.Scheme != "https" {
		return ReasonInsecureReferer
	}
	if strings.EqualFold(u.Host, r.Host) || p.trusted(u.Scheme, u.Host) {
		return ""
	}
	return fmt.Sprintf(reasonBadReferer, referer)
}

// trusted matches scheme://host against the configured origins, where a
// leading "*." in the host matches any subdomain.
func (p *Protector) trusted(scheme, host string) bool {
	host = strings.ToLower(host)
	for _, o := range p.cfg.TrustedOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Scheme != scheme {
			continue
		}
		pattern := strings.ToLower(u.Host)
		if pattern == host {
			return true
		}
		if strings.HasPrefix(pattern, "*.") && strings.HasSuffix(host, pattern[1:]) {
			return true
		}
	}
	return false
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// checkFormat returns "" for a well formed secret or token, otherwise
// "length" or "chars".
func checkFormat(token string) string {
	if len(token) != secretLength && len(token) != tokenLength {
		return "length"
	}
	if strings.Trim(token, allowedChars) != "" {
		return "chars"
	}
	return ""
}

func matches(token, secret string) bool {
	if len(token) == tokenLength {
		token = unmask(token)
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

func mask(secret string) string {
	m := randomString(secretLength)
	n := len(allowedChars)
	cipher := make([]byte, secretLength)
	for i := 0; i < secretLength; i++ {
		x := strings.IndexByte(allowedChars, secret[i])
		y := strings.IndexByte(allowedChars, m[i])
		cipher[i] = allowedChars[(x+y)%n]
	}
	return m + string(cipher)
}

func unmask(token string) string {
	m, cipher := token[:secretLength], token[secretLength:]
	n := len(allowedChars)
	secret := make([]byte, secretLength)
	for i := 0; i < secretLength; i++ {
		x := strings.IndexByte(allowedChars, cipher[i])
		y := strings.IndexByte(allowedChars, m[i])
		secret[i] = allowedChars[((x-y)%n+n)%n]
	}
	return string(secret)
}

func randomString(length int) string {
	max := big.NewInt(int64(len(allowedChars)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("csrf: read random: %v", err))
		}
		b[i] = allowedChars[n.Int64()]
	}
	return string(b)
}
