package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"yetti-auth/internal/domain"
	"yetti-auth/internal/service"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 64

	requestIDKey = "request_id"
	userKey      = "auth.user"
	sessionKey   = "auth.session"
)

// requestID reuses a well formed incoming X-Request-ID or assigns a new uuid.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// validRequestID accepts short ids made of letters, digits, '-', '_' and '.'.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// accessLog writes one entry per request, at warn for 4xx and error for 5xx.
func accessLog(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("http request")
		case status >= http.StatusBadRequest:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	}
}

// loadSession resolves the session cookie to a user for the rest of the chain.
func (h *Handler) loadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := c.Cookie(h.cookie.name)
		if err != nil || key == "" {
			c.Next()
			return
		}

		user, sess, err := h.auth.SessionUser(c.Request.Context(), key)
		switch {
		case err == nil:
			c.Set(userKey, user)
			c.Set(sessionKey, sess)
		case errors.Is(err, service.ErrNoSession):
			h.clearSessionCookie(c)
		default:
			h.logger.WithError(err).WithField("request_id", c.GetString(requestIDKey)).Error("load session")
		}
		c.Next()
	}
}

// loginRequired redirects anonymous visitors to the login page, keeping the
// requested location in ?next=.
func (h *Handler) loginRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c) != nil {
			c.Next()
			return
		}
		c.Redirect(http.StatusFound, loginRedirect(c.Request.URL))
		c.Abort()
	}
}

func currentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*domain.User)
	return user
}

func currentSession(c *gin.Context) *domain.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*domain.Session)
	return sess
}

func loginRedirect(u *url.URL) string {
	return loginPath + "?next=" + escapeNext(u.RequestURI())
}

// escapeNext query-escapes next but leaves slashes readable.
func escapeNext(next string) string {
	return strings.ReplaceAll(url.QueryEscape(next), "%2F", "/")
}

// safeNext returns next when it is a local absolute path, otherwise "/".
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return indexPath
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return indexPath
	}
	return next
}
