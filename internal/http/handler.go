package http

import (
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"yetti-auth/internal/csrf"
	"yetti-auth/internal/metrics"
	"yetti-auth/internal/service"
)

const (
	indexPath    = "/"
	loginPath    = "/login"
	logoutPath   = "/logout"
	registerPath = "/register"
	passwordPath = "/password"
)

//go:embed templates/*.html
var templateFiles embed.FS

// Options carries the services and settings the handler depends on.
type Options struct {
	Users   service.UserService
	Auth    service.AuthService
	Metrics *metrics.Metrics
	Logger  *logrus.Logger

	SessionCookieName string
	SessionTTL        time.Duration
	SecureCookies     bool
	TrustedOrigins    []string
}

type cookieSettings struct {
	name   string
	ttl    time.Duration
	secure bool
}

// Handler wires HTTP routes to the user and auth services.
type Handler struct {
	users     service.UserService
	auth      service.AuthService
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	csrf      *csrf.Protector
	cookie    cookieSettings
	templates *template.Template
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.SessionCookieName == "" {
		opts.SessionCookieName = "sessionid"
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = 14 * 24 * time.Hour
	}

	h := &Handler{
		users:   opts.Users,
		auth:    opts.Auth,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		cookie: cookieSettings{
			name:   opts.SessionCookieName,
			ttl:    opts.SessionTTL,
			secure: opts.SecureCookies,
		},
		templates: template.Must(template.New("").ParseFS(templateFiles, "templates/*.html")),
	}
	h.csrf = csrf.New(csrf.Config{
		Secure:         opts.SecureCookies,
		TrustedOrigins: opts.TrustedOrigins,
		Logger:         opts.Logger,
		OnFailure:      h.csrfFailure,
	})
	return h
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(h.templates)
	router.Use(
		requestID(),
		accessLog(h.logger),
		h.metrics.Middleware(),
		h.csrf.Middleware(),
		h.loadSession(),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	router.GET(loginPath, h.loginForm)
	router.POST(loginPath, h.login)
	router.POST(logoutPath, h.logout)
	router.GET(registerPath, h.registerForm)
	router.POST(registerPath, h.register)

	protected := router.Group("", h.loginRequired())
	{
		protected.GET(indexPath, h.index)
		protected.GET(passwordPath, h.passwordForm)
		protected.POST(passwordPath, h.changePassword)
	}
}

// render executes a page template with the values every page needs.
func (h *Handler) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["Page"] = strings.TrimSuffix(name, ".html")
	data["User"] = currentUser(c)
	data["CSRFField"] = h.csrf.FieldName()
	data["CSRFToken"] = csrf.Token(c)
	c.HTML(status, name, data)
}

func (h *Handler) serverError(c *gin.Context, err error) {
	_ = c.Error(err)
	h.logger.WithError(err).WithFields(logrus.Fields{
		"request_id": c.GetString(requestIDKey),
		"path":       c.Request.URL.Path,
	}).Error("request failed")
	c.HTML(http.StatusInternalServerError, "500.html", gin.H{
		"Page":      "500",
		"RequestID": c.GetString(requestIDKey),
	})
	c.Abort()
}

func (h *Handler) csrfFailure(c *gin.Context, reason string) {
	h.metrics.RecordAuthEvent(metrics.EventCSRFFailure)
	c.HTML(http.StatusForbidden, "403_csrf.html", gin.H{
		"Page":   "403_csrf",
		"Reason": reason,
	})
}

func (h *Handler) setSessionCookie(c *gin.Context, key string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookie.name,
		Value:    key,
		Path:     "/",
		Expires:  time.Now().Add(h.cookie.ttl),
		MaxAge:   int(h.cookie.ttl / time.Second),
		HttpOnly: true,
		Secure:   h.cookie.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cookie.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
