package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"yetti-auth/internal/csrf"
	"yetti-auth/internal/domain"
	"yetti-auth/internal/metrics"
	"yetti-auth/internal/service"
)

const msgInvalidCredentials = "Invalid username and/or password."

type loginForm struct {
	Username string `form:"username"`
	Password string `form:"password"`
	Next     string `form:"next"`
}

type registerForm struct {
	Username     string `form:"username" binding:"max=150"`
	Email        string `form:"email" binding:"omitempty,email,max=254"`
	Password     string `form:"password"`
	Confirmation string `form:"confirmation"`
}

func (h *Handler) loginForm(c *gin.Context) {
	h.render(c, http.StatusOK, "login.html", gin.H{"Next": c.Query("next")})
}

func (h *Handler) login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		h.render(c, http.StatusOK, "login.html", gin.H{"Message": msgInvalidCredentials})
		return
	}
	next := form.Next
	if next == "" {
		next = c.Query("next")
	}

	user, err := h.users.Authenticate(c.Request.Context(), form.Username, form.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.metrics.RecordAuthEvent(metrics.EventLoginFailure)
			h.logger.WithFields(logrus.Fields{
				"request_id": c.GetString(requestIDKey),
				"username":   form.Username,
				"client_ip":  c.ClientIP(),
			}).Info("login failed")
			h.render(c, http.StatusOK, "login.html", gin.H{
				"Message":  msgInvalidCredentials,
				"Username": form.Username,
				"Next":     next,
			})
			return
		}
		h.serverError(c, err)
		return
	}

	if err := h.startSession(c, user); err != nil {
		h.serverError(c, err)
		return
	}
	h.metrics.RecordAuthEvent(metrics.EventLoginSuccess)
	c.Redirect(http.StatusFound, safeNext(next))
}

func (h *Handler) logout(c *gin.Context) {
	if key, err := c.Cookie(h.cookie.name); err == nil && key != "" {
		if err := h.auth.Logout(c.Request.Context(), key); err != nil {
			h.serverError(c, err)
			return
		}
	}
	if user := currentUser(c); user != nil {
		h.metrics.RecordAuthEvent(metrics.EventLogout)
		h.logger.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"user_id":    user.ID,
		}).Info("user logged out")
	}
	h.clearSessionCookie(c)
	c.Redirect(http.StatusFound, indexPath)
}

func (h *Handler) registerForm(c *gin.Context) {
	h.render(c, http.StatusOK, "register.html", nil)
}

func (h *Handler) register(c *gin.Context) {
	var form registerForm
	bindErr := c.ShouldBind(&form)
	data := gin.H{"Username": form.Username, "Email": form.Email}
	if bindErr != nil {
		h.metrics.RecordAuthEvent(metrics.EventRegisterReject)
		data["Message"] = bindMessage(bindErr)
		h.render(c, http.StatusOK, "register.html", data)
		return
	}

	user, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Username:     form.Username,
		Email:        form.Email,
		Password:     form.Password,
		Confirmation: form.Confirmation,
	})
	if err != nil {
		msg, ok := formMessage(err)
		if !ok {
			h.serverError(c, err)
			return
		}
		h.metrics.RecordAuthEvent(metrics.EventRegisterReject)
		data["Message"] = msg
		h.render(c, http.StatusOK, "register.html", data)
		return
	}

	h.metrics.RecordAuthEvent(metrics.EventRegister)
	h.logger.WithFields(logrus.Fields{
		"request_id": c.GetString(requestIDKey),
		"user_id":    user.ID,
		"username":   user.Username,
	}).Info("user registered")

	if err := h.startSession(c, user); err != nil {
		h.serverError(c, err)
		return
	}
	c.Redirect(http.StatusFound, indexPath)
}

// startSession replaces any session the browser holds with a new one for
// user and rotates the CSRF secret.
func (h *Handler) startSession(c *gin.Context, user *domain.User) error {
	previous, _ := c.Cookie(h.cookie.name)
	sess, err := h.auth.Login(c.Request.Context(), user, previous)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	h.setSessionCookie(c, sess.Key)
	csrf.Rotate(c)
	c.Set(userKey, user)
	c.Set(sessionKey, sess)
	return nil
}

// bindMessage describes the first field that failed form binding.
func bindMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid form submission."
	}
	fe := verrs[0]
	switch {
	case fe.Tag() == "email":
		return "Enter a valid email address."
	case fe.Tag() == "max":
		return fmt.Sprintf("Ensure %s has at most %s characters.", strings.ToLower(fe.Field()), fe.Param())
	}
	return fmt.Sprintf("Enter a valid %s.", strings.ToLower(fe.Field()))
}

// formMessage maps validation errors to the text shown above a form.
func formMessage(err error) (string, bool) {
	var short *service.PasswordTooShortError
	switch {
	case errors.As(err, &short):
		return fmt.Sprintf("This password is too short. It must contain at least %d characters.", short.Min), true
	case errors.Is(err, service.ErrInvalidCredentials):
		return msgInvalidCredentials, true
	case errors.Is(err, service.ErrUserAlreadyExists):
		return "Username already taken.", true
	case errors.Is(err, service.ErrPasswordMismatch):
		return "Passwords must match.", true
	case errors.Is(err, service.ErrUsernameRequired):
		return "Username is required.", true
	case errors.Is(err, service.ErrPasswordRequired):
		return "Password is required.", true
	case errors.Is(err, service.ErrPasswordEntirelyNumeric):
		return "This password is entirely numeric.", true
	}
	return "", false
}
