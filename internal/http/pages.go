package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"yetti-auth/internal/metrics"
	"yetti-auth/internal/service"
)

type passwordForm struct {
	OldPassword  string `form:"old_password"`
	NewPassword  string `form:"new_password"`
	Confirmation string `form:"confirmation"`
}

func (h *Handler) index(c *gin.Context) {
	h.render(c, http.StatusOK, "index.html", nil)
}

func (h *Handler) passwordForm(c *gin.Context) {
	h.render(c, http.StatusOK, "password.html", nil)
}

func (h *Handler) changePassword(c *gin.Context) {
	user := currentUser(c)
	sess := currentSession(c)

	var form passwordForm
	if err := c.ShouldBind(&form); err != nil {
		h.render(c, http.StatusBadRequest, "password.html", gin.H{"Message": "Invalid form submission."})
		return
	}

	updated, err := h.users.ChangePassword(c.Request.Context(), user.ID, form.OldPassword, form.NewPassword, form.Confirmation)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.render(c, http.StatusOK, "password.html", gin.H{
				"Message": "Your old password was entered incorrectly. Please enter it again.",
			})
			return
		}
		if msg, ok := formMessage(err); ok {
			h.render(c, http.StatusOK, "password.html", gin.H{"Message": msg})
			return
		}
		h.serverError(c, err)
		return
	}

	refreshed, err := h.auth.RefreshAuthHash(c.Request.Context(), sess, updated)
	if err != nil {
		h.serverError(c, err)
		return
	}
	h.setSessionCookie(c, refreshed.Key)
	c.Set(userKey, updated)
	c.Set(sessionKey, refreshed)

	h.metrics.RecordAuthEvent(metrics.EventPasswordChange)
	h.logger.WithFields(logrus.Fields{
		"request_id": c.GetString(requestIDKey),
		"user_id":    user.ID,
	}).Info("password changed")
	h.render(c, http.StatusOK, "password.html", gin.H{"Success": "Your password was changed."})
}
