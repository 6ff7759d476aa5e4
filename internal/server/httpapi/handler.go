package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/auth"
	"github.com/dmitrijs2005/gophvault/internal/server/services"
	"github.com/gin-gonic/gin"
)

type handler struct {
	svc    Services
	logger logging.Logger
}

type secretRequest struct {
	Secret string `json:"secret"`
}

type changePasswordRequest struct {
	CurrentSecret string `json:"currentSecret"`
	NewSecret     string `json:"newSecret"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	AttemptID string    `json:"attemptId,omitempty"`
}

func newSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{Token: s.Token, ExpiresAt: s.ExpiresAt}
}

func token(c *gin.Context) string { return c.GetString(tokenKey) }

// bind decodes the JSON body into v and reports a 400 on failure.
func (h *handler) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "VALIDATION_ERROR"})
		return false
	}
	return true
}

func (h *handler) setup(c *gin.Context) {
	var req secretRequest
	if !h.bind(c, &req) {
		return
	}
	sess, err := h.svc.Auth.Setup(c.Request.Context(), req.Secret)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(sess))
}

func (h *handler) checkFirstTime(c *gin.Context) {
	ok, err := h.svc.Auth.IsInitialized(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"initialized": ok, "isFirstTimeSetup": !ok})
}

func (h *handler) login(c *gin.Context) {
	var req secretRequest
	if !h.bind(c, &req) {
		return
	}
	sess, err := h.svc.Auth.Login(c.Request.Context(), req.Secret)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(sess))
}

func (h *handler) validate(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Auth.Validate(c.Request.Context(), bearerToken(c)))
}

func (h *handler) logout(c *gin.Context) {
	h.svc.Auth.Logout(c.Request.Context(), token(c))
	c.Status(http.StatusNoContent)
}

func (h *handler) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.svc.Rotation.Rotate(c.Request.Context(), token(c), req.CurrentSecret, req.NewSecret)
	if err != nil {
		// the caller is authenticated; a wrong current secret is a bad request body
		if errors.Is(err, common.ErrInvalidCredentials) {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorBody{Error: "current secret is incorrect", Code: "INVALID_CREDENTIALS"})
			return
		}
		h.fail(c, err)
		return
	}

	out := sessionResponse{AttemptID: res.AttemptID}
	if res.Session != nil {
		out.Token = res.Session.Token
		out.ExpiresAt = res.Session.ExpiresAt
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) rotationStatus(c *gin.Context) {
	if _, err := h.svc.Auth.Authenticate(c.Request.Context(), token(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Rotation.Status(c.Request.Context()))
}

func (h *handler) backup(c *gin.Context) {
	res, err := h.svc.Rotation.Backup(c.Request.Context(), token(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{"snapshotRef": res.SnapshotID, "createdAt": res.CreatedAt}
	if res.ArchiveKey != "" {
		body["archiveKey"] = res.ArchiveKey
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) discardBackup(c *gin.Context) {
	if err := h.svc.Rotation.DiscardActive(c.Request.Context(), token(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) restore(c *gin.Context) {
	res, err := h.svc.Rotation.RestoreActive(c.Request.Context(), token(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshotRef": res.SnapshotID, "sessionsRevoked": res.SessionsRevoked})
}

func (h *handler) listCredentials(c *gin.Context) {
	list, err := h.svc.Credentials.List(c.Request.Context(), token(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) searchCredentials(c *gin.Context) {
	list, err := h.svc.Credentials.Search(c.Request.Context(), token(c), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) getCredential(c *gin.Context) {
	v, err := h.svc.Credentials.Get(c.Request.Context(), token(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handler) createCredential(c *gin.Context) {
	var in services.CredentialInput
	if !h.bind(c, &in) {
		return
	}
	v, err := h.svc.Credentials.Create(c.Request.Context(), token(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *handler) updateCredential(c *gin.Context) {
	var in services.CredentialInput
	if !h.bind(c, &in) {
		return
	}
	v, err := h.svc.Credentials.Update(c.Request.Context(), token(c), c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handler) deleteCredential(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Credentials.Delete(c.Request.Context(), token(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}
