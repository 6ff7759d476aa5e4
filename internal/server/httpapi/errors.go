package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error       string `json:"error"`
	Code        string `json:"code"`
	SnapshotRef string `json:"snapshotRef,omitempty"`
}

type errorMapping struct {
	err    error
	status int
	code   string
	// detail exposes err.Error() instead of the sentinel text.
	detail bool
}

// errorTable is checked in order: wrapping errors come before what they wrap.
var errorTable = []errorMapping{
	{common.ErrUnrecoverable, http.StatusInternalServerError, "UNRECOVERABLE", false},
	{common.ErrRotationFailed, http.StatusInternalServerError, "ROTATION_FAILED", false},
	{common.ErrRestoreFailed, http.StatusInternalServerError, "RESTORE_FAILED", false},
	{common.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR", true},
	{common.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", false},
	{common.ErrNotInitialized, http.StatusUnauthorized, "NOT_INITIALIZED", false},
	{common.ErrAlreadyInitialized, http.StatusConflict, "ALREADY_INITIALIZED", false},
	{common.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED", false},
	{common.ErrInvalidToken, http.StatusUnauthorized, "INVALID_TOKEN", false},
	{common.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", false},
	{common.ErrVaultBusy, http.StatusConflict, "VAULT_BUSY", false},
	{common.ErrRotationInProgress, http.StatusConflict, "ROTATION_IN_PROGRESS", false},
	{common.ErrSnapshotAlreadyActive, http.StatusConflict, "SNAPSHOT_ACTIVE", false},
	{common.ErrNoActiveSnapshot, http.StatusNotFound, "NO_ACTIVE_SNAPSHOT", false},
	{common.ErrNotFound, http.StatusNotFound, "NOT_FOUND", false},
	{common.ErrStorage, http.StatusInternalServerError, "STORAGE_ERROR", false},
}

func mapError(err error) (int, errorBody) {
	for _, m := range errorTable {
		if !errors.Is(err, m.err) {
			continue
		}
		body := errorBody{Error: m.err.Error(), Code: m.code}
		if m.detail {
			body.Error = err.Error()
		}
		var ue *common.UnrecoverableError
		if errors.As(err, &ue) {
			body.SnapshotRef = ue.SnapshotID
		}
		return m.status, body
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL_ERROR"}
}

func (h *handler) fail(c *gin.Context, err error) {
	status, body := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "code", body.Code, "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}
