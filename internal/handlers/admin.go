package handlers

import (
	"net/http"

	"soundcrate/internal/jobs"

	"github.com/labstack/echo/v4"
)

// AdminHandler は管理用APIのハンドラー
type AdminHandler struct {
	svc   *jobs.Service
	token string
}

// NewAdminHandler は新しいAdminHandlerを作成
func NewAdminHandler(svc *jobs.Service, token string) *AdminHandler {
	return &AdminHandler{svc: svc, token: token}
}

// Cleanup runs the same reconciliation pass as the scheduled sweep, on
// demand, and returns its counts.
func (h *AdminHandler) Cleanup(c echo.Context) error {
	if h.token != "" && c.Request().Header.Get("X-Admin-Token") != h.token {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "admin token required"})
	}

	result, err := h.svc.RunCleanupSweep(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
