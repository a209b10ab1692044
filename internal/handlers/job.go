package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"soundcrate/internal/auth"
	"soundcrate/internal/jobs"
	"soundcrate/internal/models"

	"github.com/labstack/echo/v4"
)

// JobHandler はダウンロードジョブAPIのハンドラー
type JobHandler struct {
	svc      *jobs.Service
	verifier auth.Verifier
}

// NewJobHandler は新しいJobHandlerを作成
func NewJobHandler(svc *jobs.Service, verifier auth.Verifier) *JobHandler {
	return &JobHandler{svc: svc, verifier: verifier}
}

// Create はジョブを作成
func (h *JobHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	owner, err := h.resolveOwner(c)
	if err != nil {
		return writeError(c, err)
	}

	var req models.CreateJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	view, err := h.svc.Create(ctx, owner, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, view)
}

// Get はジョブの現在の状態を取得
func (h *JobHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	view, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// Cancel はジョブを取り消す
//
// Ownership is deliberately not checked here: cancel leaves the record and
// artifacts intact, unlike delete.
func (h *JobHandler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.Cancel(ctx, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete はジョブとその成果物を削除
func (h *JobHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()

	owner, err := h.resolveOwner(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.svc.Delete(ctx, c.Param("id"), owner); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// List は呼び出し元のジョブ一覧を取得
func (h *JobHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	owner, err := h.resolveOwner(c)
	if err != nil {
		return writeError(c, err)
	}
	views, err := h.svc.ListByOwner(ctx, owner)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, views)
}

// Limits はゲストのレート制限状態を取得
func (h *JobHandler) Limits(c echo.Context) error {
	ctx := c.Request().Context()
	owner := auth.GuestOwner(c.RealIP())
	return c.JSON(http.StatusOK, h.svc.GuestStatus(ctx, owner))
}

// resolveOwner verifies a bearer token if present, otherwise derives a
// guest identity from the caller's address. A present-but-invalid token is
// rejected rather than downgraded to guest.
func (h *JobHandler) resolveOwner(c echo.Context) (auth.Owner, error) {
	header := c.Request().Header.Get("Authorization")
	if header == "" {
		return auth.GuestOwner(c.RealIP()), nil
	}
	token := strings.TrimPrefix(header, "Bearer ")
	identity, err := h.verifier.Verify(c.Request().Context(), token)
	if err != nil || identity == nil {
		return auth.Owner{}, jobs.ErrUnauthenticated
	}
	return auth.Owner{ID: identity.SubjectID, Email: identity.Email}, nil
}

// writeError はエラー種別をHTTPステータスに対応付ける
func writeError(c echo.Context, err error) error {
	var (
		validation *jobs.ValidationError
		capacity   *jobs.CapacityError
		quota      *jobs.QuotaError
		store      *jobs.StoreError
	)
	switch {
	case errors.As(err, &validation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": validation.Error()})
	case errors.As(err, &capacity):
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(capacity.RetryAfter.Seconds())))
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"error":       capacity.Error(),
			"active":      capacity.Active,
			"limit":       capacity.Limit,
			"retry_after": int(capacity.RetryAfter.Seconds()),
		})
	case errors.As(err, &quota):
		return c.JSON(http.StatusTooManyRequests, map[string]any{
			"error":     quota.Error(),
			"limit":     quota.Limit,
			"remaining": quota.Remaining,
			"resets_at": quota.ResetsAt,
		})
	case errors.Is(err, jobs.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	case errors.Is(err, jobs.ErrForbidden):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "not the owner of this job"})
	case errors.Is(err, jobs.ErrUnauthenticated):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	case errors.Is(err, jobs.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": "job is already finished"})
	case errors.As(err, &store):
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "storage temporarily unavailable"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
