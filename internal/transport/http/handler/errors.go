package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	errInternalServer   = "Internal server error"
	errStoreUnavailable = "Store unavailable, try again"
	errInvalidUserID    = "User ID must be 1-64 alphanumeric characters"
	errInvalidLimit     = "limit must be between 1 and 100"
)

// respondError answers 503 for store failures and 500 for anything else.
func respondError(reqCtx context.Context, ctx *gin.Context, logger *slog.Logger, op string, err error) {
	if errors.Is(err, domain.ErrStore) {
		logger.WarnContext(reqCtx, op, "error", err)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": errStoreUnavailable})
		return
	}
	logger.ErrorContext(reqCtx, op, "error", err)
	ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
}
