package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/devi-sudo/zbox/internal/domain"
	"github.com/gin-gonic/gin"
)

const defaultLeaderboardLimit = 5

type settingsCell interface {
	Snapshot() domain.Settings
	SetAdEnabled(ctx context.Context, enabled bool) error
}

type AdminHandler struct {
	settings settingsCell
	referral referralLedger
	logger   *slog.Logger
}

func NewAdminHandler(settings settingsCell, referral referralLedger, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		settings: settings,
		referral: referral,
		logger:   logger.With("component", "admin_handler"),
	}
}

type updateSettingsRequest struct {
	AdEnabled *bool `json:"ad_enabled" binding:"required"`
}

type settingsResponse struct {
	AdEnabled bool `json:"ad_enabled"`
}

func (h *AdminHandler) GetSettings(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, settingsResponse{AdEnabled: h.settings.Snapshot().AdEnabled})
}

func (h *AdminHandler) UpdateSettings(ctx *gin.Context) {
	var req updateSettingsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.settings.SetAdEnabled(ctx.Request.Context(), *req.AdEnabled); err != nil {
		respondError(ctx.Request.Context(), ctx, h.logger, "update settings", err)
		return
	}

	h.logger.InfoContext(ctx.Request.Context(), "settings updated",
		"admin_id", ctx.GetString("adminID"),
		"ad_enabled", *req.AdEnabled,
	)
	ctx.JSON(http.StatusOK, settingsResponse{AdEnabled: *req.AdEnabled})
}

func (h *AdminHandler) Leaderboard(ctx *gin.Context) {
	limit := defaultLeaderboardLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidLimit})
			return
		}
		limit = n
	}

	board, err := h.referral.Leaderboard(ctx.Request.Context(), limit)
	if err != nil {
		respondError(ctx.Request.Context(), ctx, h.logger, "referral leaderboard", err)
		return
	}
	ctx.JSON(http.StatusOK, board)
}
