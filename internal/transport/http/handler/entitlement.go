package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/devi-sudo/zbox/internal/domain"
	ctxlog "github.com/devi-sudo/zbox/internal/log"
	"github.com/devi-sudo/zbox/internal/usecase"
	"github.com/gin-gonic/gin"
)

type starter interface {
	HandleStart(ctx context.Context, ev domain.StartEvent) (domain.Result, error)
}

type accessReader interface {
	Window(ctx context.Context, userID string) (*domain.AccessWindow, error)
}

type referralLedger interface {
	GetOrCreateCode(ctx context.Context, userID string) (string, error)
	Summary(ctx context.Context, userID string) (*usecase.ReferralSummary, error)
	Leaderboard(ctx context.Context, limit int) (*usecase.Leaderboard, error)
}

type EntitlementHandler struct {
	engine   starter
	access   accessReader
	referral referralLedger
	linkBase string
	logger   *slog.Logger
}

// NewEntitlementHandler serves the chat-facing endpoints. linkBase is the
// deep link prefix used to build shareable referral links.
func NewEntitlementHandler(engine starter, access accessReader, referral referralLedger, linkBase string, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		engine:   engine,
		access:   access,
		referral: referral,
		linkBase: linkBase,
		logger:   logger.With("component", "entitlement_handler"),
	}
}

type userURI struct {
	UserID string `uri:"userID" binding:"required,max=64,alphanum"`
}

type startRequest struct {
	UserID      string `json:"user_id"      binding:"required,max=64,alphanum"`
	StartParam  string `json:"start_param"  binding:"max=256"`
	DisplayName string `json:"display_name" binding:"max=256"`
}

type startResponse struct {
	Kind             domain.Kind   `json:"kind"`
	Reason           string        `json:"reason,omitempty"`
	Source           domain.Source `json:"source,omitempty"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	RemainingSeconds int64         `json:"remaining_seconds,omitempty"`
	MediaRef         string        `json:"media_ref,omitempty"`
	ReferrerUserID   string        `json:"referrer_user_id,omitempty"`
	ReferralCode     string        `json:"referral_code,omitempty"`
	ReferralLink     string        `json:"referral_link,omitempty"`
	VerificationURL  string        `json:"verification_url,omitempty"`
}

type accessResponse struct {
	UserID           string        `json:"user_id"`
	HasAccess        bool          `json:"has_access"`
	Source           domain.Source `json:"source,omitempty"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	RemainingSeconds int64         `json:"remaining_seconds,omitempty"`
}

type referralResponse struct {
	*usecase.ReferralSummary
	Link string `json:"link"`
}

func (h *EntitlementHandler) Start(ctx *gin.Context) {
	var req startRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reqCtx := ctxlog.WithUserID(ctx.Request.Context(), req.UserID)

	res, err := h.engine.HandleStart(reqCtx, domain.StartEvent{
		UserID:      req.UserID,
		StartParam:  req.StartParam,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		respondError(reqCtx, ctx, h.logger, "handle start", err)
		return
	}

	resp := startResponse{
		Kind:             res.Kind,
		Reason:           res.Reason,
		Source:           res.Source,
		ExpiresAt:        res.ExpiresAt,
		RemainingSeconds: int64(res.Remaining / time.Second),
		MediaRef:         res.MediaRef,
		ReferrerUserID:   res.ReferrerUserID,
		ReferralCode:     res.ReferralCode,
		VerificationURL:  res.VerificationURL,
	}
	if res.Kind == domain.KindAccessDenied && res.ReferralCode != "" {
		resp.ReferralLink = h.referralLink(res.ReferralCode)
	}
	ctx.JSON(http.StatusOK, resp)
}

func (h *EntitlementHandler) Access(ctx *gin.Context) {
	var uri userURI
	if err := ctx.ShouldBindUri(&uri); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidUserID})
		return
	}
	reqCtx := ctxlog.WithUserID(ctx.Request.Context(), uri.UserID)

	w, err := h.access.Window(reqCtx, uri.UserID)
	if err != nil {
		respondError(reqCtx, ctx, h.logger, "read access window", err)
		return
	}

	resp := accessResponse{UserID: uri.UserID}
	if w != nil {
		resp.HasAccess = true
		resp.Source = w.Source
		resp.ExpiresAt = &w.ExpiresAt
		resp.RemainingSeconds = int64(time.Until(w.ExpiresAt) / time.Second)
	}
	ctx.JSON(http.StatusOK, resp)
}

func (h *EntitlementHandler) Referral(ctx *gin.Context) {
	var uri userURI
	if err := ctx.ShouldBindUri(&uri); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidUserID})
		return
	}
	reqCtx := ctxlog.WithUserID(ctx.Request.Context(), uri.UserID)

	if _, err := h.referral.GetOrCreateCode(reqCtx, uri.UserID); err != nil {
		respondError(reqCtx, ctx, h.logger, "get or create referral code", err)
		return
	}
	summary, err := h.referral.Summary(reqCtx, uri.UserID)
	if err != nil {
		respondError(reqCtx, ctx, h.logger, "referral summary", err)
		return
	}

	ctx.JSON(http.StatusOK, referralResponse{
		ReferralSummary: summary,
		Link:            h.referralLink(summary.Code),
	})
}

func (h *EntitlementHandler) referralLink(code string) string {
	return h.linkBase + "ref_" + code
}
