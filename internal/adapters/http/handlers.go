package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/adapters/signal"
	"github.com/medibridge/teleconsult/internal/domain"
	"github.com/medibridge/teleconsult/internal/metrics"
	"github.com/medibridge/teleconsult/internal/token"
)

type Handlers struct {
	tokens  *token.Service
	revoked token.RevocationList
	metrics *metrics.Metrics
	ice     []string
}

type issueRequest struct {
	AppointmentID string `json:"appointmentId" binding:"required"`
}

type issueResponse struct {
	RoomToken string `json:"roomToken"`
}

type verifyRequest struct {
	RoomToken string `json:"roomToken" binding:"required"`
}

func (h *Handlers) identity(c *gin.Context) (domain.UserID, domain.Role, bool) {
	uid := domain.UserID(c.GetString(signal.CtxUserID))
	role, err := domain.ParseRole(c.GetString(signal.CtxRole))
	if uid == "" || err != nil {
		return "", "", false
	}
	return uid, role, true
}

func (h *Handlers) IssueRoomToken(c *gin.Context) {
	uid, role, ok := h.identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing appointmentId"})
		return
	}

	raw, err := h.tokens.IssueToken(c.Request.Context(), uid, role, domain.AppointmentID(req.AppointmentID))
	if err != nil {
		if errors.Is(err, token.ErrNotParticipant) {
			h.metrics.TokensIssued.WithLabelValues("denied").Inc()
			c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this appointment"})
			return
		}
		h.metrics.TokensIssued.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("module", "adapters.http").Str("user", string(uid)).Msg("token issuance")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	h.metrics.TokensIssued.WithLabelValues("issued").Inc()
	c.JSON(http.StatusOK, issueResponse{RoomToken: raw})
}

// VerifyRoomToken distinguishes a structurally bad request (400) from
// a well-formed but semantically invalid token (200, valid false).
func (h *Handlers) VerifyRoomToken(c *gin.Context) {
	uid, role, ok := h.identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing roomToken"})
		return
	}

	res, err := h.tokens.VerifyToken(c.Request.Context(), req.RoomToken, uid, role)
	if err != nil {
		h.metrics.Verifications.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusOK, token.Verification{Valid: false})
		return
	}

	h.metrics.Verifications.WithLabelValues("valid").Inc()
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) ICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": h.ice})
}

// RevokeRoom cuts off every outstanding token for a room. Verification
// rejects tokens issued at or before the revocation mark, so a fresh
// token issued afterwards still works.
func (h *Handlers) RevokeRoom(c *gin.Context) {
	_, role, ok := h.identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	if !role.Administrative() {
		c.JSON(http.StatusForbidden, gin.H{"error": "administrative role required"})
		return
	}
	roomID := domain.RoomID(c.Param("room"))
	if !roomID.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed room id"})
		return
	}
	if err := h.revoked.Revoke(c.Request.Context(), roomID, time.Now()); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room", string(roomID)).Msg("revoke")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revocation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
