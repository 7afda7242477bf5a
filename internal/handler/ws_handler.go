package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bandscale/bandscale-backend/internal/middleware"
	"github.com/bandscale/bandscale-backend/internal/model"
	"github.com/bandscale/bandscale-backend/internal/service"
	ws "github.com/bandscale/bandscale-backend/internal/websocket"
)

const (
	// clockTickInterval is how often the server pushes the countdown.
	clockTickInterval = 15 * time.Second

	// clockWarnThreshold marks ticks with warning=true so the client can
	// surface a "time is almost up" banner.
	clockWarnThreshold = 60 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the server-anchored module clock over WebSocket. The
// stream is a convenience mirror of the validation endpoint: every tick is
// advisory, and a denial pushed here is also what a plain HTTP re-validation
// would return.
type WSHandler struct {
	accessService *service.AccessService
	log           zerolog.Logger
	upgrader      websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(accessService *service.AccessService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		accessService: accessService,
		log:           log.With().Str("component", "ws_handler").Logger(),
		upgrader:      buildUpgrader(allowedOrigins),
	}
}

// ModuleClockStream godoc
// WS /ws/v1/portal/attempts/:attempt_id/modules/:module/clock
// Pushes the remaining time on every tick. Closes after a denied verdict.
func (h *WSHandler) ModuleClockStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}
	moduleType := model.ModuleType(c.Param("module"))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Str("module", string(moduleType)).
		Logger()

	// The opening validation is authoritative: it stamps started_at on first
	// entry and applies any pending expiry before we start streaming.
	result, err := h.accessService.ValidateAccess(c.Request.Context(), attemptID, moduleType, studentID)
	if err != nil {
		ws.WriteError(conn, "access check failed")
		return
	}
	if !result.Allowed {
		h.pushDenied(conn, moduleType, result)
		return
	}

	wsLog.Info().Msg("Clock stream connected")
	h.pushTick(conn, moduleType, result.RemainingSeconds)

	// Read pump: the client only ever sends ping and state requests.
	requests := make(chan ws.Action)
	go func() {
		defer close(requests)
		for {
			var msg ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				} else {
					wsLog.Debug().Msg("Connection closed")
				}
				return
			}
			requests <- msg.Action
		}
	}()

	ticker := time.NewTicker(clockTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if done := h.revalidate(c, conn, attemptID, moduleType, studentID); done {
				wsLog.Info().Msg("Clock stream closed after denial")
				return
			}

		case action, ok := <-requests:
			if !ok {
				return
			}
			switch action {
			case ws.ActionPing:
				ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
			case ws.ActionState:
				if done := h.revalidate(c, conn, attemptID, moduleType, studentID); done {
					wsLog.Info().Msg("Clock stream closed after denial")
					return
				}
			default:
				ws.WriteError(conn, "unknown action")
			}
		}
	}
}

// revalidate runs a full access check and pushes the outcome. Returns true
// when the stream should close.
func (h *WSHandler) revalidate(c *gin.Context, conn *websocket.Conn, attemptID uuid.UUID, moduleType model.ModuleType, studentID int) bool {
	result, err := h.accessService.ValidateAccess(c.Request.Context(), attemptID, moduleType, studentID)
	if err != nil {
		ws.WriteError(conn, "access check failed")
		return true
	}
	if !result.Allowed {
		h.pushDenied(conn, moduleType, result)
		return true
	}
	h.pushTick(conn, moduleType, result.RemainingSeconds)
	return false
}

func (h *WSHandler) pushTick(conn *websocket.Conn, moduleType model.ModuleType, remainingSeconds int64) {
	ws.WriteTyped(conn, ws.TickResponse{
		Event:            ws.EventTick,
		Module:           string(moduleType),
		RemainingSeconds: remainingSeconds,
		Warning:          remainingSeconds <= int64(clockWarnThreshold/time.Second),
	})
}

func (h *WSHandler) pushDenied(conn *websocket.Conn, moduleType model.ModuleType, result *service.ValidationResult) {
	ws.WriteTyped(conn, ws.DeniedResponse{
		Event:        ws.EventDenied,
		Module:       string(moduleType),
		Reason:       string(result.Reason),
		RedirectHint: result.RedirectHint,
	})
}
