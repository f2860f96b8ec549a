package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/app/orch"
	"github.com/dkeye/VoiceHub/internal/domain"
)

type apiResponse struct {
	Success bool        `json:"success"`
	Data    any         `json:"data,omitempty"`
	Count   *int        `json:"count,omitempty"`
	Message string      `json:"message,omitempty"`
	Code    domain.Code `json:"code,omitempty"`
}

func ok(c *gin.Context, data any, count int) {
	c.JSON(http.StatusOK, apiResponse{Success: true, Data: data, Count: &count})
}

func statusOf(code domain.Code) int {
	switch code {
	case domain.CodeAuth, domain.CodeNotAuthenticated:
		return http.StatusUnauthorized
	case domain.CodeUnauthorized:
		return http.StatusForbidden
	case domain.CodeRoomNotFound, domain.CodeCallNotFound:
		return http.StatusNotFound
	case domain.CodeBadPayload:
		return http.StatusBadRequest
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeUserOffline, domain.CodeCallInProgress:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func fail(c *gin.Context, err error) {
	de := domain.AsError(err)
	status := statusOf(de.Code)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, apiResponse{Success: false, Message: de.Message, Code: de.Code})
}

type handlers struct {
	orch   *orch.Orchestrator
	health HealthFunc
}

func (h *handlers) healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, apiResponse{Success: false, Message: "unhealthy"})
			return
		}
	}
	c.JSON(http.StatusOK, apiResponse{Success: true, Message: "ok"})
}

func (h *handlers) onlineUsers(c *gin.Context) {
	users, err := h.orch.OnlineUsers(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, users, len(users))
}

// userRooms lists a user's rooms; users may only list their own.
func (h *handlers) userRooms(c *gin.Context) {
	uid, err := domain.ParseUserID(c.Param("id"))
	if err != nil {
		fail(c, domain.ErrBadPayload.Errorf("invalid user id"))
		return
	}
	if me := identityFrom(c); me == nil || me.ID != uid {
		fail(c, domain.ErrUnauthorized)
		return
	}
	rooms, err := h.orch.RoomsForUser(c.Request.Context(), uid)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rooms, len(rooms))
}

type pageQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=1000"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

func (h *handlers) roomMessages(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, domain.ErrBadPayload.Errorf("invalid paging: %v", err))
		return
	}
	if q.Limit == 0 {
		q.Limit = h.orch.PageSize
	}
	me := identityFrom(c)
	if me == nil {
		fail(c, domain.ErrNotAuthenticated)
		return
	}
	msgs, err := h.orch.RoomMessages(c.Request.Context(), me.ID, domain.RoomID(c.Param("id")), q.Limit, q.Offset)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, msgs, len(msgs))
}

func (h *handlers) activeCalls(c *gin.Context) {
	calls := h.orch.ActiveCalls()
	ok(c, calls, len(calls))
}

func (h *handlers) recordings(c *gin.Context) {
	call := domain.CallID(c.Query("callSessionId"))
	if active, _ := strconv.ParseBool(c.Query("active")); active {
		recs := h.orch.ActiveRecordings()
		ok(c, recs, len(recs))
		return
	}
	recs, err := h.orch.Recordings(c.Request.Context(), call)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, recs, len(recs))
}
