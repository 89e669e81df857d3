package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tortodelova/backend/internal/logger"
	"github.com/tortodelova/backend/internal/middleware"
	"github.com/tortodelova/backend/internal/sse"
)

type EventsHandler struct {
	log *logger.Logger
	hub *sse.Hub
}

func NewEventsHandler(baseLog *logger.Logger, hub *sse.Hub) *EventsHandler {
	return &EventsHandler{
		log: baseLog.With("handler", "EventsHandler"),
		hub: hub,
	}
}

// GET /api/events/stream
//
// Long-lived SSE stream of the authenticated user's prediction and balance
// events. EventSource cannot set headers, which is why the auth middleware
// also accepts the token as a query parameter.
func (h *EventsHandler) Stream(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	client := h.hub.NewClient(userID)
	h.hub.Subscribe(client, userID.String())
	h.log.Info("Event stream opened", "user_id", userID, "client_id", client.ID)

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.hub.CloseClient(client)
	h.log.Info("Event stream closed", "user_id", userID, "client_id", client.ID)
}
