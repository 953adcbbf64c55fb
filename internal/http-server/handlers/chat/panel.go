package chat

import (
	"ShopChat/entity"
	"ShopChat/internal/lib/api/response"
	"ShopChat/internal/lib/sl"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

type PanelResponse struct {
	Open           bool      `json:"open"`
	ConversationID entity.ID `json:"conversation_id,omitempty"`
	Badge          int       `json:"badge"`
}

func OpenPanel(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r)

		conv, err := handler.OpenPanel(r.Context())
		if err != nil {
			logger.Error("failed to open chat panel", sl.Err(err))
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error(fmt.Sprintf("Failed to open chat: %v", err)))
			return
		}

		render.JSON(w, r, response.Ok(PanelResponse{Open: true, ConversationID: conv, Badge: handler.BadgeCount()}))
	}
}

func ClosePanel(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handler.ClosePanel(r.Context())
		requestLogger(log, r).Debug("chat panel closed")
		render.JSON(w, r, response.Ok(PanelResponse{Open: false, Badge: handler.BadgeCount()}))
	}
}

// Refresh is the explicit list-wide refetch.
func Refresh(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r)

		if err := handler.Refresh(r.Context()); err != nil {
			logger.Warn("refresh failed", sl.Err(err))
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error("Failed to refresh"))
			return
		}
		render.JSON(w, r, response.Ok(nil))
	}
}

func Badge(_ *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, response.Ok(PanelResponse{Open: handler.PanelOpen(), Badge: handler.BadgeCount()}))
	}
}
