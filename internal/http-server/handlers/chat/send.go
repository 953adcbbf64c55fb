package chat

import (
	"ShopChat/internal/composer"
	"ShopChat/internal/lib/api/response"
	"ShopChat/internal/lib/sl"
	"ShopChat/internal/lib/validate"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

type SendRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

func (s *SendRequest) Bind(_ *http.Request) error {
	return validate.Struct(s)
}

type SendResponse struct {
	Delivery composer.Delivery `json:"delivery"`
}

// Send posts text to the open conversation.
func Send(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r)

		var req SendRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Debug("invalid send request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}

		delivery, err := handler.Send(r.Context(), req.Content)
		if err != nil {
			logger.Error("failed to send message", sl.Err(err))
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error(fmt.Sprintf("Failed to send message: %v", err)))
			return
		}
		if delivery == composer.DeliveryNone {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Nothing to send"))
			return
		}

		logger.Debug("message sent", slog.String("delivery", string(delivery)))
		render.JSON(w, r, response.Ok(SendResponse{Delivery: delivery}))
	}
}
