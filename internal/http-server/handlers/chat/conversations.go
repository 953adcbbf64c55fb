package chat

import (
	"ShopChat/entity"
	"ShopChat/internal/lib/api/cont"
	"ShopChat/internal/lib/api/response"
	"ShopChat/internal/lib/sl"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type MessagesResponse struct {
	ConversationID entity.ID        `json:"conversation_id"`
	Messages       []entity.Message `json:"messages"`
	LastSeenID     *entity.ID       `json:"last_seen_id,omitempty"`
}

func requestLogger(log *slog.Logger, r *http.Request) *slog.Logger {
	logger := log.With(
		sl.Module("http.handlers.chat"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	if user := cont.GetUser(r.Context()); user != nil {
		logger = logger.With(slog.String("user", user.Username))
	}
	return logger
}

func conversationParam(r *http.Request) entity.ID {
	return entity.ID(chi.URLParam(r, "id"))
}

// ListConversations returns the rows held by the store, filtered by ?q=.
func ListConversations(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r)

		list := handler.Conversations(r.URL.Query().Get("q"))
		if list == nil {
			list = []entity.Conversation{}
		}

		logger.Debug("conversations listed", slog.Int("count", len(list)))
		render.JSON(w, r, response.Ok(list))
	}
}

// ListMessages returns the held transcript of one conversation.
func ListMessages(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r)

		conv := conversationParam(r)
		if conv.IsZero() {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("conversation id is required"))
			return
		}

		messages := handler.Messages(conv)
		if messages == nil {
			messages = []entity.Message{}
		}
		resp := MessagesResponse{ConversationID: conv, Messages: messages}
		if seen, ok := handler.LastSeen(conv); ok {
			resp.LastSeenID = &seen
		}

		logger.Debug("messages listed", slog.String("conversation", conv.String()), slog.Int("count", len(messages)))
		render.JSON(w, r, response.Ok(resp))
	}
}

// OpenConversation makes a conversation the active one.
func OpenConversation(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r)

		conv := conversationParam(r)
		if conv.IsZero() {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("conversation id is required"))
			return
		}

		if err := handler.OpenConversation(r.Context(), conv); err != nil {
			logger.Error("failed to open conversation", slog.String("conversation", conv.String()), sl.Err(err))
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error("Failed to open conversation"))
			return
		}

		render.JSON(w, r, response.Ok(map[string]entity.ID{"conversation_id": conv}))
	}
}

// MarkRead acknowledges everything unread in a conversation.
func MarkRead(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := requestLogger(log, r)

		conv := conversationParam(r)
		if err := handler.MarkConversationRead(r.Context(), conv); err != nil {
			logger.Warn("failed to mark conversation read", slog.String("conversation", conv.String()), sl.Err(err))
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error("Failed to mark conversation read"))
			return
		}

		render.JSON(w, r, response.Ok(nil))
	}
}
