package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/matheus3301/inbox/internal/filter"
	"github.com/matheus3301/inbox/internal/store"
	"go.uber.org/zap"
)

// ListConversations serves GET /v1/conversations. The query string is a
// filter descriptor as produced by filter.Descriptor.Values.
func ListConversations(log *zap.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := filter.Parse(r.URL.Query())
		convs, err := core.ListConversations(r.Context(), q)
		if err != nil {
			log.Error("list conversations", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
			fail(w, r, statusOf(err), "Failed to list conversations")
			return
		}
		reply(w, r, http.StatusOK, convs)
	}
}

func Counts(log *zap.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := core.Counts(r.Context())
		if err != nil {
			log.Error("count conversations", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
			fail(w, r, statusOf(err), "Failed to count conversations")
			return
		}
		reply(w, r, http.StatusOK, c)
	}
}

func GetConversation(log *zap.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := core.Conversation(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			code := statusOf(err)
			if code == http.StatusInternalServerError {
				log.Error("get conversation", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
			}
			fail(w, r, code, err.Error())
			return
		}
		reply(w, r, http.StatusOK, c)
	}
}

func MarkRead(log *zap.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := core.MarkRead(r.Context(), id); err != nil {
			code := statusOf(err)
			if code == http.StatusInternalServerError {
				log.Error("mark read", zap.String("request_id", middleware.GetReqID(r.Context())), zap.String("conversation_id", id), zap.Error(err))
			}
			fail(w, r, code, err.Error())
			return
		}
		reply(w, r, http.StatusOK, nil)
	}
}

// Act serves POST /v1/conversations/{id}/actions with a store.Action body.
func Act(log *zap.Logger, core Core, validate *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(zap.String("request_id", middleware.GetReqID(r.Context())))

		var a store.Action
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			fail(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validate.Struct(a); err != nil {
			fail(w, r, http.StatusBadRequest, err.Error())
			return
		}

		id := chi.URLParam(r, "id")
		c, err := core.Act(r.Context(), id, a)
		if err != nil {
			code := statusOf(err)
			if code == http.StatusInternalServerError {
				logger.Error("apply action", zap.String("conversation_id", id), zap.String("kind", string(a.Kind)), zap.Error(err))
			}
			fail(w, r, code, err.Error())
			return
		}
		logger.Debug("action applied", zap.String("conversation_id", id), zap.String("kind", string(a.Kind)))
		reply(w, r, http.StatusOK, c)
	}
}
