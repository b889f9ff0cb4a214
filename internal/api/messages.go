package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/matheus3301/inbox/internal/thread"
	"go.uber.org/zap"
)

// ListMessages serves GET /v1/conversations/{id}/messages. "before" is an
// RFC 3339 timestamp selecting older history; "limit" caps the page.
func ListMessages(log *zap.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := thread.Page{Limit: thread.DefaultPageSize}
		if v := r.URL.Query().Get("before"); v != "" {
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				fail(w, r, http.StatusBadRequest, "Invalid before timestamp")
				return
			}
			p.Before = ts
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				fail(w, r, http.StatusBadRequest, "Invalid limit")
				return
			}
			p.Limit = min(n, 500)
		}

		msgs, err := core.Messages(r.Context(), chi.URLParam(r, "id"), p)
		if err != nil {
			code := statusOf(err)
			if code == http.StatusInternalServerError {
				log.Error("list messages", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
			}
			fail(w, r, code, err.Error())
			return
		}
		reply(w, r, http.StatusOK, msgs)
	}
}

// SendMessage serves POST /v1/conversations/{id}/messages with a
// thread.SendRequest body. A provider failure answers 502 after the failed
// state was recorded and pushed.
func SendMessage(log *zap.Logger, core Core, validate *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(zap.String("request_id", middleware.GetReqID(r.Context())))

		var req thread.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			fail(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.ConversationID = chi.URLParam(r, "id")
		if err := validate.Struct(req); err != nil {
			fail(w, r, http.StatusBadRequest, err.Error())
			return
		}

		logger = logger.With(zap.String("conversation_id", req.ConversationID), zap.String("correlation_id", req.CorrelationID))
		m, err := core.Send(r.Context(), req)
		if err != nil {
			code := statusOf(err)
			if code == http.StatusInternalServerError {
				code = http.StatusBadGateway
			}
			logger.Warn("send failed", zap.Error(err))
			fail(w, r, code, err.Error())
			return
		}
		logger.Debug("message sent", zap.String("msg_id", m.ID))
		reply(w, r, http.StatusCreated, m)
	}
}

// Search serves GET /v1/search?q=&conversation_id=&limit=.
func Search(log *zap.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		text := q.Get("q")
		if text == "" {
			fail(w, r, http.StatusBadRequest, "Missing q")
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		msgs, err := core.Search(r.Context(), text, q.Get("conversation_id"), limit)
		if err != nil {
			log.Error("search messages", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
			fail(w, r, statusOf(err), "Search failed")
			return
		}
		reply(w, r, http.StatusOK, msgs)
	}
}
