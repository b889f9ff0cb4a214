package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/matheus3301/inbox/internal/push"
	"go.uber.org/zap"
)

const maxEventBytes = 1 << 20

// Ingest serves POST /v1/ingest, the webhook alternative to the broker for
// providers that push over HTTP. Redelivered events answer 200 as well.
func Ingest(log *zap.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(zap.String("request_id", middleware.GetReqID(r.Context())))

		buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				fail(w, r, http.StatusRequestEntityTooLarge, "Event too large")
				return
			}
			fail(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}

		ev, err := push.Decode(buf)
		if err != nil {
			fail(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := core.Ingest(r.Context(), ev); err != nil {
			code := statusOf(err)
			if code == http.StatusInternalServerError {
				logger.Error("ingest event", zap.String("event_id", ev.ID), zap.Error(err))
			}
			fail(w, r, code, err.Error())
			return
		}
		logger.Debug("event ingested", zap.String("event_id", ev.ID), zap.String("kind", string(ev.Kind)))
		reply(w, r, http.StatusOK, nil)
	}
}

func GetStatus(core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, Ok(core.Status(r.Context())))
	}
}
