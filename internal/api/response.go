package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/matheus3301/inbox/internal/ingest"
	"github.com/matheus3301/inbox/internal/outbox"
	"github.com/matheus3301/inbox/internal/push"
	"github.com/matheus3301/inbox/internal/store"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func Ok(data any) Response { return Response{Success: true, Data: data} }

func Error(msg string) Response { return Response{Success: false, Message: msg} }

func reply(w http.ResponseWriter, r *http.Request, code int, data any) {
	render.Status(r, code)
	render.JSON(w, r, Ok(data))
}

func fail(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, Error(msg))
}

// statusOf maps a core error to its HTTP status.
func statusOf(err error) int {
	var actionErr *store.ActionError
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &actionErr), errors.As(err, &validationErrs),
		errors.Is(err, push.ErrMalformed), errors.Is(err, outbox.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrUnknownConversation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, outbox.ErrFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func NotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusNotFound, "Not found")
	}
}

func NotAllowed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
