package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/matheus3301/inbox/internal/signature"
	"go.uber.org/zap"
)

type saveSignatureRequest struct {
	Name     string            `json:"name" validate:"required"`
	Scope    string            `json:"scope" validate:"omitempty,oneof=all chat sms email voice"`
	Variant  signature.Variant `json:"variant" validate:"omitempty,oneof=plain logo"`
	Active   bool              `json:"active"`
	Default  bool              `json:"default"`
	Body     string            `json:"body"`
	Links    map[string]string `json:"links" validate:"omitempty,dive,keys,required,endkeys,url"`
	LogoURL  string            `json:"logo_url" validate:"omitempty,url"`
	Position int               `json:"position" validate:"gte=0"`
}

func ListSignatures(log *zap.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := core.Signatures(r.Context())
		if err != nil {
			log.Error("list signatures", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
			fail(w, r, statusOf(err), "Failed to list signatures")
			return
		}
		reply(w, r, http.StatusOK, ts)
	}
}

// SaveSignature serves PUT /v1/signatures/{id}.
func SaveSignature(log *zap.Logger, core Core, validate *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveSignatureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			fail(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			fail(w, r, http.StatusBadRequest, err.Error())
			return
		}
		t := signature.Template{
			ID:      chi.URLParam(r, "id"),
			Name:    req.Name,
			Scope:   req.Scope,
			Variant: req.Variant,
			Active:  req.Active,
			Default: req.Default,
			Body:    req.Body,
			Links:   req.Links,
			LogoURL: req.LogoURL,
		}
		if err := core.SaveSignature(r.Context(), t, req.Position); err != nil {
			log.Error("save signature", zap.String("request_id", middleware.GetReqID(r.Context())), zap.String("id", t.ID), zap.Error(err))
			fail(w, r, statusOf(err), "Failed to save signature")
			return
		}
		reply(w, r, http.StatusOK, t)
	}
}

func DeleteSignature(log *zap.Logger, core Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := core.DeleteSignature(r.Context(), id); err != nil {
			code := statusOf(err)
			if code == http.StatusInternalServerError {
				log.Error("delete signature", zap.String("request_id", middleware.GetReqID(r.Context())), zap.String("id", id), zap.Error(err))
			}
			fail(w, r, code, err.Error())
			return
		}
		reply(w, r, http.StatusOK, nil)
	}
}
