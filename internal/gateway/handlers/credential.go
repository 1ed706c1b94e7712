package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nodeflow-ai/nodeflow/internal/domain/repositories"
	"github.com/nodeflow-ai/nodeflow/internal/domain/services"
	"github.com/nodeflow-ai/nodeflow/internal/gateway/dto"
)

type CredentialHandler struct {
	credentialSvc *services.CredentialService
}

func NewCredentialHandler(credentialSvc *services.CredentialService) *CredentialHandler {
	return &CredentialHandler{credentialSvc: credentialSvc}
}

type createCredentialRequest struct {
	OwnerID     string            `json:"owner_id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Data        map[string]string `json:"data"`
	Description *string           `json:"description,omitempty"`
}

func (h *CredentialHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid owner ID")
		return
	}

	credential, err := h.credentialSvc.Create(r.Context(), services.CreateCredentialInput{
		OwnerID:     ownerID,
		Name:        req.Name,
		Type:        req.Type,
		Data:        req.Data,
		Description: req.Description,
	})
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusCreated, credential)
}

func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(r.URL.Query().Get("owner_id"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "owner_id query parameter is required")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	opts := repositories.NewListOptions(page, perPage)

	credentials, total, err := h.credentialSvc.List(r.Context(), ownerID, opts)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSONWithMeta(w, http.StatusOK, credentials, paginationMeta(page, perPage, total, opts))
}

type updateCredentialRequest struct {
	Data map[string]string `json:"data"`
}

func (h *CredentialHandler) Update(w http.ResponseWriter, r *http.Request) {
	credentialID, err := uuid.Parse(chi.URLParam(r, "credentialID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid credential ID")
		return
	}

	var req updateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.credentialSvc.UpdateData(r.Context(), credentialID, req.Data); err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	credentialID, err := uuid.Parse(chi.URLParam(r, "credentialID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid credential ID")
		return
	}

	if err := h.credentialSvc.Delete(r.Context(), credentialID); err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
