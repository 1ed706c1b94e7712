package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/domain/repositories"
	"github.com/nodeflow-ai/nodeflow/internal/domain/services"
	"github.com/nodeflow-ai/nodeflow/internal/gateway/dto"
)

type FlowHandler struct {
	flowSvc *services.FlowService
}

func NewFlowHandler(flowSvc *services.FlowService) *FlowHandler {
	return &FlowHandler{flowSvc: flowSvc}
}

type createFlowRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	OwnerID     string  `json:"owner_id"`
}

func (h *FlowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid owner ID")
		return
	}

	flow, err := h.flowSvc.Create(r.Context(), services.CreateFlowInput{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     ownerID,
	})
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusCreated, flow)
}

func (h *FlowHandler) Get(w http.ResponseWriter, r *http.Request) {
	flowID, err := uuid.Parse(chi.URLParam(r, "flowID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid flow ID")
		return
	}

	flow, err := h.flowSvc.GetByID(r.Context(), flowID)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, flow)
}

func (h *FlowHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(r.URL.Query().Get("owner_id"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "owner_id query parameter is required")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	opts := repositories.NewListOptions(page, perPage)

	flows, total, err := h.flowSvc.List(r.Context(), ownerID, opts)
	if err != nil {
		dto.FromError(w, err)
		return
	}

	dto.JSONWithMeta(w, http.StatusOK, flows, paginationMeta(page, perPage, total, opts))
}

func (h *FlowHandler) Delete(w http.ResponseWriter, r *http.Request) {
	flowID, err := uuid.Parse(chi.URLParam(r, "flowID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid flow ID")
		return
	}

	if err := h.flowSvc.Delete(r.Context(), flowID); err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createVersionRequest struct {
	Definition models.JSON `json:"definition"`
	Settings   models.JSON `json:"settings,omitempty"`
	CreatedBy  string      `json:"created_by"`
}

func (h *FlowHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	flowID, err := uuid.Parse(chi.URLParam(r, "flowID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid flow ID")
		return
	}

	var req createVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	createdBy, err := uuid.Parse(req.CreatedBy)
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid created_by")
		return
	}

	version, err := h.flowSvc.CreateVersion(r.Context(), flowID, req.Definition, req.Settings, createdBy)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusCreated, version)
}

func (h *FlowHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	flowID, err := uuid.Parse(chi.URLParam(r, "flowID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid flow ID")
		return
	}

	versions, err := h.flowSvc.ListVersions(r.Context(), flowID)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, versions)
}

func (h *FlowHandler) Publish(w http.ResponseWriter, r *http.Request) {
	flowID, err := uuid.Parse(chi.URLParam(r, "flowID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid flow ID")
		return
	}
	versionID, err := uuid.Parse(chi.URLParam(r, "versionID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid version ID")
		return
	}

	if err := h.flowSvc.Publish(r.Context(), flowID, versionID); err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, map[string]string{"status": "published"})
}

func paginationMeta(page, perPage int, total int64, opts *repositories.ListOptions) *dto.Meta {
	totalPages := int(total) / opts.Limit
	if int(total)%opts.Limit > 0 {
		totalPages++
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = opts.Limit
	}
	return &dto.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}
}
