package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/domain/repositories"
	"github.com/nodeflow-ai/nodeflow/internal/engine/form"
	"github.com/nodeflow-ai/nodeflow/internal/gateway/dto"
)

// FormHandler serves the public token-addressed form endpoints.
type FormHandler struct {
	coordinator *form.Coordinator
	executions  *repositories.ExecutionRepository
}

func NewFormHandler(coordinator *form.Coordinator, executions *repositories.ExecutionRepository) *FormHandler {
	return &FormHandler{coordinator: coordinator, executions: executions}
}

// Get exposes the form config for rendering. The token is the only
// credential; no auth applies here.
func (h *FormHandler) Get(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	trigger, err := h.coordinator.GetByToken(r.Context(), token)
	if err != nil {
		dto.FromError(w, err)
		return
	}

	dto.JSON(w, http.StatusOK, map[string]interface{}{
		"node_id":   trigger.NodeID,
		"config":    trigger.Config,
		"is_active": trigger.IsActive,
	})
}

type formSubmitRequest struct {
	Data        models.JSON `json:"data"`
	SubmittedBy *string     `json:"submitted_by,omitempty"`
}

// Submit accepts a form payload and resumes the execution waiting on it.
func (h *FormHandler) Submit(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req formSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	trigger, err := h.coordinator.GetByToken(r.Context(), token)
	if err != nil {
		dto.FromError(w, err)
		return
	}

	execution, err := h.executions.FindWaitingByFlowNode(r.Context(), trigger.FlowID, trigger.NodeID)
	if err != nil {
		dto.ErrorResponse(w, http.StatusConflict, "no execution is waiting on this form")
		return
	}

	var submittedBy *uuid.UUID
	if req.SubmittedBy != nil {
		userID, err := uuid.Parse(*req.SubmittedBy)
		if err != nil {
			dto.ErrorResponse(w, http.StatusBadRequest, "invalid submitted_by")
			return
		}
		submittedBy = &userID
	}
	ip := r.RemoteAddr

	submission, err := h.coordinator.Submit(r.Context(), token, execution.ID, trigger.NodeID, req.Data, submittedBy, &ip)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusAccepted, submission)
}
