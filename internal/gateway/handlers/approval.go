package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nodeflow-ai/nodeflow/internal/domain/models"
	"github.com/nodeflow-ai/nodeflow/internal/engine/approval"
	"github.com/nodeflow-ai/nodeflow/internal/gateway/dto"
)

type ApprovalHandler struct {
	coordinator *approval.Coordinator
}

func NewApprovalHandler(coordinator *approval.Coordinator) *ApprovalHandler {
	return &ApprovalHandler{coordinator: coordinator}
}

func (h *ApprovalHandler) Get(w http.ResponseWriter, r *http.Request) {
	approvalID, err := uuid.Parse(chi.URLParam(r, "approvalID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid approval ID")
		return
	}

	record, err := h.coordinator.Get(r.Context(), approvalID)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, record)
}

type approvalActionRequest struct {
	UserID  string  `json:"user_id"`
	Action  string  `json:"action"`
	Comment *string `json:"comment,omitempty"`
}

func (h *ApprovalHandler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	approvalID, err := uuid.Parse(chi.URLParam(r, "approvalID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid approval ID")
		return
	}

	var req approvalActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	if req.Action != models.ApprovalActionApprove && req.Action != models.ApprovalActionReject {
		dto.ErrorResponse(w, http.StatusBadRequest, "action must be approve or reject")
		return
	}

	record, err := h.coordinator.Submit(r.Context(), approvalID, userID, req.Action, req.Comment)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, record)
}
