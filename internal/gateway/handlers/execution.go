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

type ExecutionHandler struct {
	executionSvc *services.ExecutionService
}

func NewExecutionHandler(executionSvc *services.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{executionSvc: executionSvc}
}

type createExecutionRequest struct {
	FlowID        string      `json:"flow_id"`
	FlowVersionID *string     `json:"flow_version_id,omitempty"`
	TriggerType   string      `json:"trigger_type"`
	TriggeredBy   *string     `json:"triggered_by,omitempty"`
	TriggerInput  models.JSON `json:"trigger_input,omitempty"`
}

func (h *ExecutionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flowID, err := uuid.Parse(req.FlowID)
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid flow ID")
		return
	}

	input := services.CreateExecutionInput{
		FlowID:       flowID,
		TriggerType:  req.TriggerType,
		TriggerInput: req.TriggerInput,
	}
	if req.TriggerType == "" {
		input.TriggerType = models.TriggerManual
	}
	if req.FlowVersionID != nil {
		versionID, err := uuid.Parse(*req.FlowVersionID)
		if err != nil {
			dto.ErrorResponse(w, http.StatusBadRequest, "invalid flow version ID")
			return
		}
		input.FlowVersionID = &versionID
	}
	if req.TriggeredBy != nil {
		userID, err := uuid.Parse(*req.TriggeredBy)
		if err != nil {
			dto.ErrorResponse(w, http.StatusBadRequest, "invalid triggered_by")
			return
		}
		input.TriggeredBy = &userID
	}

	execution, err := h.executionSvc.Create(r.Context(), input)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusAccepted, execution)
}

func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid execution ID")
		return
	}

	execution, err := h.executionSvc.GetByID(r.Context(), executionID)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, execution)
}

func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	flowID, err := uuid.Parse(r.URL.Query().Get("flow_id"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "flow_id query parameter is required")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	opts := repositories.NewListOptions(page, perPage)

	executions, total, err := h.executionSvc.List(r.Context(), flowID, opts)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSONWithMeta(w, http.StatusOK, executions, paginationMeta(page, perPage, total, opts))
}

func (h *ExecutionHandler) GetNodeExecutions(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid execution ID")
		return
	}

	nodes, err := h.executionSvc.GetNodeExecutions(r.Context(), executionID)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, nodes)
}

func (h *ExecutionHandler) GetOutput(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid execution ID")
		return
	}

	output, err := h.executionSvc.GetOutput(r.Context(), executionID)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, output)
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid execution ID")
		return
	}

	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by user"
	}

	if err := h.executionSvc.Cancel(r.Context(), executionID, req.Reason); err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, map[string]string{"status": models.ExecutionStatusCancelled})
}

func (h *ExecutionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid execution ID")
		return
	}

	if err := h.executionSvc.Pause(r.Context(), executionID, models.PauseReasonManual); err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, map[string]string{"status": models.ExecutionStatusWaiting})
}

type resumeRequest struct {
	Data map[string]interface{} `json:"data,omitempty"`
}

func (h *ExecutionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid execution ID")
		return
	}

	var req resumeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.executionSvc.Resume(r.Context(), executionID, req.Data); err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, map[string]string{"status": models.ExecutionStatusRunning})
}

func (h *ExecutionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid execution ID")
		return
	}

	retry, err := h.executionSvc.Retry(r.Context(), executionID)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusAccepted, retry)
}

type previewRequest struct {
	Definition models.JSON `json:"definition"`
}

func (h *ExecutionHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.ErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.executionSvc.Preview(r.Context(), req.Definition)
	if err != nil {
		dto.FromError(w, err)
		return
	}
	dto.JSON(w, http.StatusOK, result)
}
