package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
	"github.com/nodeflow-ai/nodeflow/internal/gateway/dto"
)

// NodeTypeHandler exposes the handler registry to the flow editor.
type NodeTypeHandler struct{}

func NewNodeTypeHandler() *NodeTypeHandler {
	return &NodeTypeHandler{}
}

func (h *NodeTypeHandler) List(w http.ResponseWriter, r *http.Request) {
	dto.JSON(w, http.StatusOK, core.ListAll())
}

func (h *NodeTypeHandler) Get(w http.ResponseWriter, r *http.Request) {
	nodeType := chi.URLParam(r, "nodeType")
	meta, ok := core.GetMeta(nodeType)
	if !ok {
		dto.ErrorResponse(w, http.StatusNotFound, "unknown node type")
		return
	}
	dto.JSON(w, http.StatusOK, meta)
}
