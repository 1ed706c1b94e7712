package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// NodeContext contains all data a handler needs for one node execution.
// Config has already been through expression resolution; Input is the merge
// of upstream node outputs.
type NodeContext struct {
	ExecutionID uuid.UUID
	FlowID      uuid.UUID
	NodeID      string
	NodeType    string
	Config      map[string]interface{}
	Input       map[string]interface{}
	UserID      *uuid.UUID
	Global      map[string]interface{}

	// GetCredential resolves a credential referenced in node config for the
	// triggering user. Nil when no resolver is wired.
	GetCredential func(credentialID uuid.UUID) (map[string]string, error)
}

// SuspendReason identifies why a handler paused its execution.
type SuspendReason string

const (
	SuspendApproval SuspendReason = "approval"
	SuspendForm     SuspendReason = "form"
	SuspendWait     SuspendReason = "wait"
	SuspendWebhook  SuspendReason = "webhook"
)

// Result is the outcome of a handler call. A nil Suspension means the node
// completed; a non-nil one pauses the owning execution at this node.
// Failures are returned as errors from Execute (see NodeError for codes).
type Result struct {
	Output           map[string]interface{}
	BranchesToFollow []string
	Suspension       *Suspension
}

// Suspension asks the scheduler to park the execution until an external
// signal (approval decision, form submission, timer, webhook) re-arms it.
type Suspension struct {
	Reason     SuspendReason
	ResumeSpec map[string]interface{}
}

// Success wraps a completed output map.
func Success(output map[string]interface{}) *Result {
	return &Result{Output: output}
}

// SuccessBranches wraps output plus the outbound handles that should fire.
func SuccessBranches(output map[string]interface{}, branches ...string) *Result {
	return &Result{Output: output, BranchesToFollow: branches}
}

// Suspend wraps a pause request.
func Suspend(reason SuspendReason, resumeSpec map[string]interface{}) *Result {
	return &Result{Suspension: &Suspension{Reason: reason, ResumeSpec: resumeSpec}}
}

// NodeError is a handler failure with an optional machine-readable code.
type NodeError struct {
	Message string
	Code    string
	Stack   string
}

func (e *NodeError) Error() string {
	return e.Message
}

// Handler is the interface all node types implement.
type Handler interface {
	Type() string
	Execute(ctx context.Context, nc *NodeContext) (*Result, error)
}

// PortDef describes one named input or output handle.
type PortDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Meta is static handler metadata for discovery and validation.
type Meta struct {
	Type              string                 `json:"type"`
	DisplayName       string                 `json:"display_name"`
	Description       string                 `json:"description,omitempty"`
	Category          string                 `json:"category"`
	Icon              string                 `json:"icon,omitempty"`
	Version           string                 `json:"version,omitempty"`
	IsTrigger         bool                   `json:"is_trigger"`
	SupportsAsync     bool                   `json:"supports_async"`
	SupportsStreaming bool                   `json:"supports_streaming"`
	ConfigSchema      map[string]interface{} `json:"config_schema,omitempty"`
	Inputs            []PortDef              `json:"inputs,omitempty"`
	Outputs           []PortDef              `json:"outputs,omitempty"`
	CredentialType    string                 `json:"credential_type,omitempty"`
}

// Global registry. Handlers register themselves from init(); after startup
// the registry is read-mostly and guarded by a RWMutex.
var (
	globalRegistry = &Registry{
		handlers: make(map[string]Handler),
		meta:     make(map[string]Meta),
	}
	registryMu sync.RWMutex
)

// Registry holds all registered node handlers.
type Registry struct {
	handlers map[string]Handler
	meta     map[string]Meta
}

// Register adds a handler to the global registry (called from init()).
func Register(h Handler, meta ...Meta) {
	registryMu.Lock()
	defer registryMu.Unlock()

	nodeType := h.Type()
	globalRegistry.handlers[nodeType] = h

	if len(meta) > 0 {
		m := meta[0]
		m.Type = nodeType
		globalRegistry.meta[nodeType] = m
	} else {
		globalRegistry.meta[nodeType] = Meta{
			Type:        nodeType,
			DisplayName: nodeType,
			Category:    categoryFromType(nodeType),
		}
	}
}

// Get returns a handler by type, or nil.
func Get(nodeType string) Handler {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return globalRegistry.handlers[nodeType]
}

// GetMeta returns metadata for a node type.
func GetMeta(nodeType string) (Meta, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	m, ok := globalRegistry.meta[nodeType]
	return m, ok
}

// IsTrigger reports whether a registered type is a trigger node.
func IsTrigger(nodeType string) bool {
	m, ok := GetMeta(nodeType)
	return ok && m.IsTrigger
}

// List returns all registered node types.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(globalRegistry.handlers))
	for t := range globalRegistry.handlers {
		types = append(types, t)
	}
	return types
}

// ListAll returns all handler metadata.
func ListAll() []Meta {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Meta, 0, len(globalRegistry.meta))
	for _, m := range globalRegistry.meta {
		result = append(result, m)
	}
	return result
}

// Count returns the number of registered handlers.
func Count() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(globalRegistry.handlers)
}

func categoryFromType(nodeType string) string {
	for i, c := range nodeType {
		if c == '.' {
			return nodeType[:i]
		}
	}
	return "other"
}
