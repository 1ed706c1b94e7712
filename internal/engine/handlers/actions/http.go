package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nodeflow-ai/nodeflow/internal/engine/core"
)

// Shared client; handlers are stateless across calls.
var httpClient = &http.Client{
	Timeout: 60 * time.Second,
}

// HTTPRequestNode performs an HTTP call. A credentialId in the config
// resolves to a secret map used for bearer/basic/header auth.
type HTTPRequestNode struct{}

func (n *HTTPRequestNode) Type() string {
	return "action.http"
}

func (n *HTTPRequestNode) Execute(ctx context.Context, nc *core.NodeContext) (*core.Result, error) {
	url := core.GetString(nc.Config, "url", "")
	if url == "" {
		return nil, &core.NodeError{Message: "url is required", Code: "MISSING_CONFIG"}
	}
	method := strings.ToUpper(core.GetString(nc.Config, "method", "GET"))

	var body io.Reader
	if raw, ok := nc.Config["body"]; ok && raw != nil {
		switch v := raw.(type) {
		case string:
			body = strings.NewReader(v)
		default:
			buf, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode request body: %w", err)
			}
			body = bytes.NewReader(buf)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", core.GetString(nc.Config, "contentType", "application/json"))
	for key, val := range core.GetMap(nc.Config, "headers") {
		req.Header.Set(key, fmt.Sprintf("%v", val))
	}

	if err := n.applyCredential(nc, req); err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &core.NodeError{Message: err.Error(), Code: "REQUEST_FAILED"}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	output := map[string]interface{}{
		"statusCode": resp.StatusCode,
		"headers":    flattenHeaders(resp.Header),
	}
	var decoded interface{}
	if json.Unmarshal(respBody, &decoded) == nil {
		output["body"] = decoded
	} else {
		output["body"] = string(respBody)
	}

	if !core.GetBool(nc.Config, "ignoreHTTPErrors", false) && resp.StatusCode >= 400 {
		return nil, &core.NodeError{
			Message: fmt.Sprintf("request returned status %d", resp.StatusCode),
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
		}
	}
	return core.Success(output), nil
}

func (n *HTTPRequestNode) applyCredential(nc *core.NodeContext, req *http.Request) error {
	credRef := core.GetString(nc.Config, "credentialId", "")
	if credRef == "" {
		return nil
	}
	if nc.GetCredential == nil {
		return &core.NodeError{Message: "no credential resolver available", Code: "CREDENTIAL_UNAVAILABLE"}
	}
	credID, err := uuid.Parse(credRef)
	if err != nil {
		return &core.NodeError{Message: "invalid credentialId", Code: "CREDENTIAL_INVALID"}
	}
	secret, err := nc.GetCredential(credID)
	if err != nil {
		return &core.NodeError{Message: err.Error(), Code: "CREDENTIAL_RESOLVE_FAILED"}
	}

	switch core.GetString(nc.Config, "authType", "bearer") {
	case "basic":
		req.SetBasicAuth(secret["username"], secret["password"])
	case "header":
		name := secret["headerName"]
		if name == "" {
			name = "X-Api-Key"
		}
		req.Header.Set(name, secret["headerValue"])
	default:
		req.Header.Set("Authorization", "Bearer "+secret["token"])
	}
	return nil
}

func flattenHeaders(h http.Header) map[string]interface{} {
	result := make(map[string]interface{}, len(h))
	for key, vals := range h {
		if len(vals) > 0 {
			result[key] = vals[0]
		}
	}
	return result
}
