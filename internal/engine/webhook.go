// Package engine invokes the external scan execution engine. The call is
// fire-and-forget: only dispatch-level success or failure comes back; all
// results arrive later as audit record updates.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/redfoxsec/audit-core/pkg/types"
)

// InvokeRequest is the payload the execution engine accepts. Field names
// are part of the engine contract.
type InvokeRequest struct {
	URL           string `json:"url"`
	Email         string `json:"email"`
	TargetID      string `json:"domain_id"`
	ScanAttemptID string `json:"scan_id"`
}

// ErrDispatchRejected is returned when the engine endpoint answers with a
// non-2xx status.
var ErrDispatchRejected = errors.New("engine rejected dispatch")

// Invoker dispatches scan requests to the execution engine.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) error
}

// WebhookInvoker is an Invoker that POSTs to the engine's webhook
// endpoint.
type WebhookInvoker struct {
	endpoint string
	client   types.HTTPClientInterface
}

// NewWebhookInvoker creates a WebhookInvoker. When a token is configured
// the client authenticates with a static bearer token; a nil client falls
// back to the default HTTP client.
func NewWebhookInvoker(endpoint, token string, client types.HTTPClientInterface) (*WebhookInvoker, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if client == nil {
		if token != "" {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
			client = oauth2.NewClient(context.Background(), ts)
		} else {
			client = types.NewRealHTTPClient()
		}
	}
	return &WebhookInvoker{endpoint: endpoint, client: client}, nil
}

// Invoke POSTs the dispatch payload to the webhook endpoint. Any transport
// error or non-2xx response is a dispatch failure; no retry is attempted.
func (w *WebhookInvoker) Invoke(ctx context.Context, req InvokeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("error serializing dispatch payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: unexpected status code: %d", ErrDispatchRejected, resp.StatusCode)
	}
	return nil
}
