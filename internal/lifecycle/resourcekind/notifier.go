package resourcekind

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/fleetd/internal/log"
)

// Notifier calls a registered controller's webhook endpoints when a
// Resource of a matching kind changes: POST /rules on
// create/put, DELETE /rules/{name} on delete. A failed call is logged
// and never blocks the caller.
type Notifier struct {
	client *http.Client
}

// NewNotifier returns a Notifier with a bounded per-call timeout.
func NewNotifier(timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{client: &http.Client{Timeout: timeout}}
}

// NotifyPut posts payload to endpoint/rules. endpoint == "" is a no-op:
// not every ResourceKind registers a controller.
func (n *Notifier) NotifyPut(ctx context.Context, endpoint string, payload map[string]any) error {
	if endpoint == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling resource payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/rules", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req)
}

// NotifyDelete calls DELETE endpoint/rules/{name}.
func (n *Notifier) NotifyDelete(ctx context.Context, endpoint, name string) error {
	if endpoint == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/rules/%s", endpoint, name), nil)
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	return n.do(req)
}

func (n *Notifier) do(req *http.Request) error {
	resp, err := n.client.Do(req)
	if err != nil {
		log.Errorf("controller webhook call to "+req.URL.String(), err)
		return fmt.Errorf("calling controller webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn(fmt.Sprintf("controller webhook %s rejected request with status %d", req.URL, resp.StatusCode))
		return fmt.Errorf("controller webhook returned status %d", resp.StatusCode)
	}
	return nil
}
