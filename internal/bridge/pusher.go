package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// PushStatus classifies the outcome of one payload push.
type PushStatus string

const (
	PushOK       PushStatus = "ok"
	PushTimeout  PushStatus = "timeout"  // network error or request deadline
	PushRejected PushStatus = "rejected" // server answered with a non-2xx code
)

// PushResult is the typed outcome of a push: status plus the HTTP code
// when the server answered.
type PushResult struct {
	Status PushStatus
	Code   int
}

// OK reports whether the payload was accepted.
func (r PushResult) OK() bool { return r.Status == PushOK }

// Pusher POSTs bridge payloads to the decision server ingress.
type Pusher struct {
	baseURL string
	client  *http.Client
}

// NewPusher creates a pusher targeting baseURL (e.g. "http://localhost:8080").
// timeout bounds each individual POST.
func NewPusher(baseURL string, timeout time.Duration) *Pusher {
	return &Pusher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Push sends one payload to POST {baseURL}/bridge/{symbol} and classifies
// the outcome. Network failures and deadline hits map to PushTimeout;
// any non-2xx answer maps to PushRejected with the HTTP code.
func (p *Pusher) Push(ctx context.Context, payload model.BridgePayload) (PushResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return PushResult{Status: PushRejected}, fmt.Errorf("marshal payload %s: %w", payload.Symbol, err)
	}

	url := p.baseURL + "/bridge/" + payload.Symbol
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return PushResult{Status: PushRejected}, fmt.Errorf("build request %s: %w", payload.Symbol, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return PushResult{Status: PushTimeout}, fmt.Errorf("push %s: %w", payload.Symbol, err)
		}
		// Connection refused, DNS failure etc. count as timeouts for the
		// cooldown decision: the server is unreachable, not rejecting.
		return PushResult{Status: PushTimeout}, fmt.Errorf("push %s: %w", payload.Symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return PushResult{Status: PushRejected, Code: resp.StatusCode},
			fmt.Errorf("push %s: server returned %d", payload.Symbol, resp.StatusCode)
	}
	return PushResult{Status: PushOK, Code: resp.StatusCode}, nil
}
