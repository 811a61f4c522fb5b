// Package scanner discovers monitoring agents on local subnets. The
// handshake client confirms a single address hosts a genuine agent; the
// scanner sweeps a CIDR block with bounded concurrency and collects the
// agents that answer.
package scanner

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/nitrinonet/monitord/internal/errors"
)

// Handshake failure modes. All are routine from the scanner's point of
// view: an address that fails the handshake simply is not an agent.
var (
	ErrUnreachable     = errors.NewStd("agent unreachable")
	ErrInvalidResponse = errors.NewStd("invalid handshake response")
	ErrAuthRejected    = errors.NewStd("handshake key rejected")
)

// handshakeHeader carries the pre-shared key on every probe.
const handshakeHeader = "X-Agent-Handshake-Key"

// agentKeyPattern extracts the agent's stable identity from the metrics
// exposition body.
var agentKeyPattern = regexp.MustCompile(`UNIQUE_ID_SYSTEM\{uuid="([^"]+)"\}`)

// AgentIdentity is the result of a successful handshake.
type AgentIdentity struct {
	AgentKey string
}

// HandshakeClient speaks the challenge/response protocol with one agent
// address: it sends the pre-shared handshake key against the agent's
// metrics port and extracts the agent key from the acknowledgment.
// It never retries; retry policy belongs to the caller.
type HandshakeClient struct {
	key    string
	client *http.Client
}

// NewHandshakeClient creates a handshake client using the given
// pre-shared key and per-probe timeout.
func NewHandshakeClient(key string, timeout time.Duration) *HandshakeClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HandshakeClient{
		key: key,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				// Each probe hits a distinct host; keeping connections
				// alive would hold 254 sockets per sweep.
				DisableKeepAlives: true,
			},
		},
	}
}

// Handshake probes ip:port and returns the agent's identity on success.
// Failures map to ErrUnreachable, ErrInvalidResponse, or ErrAuthRejected.
func (h *HandshakeClient) Handshake(ctx context.Context, ip string, port int) (*AgentIdentity, error) {
	url := fmt.Sprintf("http://%s/metrics", net.JoinHostPort(ip, fmt.Sprintf("%d", port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set(handshakeHeader, h.key)

	resp, err := h.client.Do(req)
	if err != nil {
		// Connection refused, timeout, no route: not an agent.
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, ip)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrAuthRejected, ip)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s returned %d", ErrInvalidResponse, ip, resp.StatusCode)
	}

	// Agents expose a few KB of metrics; cap reads to keep a misbehaving
	// endpoint from holding a probe slot.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidResponse, ip, err)
	}

	match := agentKeyPattern.FindSubmatch(body)
	if match == nil {
		return nil, fmt.Errorf("%w: %s has no agent key", ErrInvalidResponse, ip)
	}

	return &AgentIdentity{AgentKey: string(match[1])}, nil
}
