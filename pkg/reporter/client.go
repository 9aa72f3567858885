package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peersentry/pkg/reach"
)

// Authority is the registry daemon that acts on reachability reports, e.g.
// by deregistering chronically unreachable nodes.
type Authority interface {
	ReportPeerStatus(ctx context.Context, peer reach.PeerID, reachable bool) error
}

// Client talks JSON-RPC 2.0 to the authority daemon.
type Client struct {
	url  string
	http *http.Client
	log  *zap.Logger
}

func NewClient(url string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type statusParams struct {
	Pubkey    string `json:"pubkey"`
	Reachable bool   `json:"reachable"`
}

// ReportPeerStatus tells the authority that a peer is reachable or not.
func (c *Client) ReportPeerStatus(ctx context.Context, peer reach.PeerID, reachable bool) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "report_peer_status",
		Params:  statusParams{Pubkey: string(peer), Reachable: reachable},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("authority unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("authority returned status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("authority error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	c.log.Debug("reported peer status",
		zap.String("peer", string(peer)), zap.Bool("reachable", reachable))
	return nil
}
