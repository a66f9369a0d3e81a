package arbiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/taurusgroup/p2p-wager/internal/params"
	"github.com/taurusgroup/p2p-wager/pkg/protocol"
	"github.com/taurusgroup/p2p-wager/pkg/taproot"
)

// Client calls a remote arbiter.
//
// Network failures and 5xx answers are Transport errors and may be retried.
// Any other refusal is returned as is.
type Client struct {
	url  string
	http *http.Client
}

// NewClient returns a client for the arbiter at url. A nil h uses a client
// with the default arbiter timeout.
func NewClient(url string, h *http.Client) *Client {
	if h == nil {
		h = &http.Client{Timeout: params.ArbiterTimeout}
	}
	return &Client{url: strings.TrimRight(url, "/"), http: h}
}

// SignWinner asks the arbiter to sign the secrets for the declared winner.
func (c *Client) SignWinner(ctx context.Context, req *SignWinnerRequest) (*SignWinnerResponse, error) {
	var resp SignWinnerResponse
	if err := c.do(ctx, http.MethodPost, PathSignWinner, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Signatures) != len(req.Secrets) {
		return nil, protocol.Errorf(protocol.Crypto, "sign-winner", "%d secrets but %d signatures", len(req.Secrets), len(resp.Signatures))
	}
	return &resp, nil
}

// PublicKey fetches the arbiter key.
func (c *Client) PublicKey(ctx context.Context) (taproot.PublicKey, error) {
	var info InfoResponse
	if err := c.do(ctx, http.MethodGet, PathInfo, nil, &info); err != nil {
		return nil, err
	}
	return taproot.ParsePublicKey(info.Pubkey)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	op := strings.TrimPrefix(path, "/v1/")
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return protocol.Wrap(protocol.Protocol, op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return protocol.Wrap(protocol.Protocol, op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.Wrap(protocol.Transport, op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRequest))
	if err != nil {
		return protocol.Wrap(protocol.Transport, op, err)
	}
	if resp.StatusCode >= 500 {
		return protocol.Errorf(protocol.Transport, op, "arbiter answered %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		if resp.StatusCode == http.StatusForbidden {
			return protocol.Error{Kind: protocol.Protocol, Op: op, Err: fmt.Errorf("%w: %s", ErrRefused, e.Error)}
		}
		return protocol.Error{Kind: protocol.Protocol, Op: op, Err: fmt.Errorf("%w: %s", ErrBadRequest, e.Error)}
	}
	if err = json.Unmarshal(data, out); err != nil {
		return protocol.Errorf(protocol.Protocol, op, "decode answer: %v", err)
	}
	return nil
}
