// Package mint is an HTTP client for the subset of the Cashu mint API used by wallets.
package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/taurusgroup/p2p-wager/internal/params"
	"github.com/taurusgroup/p2p-wager/pkg/cashu"
	"github.com/taurusgroup/p2p-wager/pkg/protocol"
)

// maxBody bounds the size of a mint answer.
const maxBody = 4 << 20

// Client talks to one mint. It is safe for concurrent use.
type Client struct {
	url  string
	http *http.Client
	log  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger requests are traced to.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient returns a client for the mint at url.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:  strings.TrimRight(url, "/"),
		http: &http.Client{Timeout: params.MintTimeout},
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "mint").Str("mint", c.url).Logger()
	return c
}

// URL returns the normalized mint URL, as carried in tokens.
func (c *Client) URL() string {
	return c.url
}

// Keys fetches the public keys of all active keysets.
func (c *Client) Keys(ctx context.Context) ([]cashu.KeysResponse, error) {
	var resp GetKeysResponse
	if err := c.do(ctx, http.MethodGet, PathKeys, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keysets, nil
}

// Keysets fetches the list of keysets with their fees.
func (c *Client) Keysets(ctx context.Context) ([]cashu.KeysetInfo, error) {
	var resp GetKeysetsResponse
	if err := c.do(ctx, http.MethodGet, PathKeysets, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keysets, nil
}

// LoadKeysets combines Keys and Keysets into fully described keysets.
// Keysets whose keys the mint no longer publishes are skipped.
func (c *Client) LoadKeysets(ctx context.Context) (cashu.Keysets, error) {
	infos, err := c.Keysets(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := c.Keys(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]cashu.KeysResponse, len(keys))
	for _, k := range keys {
		byID[k.ID] = k
	}
	out := make(cashu.Keysets, len(infos))
	for _, info := range infos {
		k, ok := byID[info.ID]
		if !ok {
			continue
		}
		ks, err := cashu.ParseKeyset(k, info)
		if err != nil {
			return nil, protocol.Wrap(protocol.Mint, "keys", err)
		}
		out[ks.ID] = ks
	}
	return out, nil
}

// MintQuote asks for a quote to mint amount.
func (c *Client) MintQuote(ctx context.Context, amount uint64, unit string) (*MintQuoteResponse, error) {
	var resp MintQuoteResponse
	req := PostMintQuoteRequest{Amount: amount, Unit: unit}
	if err := c.do(ctx, http.MethodPost, PathMintQuote, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MintQuoteState polls a quote.
func (c *Client) MintQuoteState(ctx context.Context, quote string) (*MintQuoteResponse, error) {
	var resp MintQuoteResponse
	if err := c.do(ctx, http.MethodGet, PathMintQuote+"/"+quote, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Mint exchanges a paid quote for blind signatures on outputs.
func (c *Client) Mint(ctx context.Context, quote string, outputs cashu.BlindedMessages) ([]cashu.BlindSignature, error) {
	var resp PostMintResponse
	req := PostMintRequest{Quote: quote, Outputs: outputs}
	if err := c.do(ctx, http.MethodPost, PathMint, req, &resp); err != nil {
		return nil, err
	}
	return resp.Signatures, nil
}

// Swap spends inputs for blind signatures on outputs.
func (c *Client) Swap(ctx context.Context, inputs cashu.Proofs, outputs cashu.BlindedMessages) ([]cashu.BlindSignature, error) {
	var resp PostSwapResponse
	req := PostSwapRequest{Inputs: inputs, Outputs: outputs}
	if err := c.do(ctx, http.MethodPost, PathSwap, req, &resp); err != nil {
		return nil, err
	}
	return resp.Signatures, nil
}

// CheckState reports the state of the proofs with the given Ys, in order.
func (c *Client) CheckState(ctx context.Context, ys []string) ([]ProofState, error) {
	var resp PostCheckStateResponse
	if err := c.do(ctx, http.MethodPost, PathCheckState, PostCheckStateRequest{Ys: ys}, &resp); err != nil {
		return nil, err
	}
	if len(resp.States) != len(ys) {
		return nil, protocol.Errorf(protocol.Mint, "checkstate", "%v: asked %d states, got %d", ErrRejected, len(ys), len(resp.States))
	}
	return resp.States, nil
}

// Restore asks the mint for signatures it already issued on outputs.
// The answer only contains the outputs the mint knows about.
func (c *Client) Restore(ctx context.Context, outputs cashu.BlindedMessages) (*PostRestoreResponse, error) {
	var resp PostRestoreResponse
	if err := c.do(ctx, http.MethodPost, PathRestore, PostRestoreRequest{Outputs: outputs}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Outputs) != len(resp.Signatures) {
		return nil, protocol.Errorf(protocol.Mint, "restore", "%v: %d outputs, %d signatures", ErrRejected, len(resp.Outputs), len(resp.Signatures))
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	op := strings.TrimPrefix(path, "/v1/")
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return protocol.Wrap(protocol.Mint, op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return protocol.Wrap(protocol.Mint, op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Msg("request failed")
		return protocol.Error{Kind: protocol.Mint, Op: op, Err: fmt.Errorf("%w: %v", ErrMintUnavailable, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return protocol.Error{Kind: protocol.Mint, Op: op, Err: fmt.Errorf("%w: %v", ErrMintUnavailable, err)}
	}
	c.log.Debug().Str("op", op).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e ErrorResponse
		if json.Unmarshal(data, &e) == nil {
			apiErr.Code, apiErr.Detail = e.Code, e.Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return protocol.Error{Kind: protocol.Mint, Op: op, Err: apiErr}
	}
	if out == nil {
		return nil
	}
	if err = json.Unmarshal(data, out); err != nil {
		return protocol.Error{Kind: protocol.Mint, Op: op, Err: fmt.Errorf("%w: decode answer: %v", ErrRejected, err)}
	}
	return nil
}
