package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"ATX/configs"
	"ATX/network"
	"ATX/utils"

	json "github.com/goccy/go-json"
)

// Client speaks the participant wire protocol. One instance per participant
// base URL; calls carry their own timeout and the coordinator's service token.
type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(base string, secret string) (*Client, error) {
	token := ""
	if secret != "" {
		var err error
		token, err = network.MintServiceToken(secret, "coordinator")
		if err != nil {
			return nil, err
		}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = configs.MaxConnectionHandler
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Transport: transport},
	}, nil
}

// post sends body and decodes the envelope. A transport failure or an
// undecodable body comes back as err; a decoded envelope is returned even
// for non-2xx statuses, the caller reads the vote or error code from it.
func (c *Client) post(ctx context.Context, path string, body interface{}, timeout time.Duration) (*network.APIResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpRes, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpRes.Body.Close() }()
	raw, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return nil, err
	}
	res := &network.APIResponse{}
	if err = json.Unmarshal(raw, res); err != nil {
		return nil, fmt.Errorf("undecodable response (%v): %w", httpRes.StatusCode, err)
	}
	return res, nil
}

func (c *Client) Prepare(ctx context.Context, req *network.PrepareRequest, timeout time.Duration) (*network.APIResponse, error) {
	return c.post(ctx, "/2pc/prepare", req, timeout)
}

func (c *Client) Commit(ctx context.Context, req *network.CommitRequest, timeout time.Duration) (*network.APIResponse, error) {
	return c.post(ctx, "/2pc/commit", req, timeout)
}

func (c *Client) Abort(ctx context.Context, req *network.AbortRequest, timeout time.Duration) (*network.APIResponse, error) {
	return c.post(ctx, "/2pc/abort", req, timeout)
}

// LockStatus asks whether tid still holds a lock on the participant. Used by
// the sweeper, never on the transfer hot path.
func (c *Client) LockStatus(ctx context.Context, tid string, timeout time.Duration) (*network.LockStatus, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.base+"/2pc/status/"+tid, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpRes, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpRes.Body.Close() }()
	envelope := struct {
		Success bool                `json:"success"`
		Data    *network.LockStatus `json:"data"`
	}{}
	if err = json.NewDecoder(httpRes.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if !envelope.Success || envelope.Data == nil {
		return nil, fmt.Errorf("lock status query failed for %v", tid)
	}
	return envelope.Data, nil
}

// voteOf reduces a prepare outcome to the protocol vote. Everything that is
// not an explicit commit vote counts as abort.
func voteOf(res *network.APIResponse, err error) (vote string, code string) {
	if err != nil {
		return configs.VoteAbort, utils.CodeTransport
	}
	if res.Vote == configs.VoteCommit {
		return configs.VoteCommit, ""
	}
	if res.Error != nil {
		return configs.VoteAbort, res.Error.Code
	}
	return configs.VoteAbort, utils.CodeTransport
}
