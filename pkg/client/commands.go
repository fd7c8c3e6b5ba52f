package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

// ListOptions filters command listings.
type ListOptions struct {
	DeviceID string
	Status   v1.CommandStatus
	ParentID string
}

func (o ListOptions) values() url.Values {
	q := url.Values{}
	if o.DeviceID != "" {
		q.Set("device_id", o.DeviceID)
	}
	if o.Status != "" {
		q.Set("status", string(o.Status))
	}
	if o.ParentID != "" {
		q.Set("parent_id", o.ParentID)
	}
	return q
}

// Enqueue is never retried; a lost response could otherwise duplicate the command.
func (c *Client) Enqueue(ctx context.Context, req *v1.EnqueueRequest) (*v1.Command, error) {
	var out v1.Command
	if _, err := c.do(ctx, request{method: http.MethodPost, path: "/v1/commands", body: req, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, id string) (*v1.Command, error) {
	var out v1.Command
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/v1/commands/" + url.PathEscape(id), out: &out, retry: true}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) List(ctx context.Context, opts ListOptions) ([]v1.Command, error) {
	var out v1.CommandList
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/v1/commands", query: opts.values(), out: &out, retry: true}); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListPending returns the device's pending commands in creation order.
func (c *Client) ListPending(ctx context.Context, deviceID string) ([]v1.Command, error) {
	return c.List(ctx, ListOptions{DeviceID: deviceID, Status: v1.CommandStatusPending})
}

// Claim requests exclusive execution rights. A claim lost to another
// executor returns (nil, nil).
func (c *Client) Claim(ctx context.Context, id, agentID string) (*v1.Command, error) {
	var out v1.Command
	_, err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   "/v1/commands/" + url.PathEscape(id),
		body:   v1.UpdateCommandRequest{Status: v1.CommandStatusClaimed, AgentID: agentID},
		out:    &out,
		retry:  true,
	})
	if errors.Is(err, util.ErrClaimConflict) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Complete reports the evidence of a claimed command.
func (c *Client) Complete(ctx context.Context, id string, result *v1.ExecutionResult) (*v1.Command, error) {
	at := result.Timestamp
	var out v1.Command
	_, err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   "/v1/commands/" + url.PathEscape(id),
		body:   v1.UpdateCommandRequest{Status: result.CompletionStatus(), Result: result, CompletedAt: &at},
		out:    &out,
		retry:  true,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Cancel(ctx context.Context, id string) (*v1.Command, error) {
	var out v1.Command
	if _, err := c.do(ctx, request{method: http.MethodPost, path: "/v1/commands/" + url.PathEscape(id) + "/cancel", out: &out, retry: true}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verdict returns the command's verdict; false means evidence may still arrive.
func (c *Client) Verdict(ctx context.Context, id string) (*v1.VerifierOutput, bool, error) {
	var out v1.VerifierOutput
	status, err := c.do(ctx, request{method: http.MethodGet, path: "/v1/commands/" + url.PathEscape(id) + "/verdict", out: &out, retry: true})
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusAccepted {
		return nil, false, nil
	}
	return &out, true, nil
}

func (c *Client) ArtifactUploadURL(ctx context.Context, id string) (*v1.ArtifactUploadResponse, error) {
	var out v1.ArtifactUploadResponse
	if _, err := c.do(ctx, request{method: http.MethodPost, path: "/v1/commands/" + url.PathEscape(id) + "/artifact", out: &out, retry: true}); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ArtifactDownloadURL(ctx context.Context, id string) (*v1.ArtifactUploadResponse, error) {
	var out v1.ArtifactUploadResponse
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/v1/commands/" + url.PathEscape(id) + "/artifact", out: &out, retry: true}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Intent submits a natural-language request. It is not retried.
func (c *Client) Intent(ctx context.Context, req *v1.IntentRequest) (*v1.IntentResponse, error) {
	var out v1.IntentResponse
	if _, err := c.do(ctx, request{method: http.MethodPost, path: "/v1/intents", body: req, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}
