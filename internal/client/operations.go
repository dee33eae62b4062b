package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"reconcile/internal/api"
	"reconcile/internal/operation"
)

// Start begins a batch reconciliation and returns the operation ID.
func (c *Client) Start(ctx context.Context, req api.StartRequest) (string, error) {
	var resp api.StartResponse
	if err := c.do(ctx, http.MethodPost, "/api/reconcile", nil, req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.OperationID) == "" {
		return "", errors.New("daemon returned no operation id")
	}
	return resp.OperationID, nil
}

// Operation returns the latest snapshot of an operation.
func (c *Client) Operation(ctx context.Context, id string) (operation.Operation, error) {
	var op operation.Operation
	err := c.do(ctx, http.MethodGet, operationPath(id, ""), nil, nil, &op)
	return op, err
}

// Operations lists active and recent operations, newest first.
func (c *Client) Operations(ctx context.Context) ([]operation.Operation, error) {
	var resp api.OperationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/operations", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Operations, nil
}

// Cancel requests cancellation. Cancelling a finished operation returns its
// final snapshot unchanged.
func (c *Client) Cancel(ctx context.Context, id string) (operation.Operation, error) {
	var op operation.Operation
	err := c.do(ctx, http.MethodPost, operationPath(id, "cancel"), nil, nil, &op)
	return op, err
}

func operationPath(id, action string) string {
	path := "/api/operations/" + url.PathEscape(id)
	if action != "" {
		path += "/" + action
	}
	return path
}
