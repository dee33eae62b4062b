package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"reconcile/internal/operation"
)

// Stream consumes the progress stream of an operation, invoking onUpdate for
// each snapshot. It returns the terminal snapshot, or the last snapshot seen
// with ErrStreamDisrupted when the stream closes early.
func (c *Client) Stream(ctx context.Context, id string, onUpdate func(operation.Operation)) (operation.Operation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, operationPath(id, "stream"), nil, nil)
	if err != nil {
		return operation.Operation{}, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return operation.Operation{}, fmt.Errorf("open progress stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return operation.Operation{}, decodeError(resp)
	}

	var last operation.Operation
	var seen bool
	err = readEvents(resp.Body, func(event string, data []byte) error {
		if event != "" && event != "operation" {
			return nil
		}
		var op operation.Operation
		if err := json.Unmarshal(data, &op); err != nil {
			return fmt.Errorf("%w: %v", errMalformedEvent, err)
		}
		last, seen = op, true
		if onUpdate != nil {
			onUpdate(op)
		}
		if op.Status.Terminal() {
			return errTerminal
		}
		return nil
	})
	switch {
	case errors.Is(err, errTerminal):
		return last, nil
	case ctx.Err() != nil:
		return last, ctx.Err()
	case errors.Is(err, errMalformedEvent):
		return last, err
	}
	if !seen {
		return last, fmt.Errorf("%w: no progress received", ErrStreamDisrupted)
	}
	return last, fmt.Errorf("%w: last status %s", ErrStreamDisrupted, last.Status)
}

// Follow streams an operation to completion. When the stream is disrupted
// it re-queries the operation once; a terminal snapshot from that query is
// returned without error, otherwise ErrStreamDisrupted is kept so callers
// report the outcome as unknown rather than as success or failure.
func (c *Client) Follow(ctx context.Context, id string, onUpdate func(operation.Operation)) (operation.Operation, error) {
	final, err := c.Stream(ctx, id, onUpdate)
	if err == nil || !errors.Is(err, ErrStreamDisrupted) {
		return final, err
	}
	current, queryErr := c.Operation(ctx, id)
	if queryErr != nil {
		return final, fmt.Errorf("%w; status query failed: %v", err, queryErr)
	}
	if current.Status.Terminal() {
		return current, nil
	}
	return current, err
}

var (
	errTerminal       = errors.New("terminal snapshot received")
	errMalformedEvent = errors.New("malformed progress event")
)

// readEvents parses a server-sent event stream, calling dispatch once per
// event. Comment lines are ignored.
func readEvents(r io.Reader, dispatch func(event string, data []byte) error) error {
	reader := bufio.NewReader(r)
	var event string
	var data strings.Builder
	flush := func() error {
		if data.Len() == 0 {
			event = ""
			return nil
		}
		payload := []byte(strings.TrimSuffix(data.String(), "\n"))
		name := event
		event = ""
		data.Reset()
		return dispatch(name, payload)
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if derr := flush(); derr != nil {
				return derr
			}
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data.WriteString(value)
				data.WriteByte('\n')
			}
		}
		if err != nil {
			return err
		}
	}
}
