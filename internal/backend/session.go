// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/vegtrace/internal/domain/session/model"
)

// Endpoints used by the session client.
const (
	EndpointLogout          = "logout"
	EndpointValidateSession = "validateSession"
	EndpointHealth          = "health"
)

// Logout tells the backend that sessionID ended for reason.
func (c *Client) Logout(ctx context.Context, sessionID string, reason model.Reason) error {
	res, err := c.Call(ctx, EndpointLogout, Payload{
		"sessionId": sessionID,
		"reason":    reason.WireReason(),
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return &CallError{Endpoint: EndpointLogout, Attempts: 1, Kind: ErrClient, Err: errors.New(res.Message)}
	}
	return nil
}

// ValidateSession asks the backend whether sessionID is still accepted.
func (c *Client) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	res, err := c.Call(ctx, EndpointValidateSession, Payload{"sessionId": sessionID})
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

// Health probes the backend.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.Call(ctx, EndpointHealth, nil)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("backend health: %w: %s", ErrServer, res.Message)
	}
	return nil
}
