// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package bluez

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Thermoquad/overwave/pkg/link"
)

// ListenFunc adapts profile registration for link.Composite. Profiles need
// bluetoothd and are only available on linux.
func (c *Client) ListenFunc(id uuid.UUID, channel uint8) link.ListenFunc {
	return func(ctx context.Context) (link.Listener, error) {
		return nil, errors.New("bluez profiles are only supported on linux")
	}
}
