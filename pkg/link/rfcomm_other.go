// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package link

import (
	"context"
	"errors"
)

var errRFCOMMUnsupported = errors.New("rfcomm sockets are only supported on linux")

// Listen implements Transport.
func (t RFCOMM) Listen(ctx context.Context) (Listener, error) {
	return nil, errRFCOMMUnsupported
}

// Dial implements Transport.
func (t RFCOMM) Dial(ctx context.Context, remote string) (Conn, error) {
	return nil, errRFCOMMUnsupported
}
