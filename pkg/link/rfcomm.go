// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ServiceUUID identifies the overwave control service in SDP records. Both
// peers must agree on it.
var ServiceUUID = uuid.MustParse("7628e084-5a2e-4907-8cb3-07d6d1561f96")

// DefaultChannel is the RFCOMM channel used when none is configured.
const DefaultChannel = 3

// RFCOMM runs the link over a Bluetooth RFCOMM socket.
type RFCOMM struct {
	// Channel to listen on, and to dial when the remote has no "/channel" suffix.
	Channel uint8
}

func (t RFCOMM) channel() uint8 {
	if t.Channel == 0 {
		return DefaultChannel
	}
	return t.Channel
}

// ParseBDAddr parses "AA:BB:CC:DD:EE:FF" into the little-endian byte order
// used by the kernel socket address.
func ParseBDAddr(s string) ([6]byte, error) {
	var addr [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("invalid bluetooth address %q", s)
	}
	for i, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil || len(p) != 2 {
			return addr, fmt.Errorf("invalid bluetooth address %q", s)
		}
		addr[5-i] = byte(b)
	}
	return addr, nil
}

// FormatBDAddr is the inverse of ParseBDAddr.
func FormatBDAddr(addr [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		addr[5], addr[4], addr[3], addr[2], addr[1], addr[0])
}

// splitRemote splits "AA:BB:CC:DD:EE:FF/5" into address and channel.
func (t RFCOMM) splitRemote(remote string) ([6]byte, uint8, error) {
	ch := t.channel()
	if i := strings.IndexByte(remote, '/'); i >= 0 {
		n, err := strconv.ParseUint(remote[i+1:], 10, 8)
		if err != nil || n < 1 || n > 30 {
			return [6]byte{}, 0, fmt.Errorf("invalid rfcomm channel in %q", remote)
		}
		ch = uint8(n)
		remote = remote[:i]
	}
	addr, err := ParseBDAddr(remote)
	return addr, ch, err
}
