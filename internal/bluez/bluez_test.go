// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestPaths(t *testing.T) {
	adapter := AdapterPath("hci0")
	if adapter != "/org/bluez/hci0" {
		t.Errorf("adapter path = %s", adapter)
	}
	path := DevicePath(adapter, "aa:bb:cc:dd:ee:ff")
	if path != "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF" {
		t.Errorf("device path = %s", path)
	}
	if addr := AddressFromPath(path); addr != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("address = %s", addr)
	}
	if addr := AddressFromPath("/org/bluez/hci0"); addr != "" {
		t.Errorf("address of adapter path = %q", addr)
	}
}

func device(addr, alias string, paired, connected bool) map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		deviceIface: {
			"Address":   dbus.MakeVariant(addr),
			"Alias":     dbus.MakeVariant(alias),
			"Paired":    dbus.MakeVariant(paired),
			"Connected": dbus.MakeVariant(connected),
		},
	}
}

func TestDevicesFromObjects(t *testing.T) {
	adapter := AdapterPath("hci0")
	objects := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/org/bluez/hci0": {adapterIface: {"Powered": dbus.MakeVariant(true)}},
		"/org/bluez/hci0/dev_00_00_00_00_00_03": device("00:00:00:00:00:03", "Pixel", false, false),
		"/org/bluez/hci0/dev_00_00_00_00_00_02": device("00:00:00:00:00:02", "Phone", true, true),
		"/org/bluez/hci0/dev_00_00_00_00_00_01": device("00:00:00:00:00:01", "Laptop", true, false),
		"/org/bluez/hci1/dev_00_00_00_00_00_04": device("00:00:00:00:00:04", "Other adapter", true, false),
	}

	got := devicesFromObjects(adapter, objects)
	want := []string{"Laptop", "Phone", "Pixel"}
	if len(got) != len(want) {
		t.Fatalf("got %d devices, want %d: %+v", len(got), len(want), got)
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("device %d = %s, want %s", i, got[i].Name, name)
		}
	}
	if !got[1].Connected || got[2].Paired {
		t.Errorf("flags wrong: %+v", got)
	}
}

func TestProfileOptions(t *testing.T) {
	opts := ProfileOptions("overwave", 3)
	if ch, _ := opts["Channel"].Value().(uint16); ch != 3 {
		t.Errorf("channel = %v", opts["Channel"])
	}
	if role, _ := opts["Role"].Value().(string); role != "server" {
		t.Errorf("role = %v", opts["Role"])
	}
}
