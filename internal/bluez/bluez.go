// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bluez talks to bluetoothd over the system D-Bus: adapter power,
// paired devices and their names, and RFCOMM profile registration.
package bluez

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName         = "org.bluez"
	rootPath        = "/org/bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	profileMgrIface = "org.bluez.ProfileManager1"
	profileIface    = "org.bluez.Profile1"
	propsIface      = "org.freedesktop.DBus.Properties"
	objMgrIface     = "org.freedesktop.DBus.ObjectManager"
)

// ErrNotRunning is returned when bluetoothd is not on the system bus.
var ErrNotRunning = errors.New("org.bluez not found on system bus, is bluetooth.service running?")

// Device is a remote device known to the adapter.
type Device struct {
	Address   string
	Name      string
	Paired    bool
	Connected bool
	Path      dbus.ObjectPath
}

// Client wraps a system bus connection for one adapter.
type Client struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
}

// AdapterPath returns the object path of an adapter name such as "hci0".
func AdapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath(rootPath + "/" + adapter)
}

// DevicePath converts "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func DevicePath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(adapter) + "/dev_" + escaped)
}

// AddressFromPath extracts the address from a device object path.
func AddressFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(s[i+len("/dev_"):], "_", ":")
}

// Open connects to the system bus and checks bluetoothd is present.
func Open(adapter string) (*Client, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, ErrNotRunning
	}
	if adapter == "" {
		adapter = "hci0"
	}
	return &Client{conn: conn, adapter: AdapterPath(adapter)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	obj := c.conn.Object(busName, path)
	var v dbus.Variant
	err := obj.Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (c *Client) setProp(path dbus.ObjectPath, iface, prop string, val interface{}) error {
	obj := c.conn.Object(busName, path)
	return obj.Call(propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

// Powered reports whether the adapter is on.
func (c *Client) Powered() (bool, error) {
	v, err := c.getProp(c.adapter, adapterIface, "Powered")
	if err != nil {
		return false, err
	}
	on, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property Powered is not bool")
	}
	return on, nil
}

// SetPowered switches the adapter on or off.
func (c *Client) SetPowered(on bool) error {
	return c.setProp(c.adapter, adapterIface, "Powered", on)
}

// Alias returns the display name of addr, or addr itself if BlueZ does not
// know the device.
func (c *Client) Alias(addr string) string {
	v, err := c.getProp(DevicePath(c.adapter, addr), deviceIface, "Alias")
	if err != nil {
		return addr
	}
	if name, ok := v.Value().(string); ok && name != "" {
		return name
	}
	return addr
}

// Devices lists the devices under the adapter, paired first then by name.
func (c *Client) Devices() ([]Device, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := c.conn.Object(busName, "/").Call(objMgrIface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}
	return devicesFromObjects(c.adapter, objects), nil
}

func devicesFromObjects(adapter dbus.ObjectPath, objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant) []Device {
	var devices []Device
	prefix := string(adapter) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		d := Device{Path: path, Address: AddressFromPath(path)}
		if v, ok := props["Address"].Value().(string); ok {
			d.Address = v
		}
		if v, ok := props["Alias"].Value().(string); ok {
			d.Name = v
		}
		d.Paired, _ = props["Paired"].Value().(bool)
		d.Connected, _ = props["Connected"].Value().(bool)
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Paired != devices[j].Paired {
			return devices[i].Paired
		}
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].Address < devices[j].Address
	})
	return devices
}

// ProfileOptions returns the RegisterProfile options of a server profile
// on channel.
func ProfileOptions(name string, channel uint8) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Name":                  dbus.MakeVariant(name),
		"Role":                  dbus.MakeVariant("server"),
		"Channel":               dbus.MakeVariant(uint16(channel)),
		"RequireAuthentication": dbus.MakeVariant(false),
		"RequireAuthorization":  dbus.MakeVariant(false),
	}
}
