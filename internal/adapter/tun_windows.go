//go:build windows

package adapter

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
	"golang.zx2c4.com/wintun"
)

// wintun.dll (expected on PATH, e.g. C:\Windows\System32) creates the
// adapter and session; netsh assigns the address.
type windowsTun struct {
	adapter wintun.Adapter
	session *wintun.Session
	name    string
}

func Open(cfg Config) (Device, error) {
	wgAdapter, err := wintun.CreateAdapter(cfg.Name, "WireGuard", nil)
	if err != nil {
		return nil, fmt.Errorf("adapter: create wintun adapter: %w", err)
	}
	session, err := wgAdapter.StartSession(0x800000)
	if err != nil {
		_ = wgAdapter.Close()
		return nil, fmt.Errorf("adapter: start wintun session: %w", err)
	}

	dev := &windowsTun{adapter: *wgAdapter, session: &session, name: cfg.Name}

	if cfg.CIDR != "" {
		if err := configureWindowsTun(cfg.Name, cfg.CIDR); err != nil {
			_ = dev.Close()
			return nil, err
		}
	}
	return dev, nil
}

func configureWindowsTun(name, cidr string) error {
	parts := strings.Split(cidr, "/")
	if len(parts) != 2 {
		return fmt.Errorf("adapter: invalid CIDR %q", cidr)
	}
	prefix, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("adapter: invalid CIDR prefix %q: %w", cidr, err)
	}
	mask := net.CIDRMask(prefix, 32)
	maskStr := fmt.Sprintf("%d.%d.%d.%d", mask[0], mask[1], mask[2], mask[3])

	cmd := exec.Command("netsh", "interface", "ip", "set", "address", "name="+name, "static", parts[0], maskStr)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("adapter: netsh set address: %w (%s)", err, out)
	}
	return nil
}

func (d *windowsTun) Read(data []byte) (int, error) {
	for {
		packet, err := d.session.ReceivePacket()
		if err == nil {
			n := copy(data, packet)
			d.session.ReleaseReceivePacket(packet)
			return n, nil
		}
		if errors.Is(err, windows.ERROR_NO_MORE_ITEMS) {
			handle := d.session.ReadWaitEvent()
			_, _ = windows.WaitForSingleObject(handle, windows.INFINITE)
			continue
		}
		return 0, err
	}
}

func (d *windowsTun) Write(data []byte) (int, error) {
	packet, err := d.session.AllocateSendPacket(len(data))
	if err != nil {
		return 0, err
	}
	copy(packet, data)
	d.session.SendPacket(packet)
	return len(data), nil
}

func (d *windowsTun) Close() error {
	d.session.End()
	return d.adapter.Close()
}

func (d *windowsTun) Name() string { return d.name }
