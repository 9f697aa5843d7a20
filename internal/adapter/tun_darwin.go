//go:build darwin

package adapter

import (
	"fmt"
	"os/exec"
	"strconv"

	"golang.zx2c4.com/wireguard/tun"
)

// golang.zx2c4.com/wireguard/tun opens a utun device (the kernel
// assigns the final name), then iproute2's BSD analogue, ifconfig,
// assigns its address and MTU and brings it up.
type darwinTun struct {
	dev  tun.Device
	name string
}

// Open creates a utun device. cfg.Name is advisory on macOS; the
// kernel picks the final utunN name, reported back in the returned
// Device's Name().
func Open(cfg Config) (Device, error) {
	dev, err := tun.CreateTUN(cfg.Name, cfg.MTU)
	if err != nil {
		return nil, fmt.Errorf("adapter: create utun: %w", err)
	}
	name, err := dev.Name()
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("adapter: resolve utun name: %w", err)
	}
	if err := configureDarwinTun(name, cfg); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return &darwinTun{dev: dev, name: name}, nil
}

func configureDarwinTun(name string, cfg Config) error {
	if cfg.CIDR != "" {
		if out, err := exec.Command("ifconfig", name, "inet", cfg.CIDR, cfg.CIDR).CombinedOutput(); err != nil {
			return fmt.Errorf("adapter: assign %s to %s: %w (%s)", cfg.CIDR, name, err, out)
		}
	}
	if cfg.MTU > 0 {
		if out, err := exec.Command("ifconfig", name, "mtu", strconv.Itoa(cfg.MTU)).CombinedOutput(); err != nil {
			return fmt.Errorf("adapter: set mtu %d on %s: %w (%s)", cfg.MTU, name, err, out)
		}
	}
	if out, err := exec.Command("ifconfig", name, "up").CombinedOutput(); err != nil {
		return fmt.Errorf("adapter: link up %s: %w (%s)", name, err, out)
	}
	return nil
}

func (t *darwinTun) Read(b []byte) (int, error) {
	bufs := [][]byte{b}
	sizes := make([]int, 1)
	n, err := t.dev.Read(bufs, sizes, 0)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return sizes[0], nil
}

func (t *darwinTun) Write(b []byte) (int, error) {
	_, err := t.dev.Write([][]byte{b}, 0)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (t *darwinTun) Close() error { return t.dev.Close() }
func (t *darwinTun) Name() string { return t.name }
