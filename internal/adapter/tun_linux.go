//go:build linux

package adapter

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"
)

// A TUNSETIFF ioctl creates the interface, then the iproute2 CLI
// brings it up and assigns its address rather than reimplementing
// netlink by hand.
const (
	ifNamSiz  = 16
	tunSetIff = 0x400454ca
	iffTun    = 0x0001
	iffNoPI   = 0x1000
)

type ifReq struct {
	name  [ifNamSiz]byte
	flags uint16
	_     [22]byte
}

type linuxTun struct {
	file *os.File
	name string
}

// Open creates and configures a Linux TUN device. cfg.Name is used
// as-is (the kernel does not rename it, unlike macOS's utunN).
func Open(cfg Config) (Device, error) {
	f, err := os.OpenFile("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("adapter: open /dev/net/tun: %w", err)
	}

	var req ifReq
	copy(req.name[:], cfg.Name)
	req.flags = iffTun | iffNoPI

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(tunSetIff), uintptr(unsafe.Pointer(&req)))
	if errno != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("adapter: TUNSETIFF %s: %w", cfg.Name, errno)
	}

	if err := configureLinuxTun(cfg); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &linuxTun{file: f, name: cfg.Name}, nil
}

func configureLinuxTun(cfg Config) error {
	if out, err := exec.Command("ip", "link", "set", "dev", cfg.Name, "up").CombinedOutput(); err != nil {
		return fmt.Errorf("adapter: link up %s: %w (%s)", cfg.Name, err, out)
	}
	if cfg.MTU > 0 {
		if out, err := exec.Command("ip", "link", "set", "dev", cfg.Name, "mtu", strconv.Itoa(cfg.MTU)).CombinedOutput(); err != nil {
			return fmt.Errorf("adapter: set mtu %d on %s: %w (%s)", cfg.MTU, cfg.Name, err, out)
		}
	}
	if cfg.CIDR != "" {
		if out, err := exec.Command("ip", "addr", "add", cfg.CIDR, "dev", cfg.Name).CombinedOutput(); err != nil {
			return fmt.Errorf("adapter: assign %s to %s: %w (%s)", cfg.CIDR, cfg.Name, err, out)
		}
	}
	return nil
}

func (t *linuxTun) Read(b []byte) (int, error)  { return t.file.Read(b) }
func (t *linuxTun) Write(b []byte) (int, error) { return t.file.Write(b) }
func (t *linuxTun) Close() error                { return t.file.Close() }
func (t *linuxTun) Name() string                { return t.name }
