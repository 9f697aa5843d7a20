package adapter

import (
	"fmt"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"nodecoord/internal/coordinator/applog"
	"nodecoord/internal/coordinator/model"
)

// IPSink implements demux.IPSink for router mode: it writes the
// decrypted packet to the local Device, after a minimal header
// inspection that drops packets with a malformed IPv4/IPv6 header and
// extracts the destination for the write-failure log (the decision of
// which peer to route toward already happened upstream).
type IPSink struct {
	device Device
	logger applog.Logger
}

// NewIPSink wraps device as a demux.IPSink.
func NewIPSink(device Device, logger applog.Logger) *IPSink {
	return &IPSink{device: device, logger: logger}
}

// Deliver writes packet to the device. The buffer is not retained
// past the call, per demux's buffer-ownership rule.
func (s *IPSink) Deliver(sender model.PeerAddress, packet []byte) {
	dst, err := destinationAddress(packet)
	if err != nil {
		s.logger.Printf("warn: dropping malformed IP packet from %s: %s", sender, err)
		return
	}
	if _, err := s.device.Write(packet); err != nil {
		s.logger.Printf("warn: writing packet from %s to %s failed: %s", sender, dst, err)
	}
}

// destinationAddress extracts the destination address from an IPv4 or
// IPv6 header. Header[0]'s high nibble selects the version.
func destinationAddress(header []byte) (netip.Addr, error) {
	if len(header) < 1 {
		return netip.Addr{}, fmt.Errorf("empty header")
	}
	switch header[0] >> 4 {
	case 4:
		if len(header) < ipv4.HeaderLen {
			return netip.Addr{}, fmt.Errorf("ipv4 header too small (%d bytes)", len(header))
		}
		ihl := int(header[0]&0x0F) * 4
		if ihl < ipv4.HeaderLen || len(header) < ihl {
			return netip.Addr{}, fmt.Errorf("ipv4 header malformed (ihl=%d, len=%d)", ihl, len(header))
		}
		return netip.AddrFrom4([4]byte{header[16], header[17], header[18], header[19]}), nil
	case 6:
		if len(header) < ipv6.HeaderLen {
			return netip.Addr{}, fmt.Errorf("ipv6 header too small (%d bytes)", len(header))
		}
		var a16 [16]byte
		copy(a16[:], header[24:40])
		return netip.AddrFrom16(a16), nil
	default:
		return netip.Addr{}, fmt.Errorf("unknown IP version %d", header[0]>>4)
	}
}
