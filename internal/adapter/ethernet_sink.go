package adapter

import (
	"nodecoord/internal/coordinator/applog"
	"nodecoord/internal/coordinator/model"
)

// EthernetSink implements demux.EthernetSink for switch mode: it
// writes the decrypted frame straight to the local Device. Switch
// mode does no header inspection of its own; per-peer demultiplexing
// already happened via the MAC/port table maintained elsewhere.
type EthernetSink struct {
	device Device
	logger applog.Logger
}

// NewEthernetSink wraps device as a demux.EthernetSink.
func NewEthernetSink(device Device, logger applog.Logger) *EthernetSink {
	return &EthernetSink{device: device, logger: logger}
}

// Deliver writes frame to the device. The buffer is not retained past
// the call, per demux's buffer-ownership rule.
func (s *EthernetSink) Deliver(sender model.PeerAddress, frame []byte) {
	if _, err := s.device.Write(frame); err != nil {
		s.logger.Printf("warn: writing frame from %s failed: %s", sender, err)
	}
}
