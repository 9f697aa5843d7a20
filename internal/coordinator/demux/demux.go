// Package demux implements the data demultiplexer: channel 0 goes to
// the Ethernet or IP sink depending on adapter mode, channel 1 is
// parsed as a control message, anything else is dropped with a
// warning.
package demux

import (
	"nodecoord/internal/coordinator/applog"
	"nodecoord/internal/coordinator/ctrlmsg"
	"nodecoord/internal/coordinator/model"
)

// EthernetSink receives channel-0 frames in L2/ModeSwitch mode.
// The buffer passed to Deliver is only valid for the duration of the
// call unless the sink copies it out (buffer-ownership rule).
type EthernetSink interface {
	Deliver(sender model.PeerAddress, frame []byte)
}

// IPSink receives channel-0 frames in L3/ModeRouter mode, under the
// same buffer-ownership rule as EthernetSink.
type IPSink interface {
	Deliver(sender model.PeerAddress, packet []byte)
}

// ControlMessageHandler is the embedder-supplied hook invoked after a
// channel-1 payload successfully decodes, analogous to an on_message
// callback.
type ControlMessageHandler func(sender model.PeerAddress, msg ctrlmsg.Message)

// Demultiplexer routes data-received payloads by channel number.
type Demultiplexer struct {
	mode           model.AdapterMode
	ethernet       EthernetSink
	ip             IPSink
	controlHandler ControlMessageHandler
	logger         applog.Logger
}

// New builds a Demultiplexer. ethernet and ip may be nil if the node
// is not configured for the corresponding adapter mode; controlHandler
// may be nil if the embedder does not care about control messages.
func New(mode model.AdapterMode, ethernet EthernetSink, ip IPSink, controlHandler ControlMessageHandler, logger applog.Logger) *Demultiplexer {
	return &Demultiplexer{mode: mode, ethernet: ethernet, ip: ip, controlHandler: controlHandler, logger: logger}
}

// Dispatch routes one data-received callback's payload.
func (d *Demultiplexer) Dispatch(sender model.PeerAddress, channel uint8, buf []byte) {
	switch channel {
	case 0:
		d.dispatchFrame(sender, buf)
	case 1:
		d.dispatchControl(sender, buf)
	default:
		d.logger.Printf("warn: received unhandled %d byte(s) of data on channel #%d from %s", len(buf), channel, sender)
	}
}

func (d *Demultiplexer) dispatchFrame(sender model.PeerAddress, buf []byte) {
	switch d.mode {
	case model.ModeSwitch:
		if d.ethernet != nil {
			d.ethernet.Deliver(sender, buf)
		}
	case model.ModeRouter:
		if d.ip != nil {
			d.ip.Deliver(sender, buf)
		}
	}
}

func (d *Demultiplexer) dispatchControl(sender model.PeerAddress, buf []byte) {
	msg, err := ctrlmsg.Decode(buf)
	if err != nil {
		d.logger.Printf("warn: received incorrectly formatted control message from %s: %s", sender, err)
		return
	}
	if d.controlHandler != nil {
		d.controlHandler(sender, msg)
	}
}
