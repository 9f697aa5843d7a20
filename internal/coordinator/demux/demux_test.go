package demux

import (
	"net/netip"
	"testing"

	"nodecoord/internal/coordinator/applog"
	"nodecoord/internal/coordinator/ctrlmsg"
	"nodecoord/internal/coordinator/model"
)

type recordingSink struct {
	delivered [][]byte
}

func (s *recordingSink) Deliver(sender model.PeerAddress, buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	s.delivered = append(s.delivered, cp)
}

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...any) {
	l.lines = append(l.lines, format)
}

var _ applog.Logger = (*recordingLogger)(nil)

func addr() model.PeerAddress {
	return model.NewPeerAddress(netip.MustParseAddrPort("203.0.113.7:12000"))
}

func TestDispatch_SwitchModeDeliversToEthernet(t *testing.T) {
	eth := &recordingSink{}
	d := New(model.ModeSwitch, eth, nil, nil, &recordingLogger{})
	d.Dispatch(addr(), 0, []byte("frame"))
	if len(eth.delivered) != 1 || string(eth.delivered[0]) != "frame" {
		t.Fatalf("expected frame delivered to ethernet sink, got %v", eth.delivered)
	}
}

func TestDispatch_RouterModeDeliversToIP(t *testing.T) {
	ip := &recordingSink{}
	d := New(model.ModeRouter, nil, ip, nil, &recordingLogger{})
	d.Dispatch(addr(), 0, []byte("packet"))
	if len(ip.delivered) != 1 || string(ip.delivered[0]) != "packet" {
		t.Fatalf("expected packet delivered to ip sink, got %v", ip.delivered)
	}
}

func TestDispatch_ControlMessageDecoded(t *testing.T) {
	var gotSender model.PeerAddress
	var gotMsg ctrlmsg.Message
	handler := func(sender model.PeerAddress, msg ctrlmsg.Message) {
		gotSender = sender
		gotMsg = msg
	}
	d := New(model.ModeSwitch, nil, nil, handler, &recordingLogger{})
	wire := ctrlmsg.Encode(ctrlmsg.Message{Type: 3, Value: []byte("ping")})
	d.Dispatch(addr(), 1, wire)
	if gotSender != addr() || gotMsg.Type != 3 || string(gotMsg.Value) != "ping" {
		t.Fatalf("unexpected decoded message: %+v from %v", gotMsg, gotSender)
	}
}

func TestDispatch_MalformedControlMessageDropped(t *testing.T) {
	called := false
	handler := func(sender model.PeerAddress, msg ctrlmsg.Message) { called = true }
	logger := &recordingLogger{}
	d := New(model.ModeSwitch, nil, nil, handler, logger)
	d.Dispatch(addr(), 1, []byte{1})
	if called {
		t.Fatal("handler must not run for a malformed control message")
	}
	if len(logger.lines) == 0 {
		t.Fatal("expected a warning to be logged for the malformed message")
	}
}

func TestDispatch_UnknownChannelDropped(t *testing.T) {
	logger := &recordingLogger{}
	d := New(model.ModeSwitch, nil, nil, nil, logger)
	d.Dispatch(addr(), 5, []byte("x"))
	if len(logger.lines) == 0 {
		t.Fatal("expected a warning to be logged for an unknown channel")
	}
}
