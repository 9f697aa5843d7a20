package coordinator

import (
	"context"
	"crypto/x509"
	"net/netip"
	"sync"
	"testing"
	"time"

	"nodecoord/internal/coordinator/engine"
	"nodecoord/internal/coordinator/fabric"
	"nodecoord/internal/coordinator/model"
)

func addr(s string) model.PeerAddress {
	return model.NewPeerAddress(netip.MustParseAddrPort(s))
}

// fakeEngine is a minimal, synchronous stand-in for the secure channel
// engine: enough surface for Core.Open/Close and the async sends the
// coordinator issues, with every call recorded for assertions.
type fakeEngine struct {
	mu sync.Mutex

	cb engine.Callbacks

	introduced []model.PeerAddress
	greeted    []model.PeerAddress
	requested  []model.PeerAddress

	greetErr map[model.PeerAddress]error
	closed   bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{greetErr: make(map[model.PeerAddress]error)}
}

func (e *fakeEngine) Open(_ context.Context, _ model.PeerAddress) error { return nil }
func (e *fakeEngine) Close() error                                     { e.closed = true; return nil }
func (e *fakeEngine) SetCipherCapabilities([]engine.CipherAlgorithm)   {}
func (e *fakeEngine) RegisterCallbacks(cb engine.Callbacks)            { e.cb = cb }

func (e *fakeEngine) AsyncGreet(a model.PeerAddress, cb func(time.Duration, error)) {
	e.mu.Lock()
	e.greeted = append(e.greeted, a)
	err := e.greetErr[a]
	e.mu.Unlock()
	cb(5*time.Millisecond, err)
}

func (e *fakeEngine) AsyncIntroduceTo(a model.PeerAddress, cb func(error)) {
	e.mu.Lock()
	e.introduced = append(e.introduced, a)
	e.mu.Unlock()
	cb(nil)
}

func (e *fakeEngine) AsyncRequestSession(a model.PeerAddress, cb func(error)) {
	e.mu.Lock()
	e.requested = append(e.requested, a)
	e.mu.Unlock()
	cb(nil)
}

func (e *fakeEngine) AsyncSendContactRequestToAll(_ []model.CertificateFingerprint, cb func(map[model.PeerAddress]error)) {
	cb(nil)
}

func (e *fakeEngine) AsyncSendData(_ model.PeerAddress, _ uint8, _ []byte, cb func(error)) {
	cb(nil)
}

func (e *fakeEngine) introducedTo(a model.PeerAddress) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, x := range e.introduced {
		if x == a {
			return true
		}
	}
	return false
}

func (e *fakeEngine) requestedSessionWith(a model.PeerAddress) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, x := range e.requested {
		if x == a {
			return true
		}
	}
	return false
}

type fakeFabric struct {
	mu         sync.Mutex
	registered map[model.PeerAddress]fabric.Port
}

func newFakeFabric() *fakeFabric {
	return &fakeFabric{registered: make(map[model.PeerAddress]fabric.Port)}
}

func (f *fakeFabric) RegisterPort(p fabric.Port, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[p.Peer()] = p
	return nil
}

func (f *fakeFabric) UnregisterPort(p fabric.Port) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, p.Peer())
	return nil
}

func (f *fakeFabric) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered)
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, format)
}

func (l *recordingLogger) count(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if contains(line, substr) {
			n++
		}
	}
	return n
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func testIdentity() model.Identity {
	return model.Identity{Certificate: &x509.Certificate{Raw: []byte("self")}}
}

func baseConfig() model.Configuration {
	return model.Configuration{
		ListenOn:    model.LiteralEndpoint{Address: addr("127.0.0.1:12000")},
		Identity:    testIdentity(),
		TrustPolicy: model.TrustNone,
		AdapterMode: model.ModeSwitch,
	}
}

func openCore(t *testing.T, cfg model.Configuration, eng *fakeEngine, fab *fakeFabric, logger *recordingLogger) *Core {
	t.Helper()
	c := New(cfg, eng, fab, nil, nil, nil, logger)
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
	return c
}

func TestOpen_FailsWithoutIdentity(t *testing.T) {
	cfg := baseConfig()
	cfg.Identity = model.Identity{}
	c := New(cfg, newFakeEngine(), newFakeFabric(), nil, nil, nil, &recordingLogger{})
	if err := c.Open(context.Background()); err == nil {
		t.Fatal("expected Open to fail without an identity")
	}
}

func TestOpen_TwiceReturnsAlreadyOpen(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	c := openCore(t, baseConfig(), eng, fab, logger)
	if err := c.Open(context.Background()); err == nil {
		t.Fatal("expected second Open to fail")
	}
}

// A banned peer's hello is denied, no introduce-to is issued.
func TestHelloReceived_BannedPeerIsDenied(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	cfg := baseConfig()
	cfg.NeverContactList = []netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")}
	c := openCore(t, cfg, eng, fab, logger)

	banned := addr("203.0.113.9:12000")
	if accept := c.onHelloReceived(banned, true); accept {
		t.Fatal("expected hello from banned peer to be denied")
	}
	if eng.introducedTo(banned) {
		t.Fatal("expected no introduce-to for a banned peer")
	}
	if logger.count("warn") == 0 {
		t.Fatal("expected a warning to be logged")
	}
}

func TestHelloReceived_AcceptedSchedulesIntroduce(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	c := openCore(t, baseConfig(), eng, fab, logger)

	who := addr("198.51.100.1:12000")
	if accept := c.onHelloReceived(who, true); !accept {
		t.Fatal("expected hello to be accepted")
	}
	if !eng.introducedTo(who) {
		t.Fatal("expected introduce-to to be scheduled")
	}
}

// A relayed contact to a non-banned address is scheduled.
func TestContactReceived_RelaysToNonBannedAddress(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	cfg := baseConfig()
	cfg.AcceptContacts = true
	c := openCore(t, cfg, eng, fab, logger)

	answer := addr("198.51.100.5:12000")
	c.onContactReceived(addr("10.0.0.1:12000"), model.CertificateFingerprint{}, answer)

	if !eng.introducedTo(answer) {
		t.Fatal("expected relayed contact to be greeted and introduced")
	}
}

// A relayed contact to a banned address is discarded.
func TestContactReceived_BannedAddressIsDiscarded(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	cfg := baseConfig()
	cfg.AcceptContacts = true
	cfg.NeverContactList = []netip.Prefix{netip.MustParsePrefix("198.51.100.0/24")}
	c := openCore(t, cfg, eng, fab, logger)

	answer := addr("198.51.100.5:12000")
	c.onContactReceived(addr("10.0.0.1:12000"), model.CertificateFingerprint{}, answer)

	if eng.introducedTo(answer) {
		t.Fatal("expected banned relayed contact not to be greeted")
	}
	if logger.count("warn") == 0 {
		t.Fatal("expected a warning to be logged")
	}
}

func TestContactReceived_IgnoredWhenNotAccepted(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	c := openCore(t, baseConfig(), eng, fab, logger) // AcceptContacts defaults false

	answer := addr("198.51.100.5:12000")
	c.onContactReceived(addr("10.0.0.1:12000"), model.CertificateFingerprint{}, answer)

	if eng.introducedTo(answer) {
		t.Fatal("expected contact to be ignored when AcceptContacts is false")
	}
}

func TestPresentationReceived_ValidCertSchedulesSession(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	c := openCore(t, baseConfig(), eng, fab, logger)

	who := addr("198.51.100.9:12000")
	identity := model.PeerIdentity{Signature: &x509.Certificate{Raw: []byte("sig")}, Cipherment: &x509.Certificate{Raw: []byte("enc")}}
	if accept := c.onPresentationReceived(who, identity, true); !accept {
		t.Fatal("expected presentation to be accepted")
	}
	if !eng.requestedSessionWith(who) {
		t.Fatal("expected a request-session to be scheduled")
	}
}

// A failing default-policy chain verification denies presentation
// independent of any predicate, and emits no request-session.
func TestPresentationReceived_InvalidCertDenied(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	cfg := baseConfig()
	cfg.TrustPolicy = model.TrustDefault // no CAs configured: chain verify always fails
	c := openCore(t, cfg, eng, fab, logger)

	who := addr("198.51.100.9:12000")
	identity := model.PeerIdentity{Signature: &x509.Certificate{Raw: []byte("sig")}, Cipherment: &x509.Certificate{Raw: []byte("enc")}}
	if accept := c.onPresentationReceived(who, identity, true); accept {
		t.Fatal("expected presentation with an unverifiable cert to be denied")
	}
	if eng.requestedSessionWith(who) {
		t.Fatal("expected no request-session for a denied presentation")
	}
	if logger.count("warn") == 0 {
		t.Fatal("expected a warning to be logged")
	}
}

func TestPresentationReceived_BannedPeerDenied(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	cfg := baseConfig()
	cfg.NeverContactList = []netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")}
	c := openCore(t, cfg, eng, fab, logger)

	who := addr("203.0.113.9:12000")
	identity := model.PeerIdentity{Signature: &x509.Certificate{}, Cipherment: &x509.Certificate{}}
	if accept := c.onPresentationReceived(who, identity, true); accept {
		t.Fatal("expected banned peer's presentation to be denied")
	}
}

// A new session registers exactly one port; session-lost unregisters
// it exactly once, and a repeated session-lost is a no-op.
func TestSessionLifecycle_PortRegistrationFollowsIsNewEdge(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	c := openCore(t, baseConfig(), eng, fab, logger)

	host := addr("198.51.100.20:12000")
	info := engine.AlgorithmInfo{Cipher: "chacha20poly1305"}

	c.onSessionEstablished(host, true, info, info)
	if fab.count() != 1 {
		t.Fatalf("expected 1 registered port, got %d", fab.count())
	}

	// a renewal must not register a second port
	c.onSessionEstablished(host, false, info, info)
	if fab.count() != 1 {
		t.Fatalf("expected renewal not to change port count, got %d", fab.count())
	}

	c.onSessionLost(host)
	if fab.count() != 0 {
		t.Fatalf("expected port to be deregistered, got %d remaining", fab.count())
	}

	// a second session-lost for the same peer is a documented no-op.
	c.onSessionLost(host)
	if fab.count() != 0 {
		t.Fatalf("expected repeated session-lost to stay a no-op, got %d", fab.count())
	}
}

func TestSessionFailed_InvokesUserCallbackAndLogsWarning(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	cfg := baseConfig()
	var notified model.PeerAddress
	cfg.OnSessionFailed = func(a model.PeerAddress) { notified = a }
	c := openCore(t, cfg, eng, fab, logger)

	host := addr("198.51.100.30:12000")
	c.onSessionFailed(host, true, engine.AlgorithmInfo{}, engine.AlgorithmInfo{})

	if notified != host {
		t.Fatal("expected the user callback to be invoked with the failed peer")
	}
	if logger.count("warn") == 0 {
		t.Fatal("expected a warning to be logged")
	}
}

func TestDataReceived_DispatchesThroughDemux(t *testing.T) {
	eng, fab, logger := newFakeEngine(), newFakeFabric(), &recordingLogger{}
	var delivered []byte
	cfg := baseConfig()
	c := New(cfg, eng, fab, sinkFunc(func(_ model.PeerAddress, frame []byte) { delivered = frame }), nil, nil, logger)
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	c.onDataReceived(addr("10.0.0.2:12000"), 0, []byte("frame"))
	if string(delivered) != "frame" {
		t.Fatalf("expected frame to reach the Ethernet sink, got %q", delivered)
	}
}

type sinkFunc func(model.PeerAddress, []byte)

func (f sinkFunc) Deliver(sender model.PeerAddress, buf []byte) { f(sender, buf) }
