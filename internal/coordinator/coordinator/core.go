// Package coordinator implements the session lifecycle handler: the
// orchestrator type, Core, that composes the resolver, scheduler,
// trust evaluator, admission filter, port registry and data
// demultiplexer into the engine's callback surface, a Go
// re-architecture of "member-function pointers with explicit this" as
// a capability-provider value.
package coordinator

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"nodecoord/internal/coordinator/admission"
	"nodecoord/internal/coordinator/applog"
	"nodecoord/internal/coordinator/demux"
	"nodecoord/internal/coordinator/engine"
	"nodecoord/internal/coordinator/model"
	"nodecoord/internal/coordinator/portreg"
	"nodecoord/internal/coordinator/resolver"
	"nodecoord/internal/coordinator/scheduler"
	"nodecoord/internal/coordinator/trust"
)

// lifecycleState is a Core's Closed/Open pair.
type lifecycleState int

const (
	stateClosed lifecycleState = iota
	stateOpen
)

// Core is the node coordinator. One Core holds exactly one Engine for
// its entire Open lifetime.
type Core struct {
	cfg    model.Configuration
	engine engine.Engine
	fabric portreg.Fabric
	logger applog.Logger

	resolver *resolver.Resolver
	admitter *admission.Filter
	trust    *trust.Evaluator
	ports    *portreg.Registry
	demux    *demux.Demultiplexer
	sched    *scheduler.Scheduler
	verify   *verifyPool

	stateMu    sync.Mutex
	state      lifecycleState
	schedCtx   context.Context
	schedStop  context.CancelFunc

	peersMu sync.Mutex
	peers   map[model.PeerAddress]*peerActor
}

// New builds a Core in the Closed state. fab is whichever of
// fabric.Switch or fabric.Router the configured AdapterMode selects;
// ethSink/ipSink/ctrlHandler are the demultiplexer's downstream
// consumers, any of which may be nil.
func New(cfg model.Configuration, eng engine.Engine, fab portreg.Fabric, ethSink demux.EthernetSink, ipSink demux.IPSink, ctrlHandler demux.ControlMessageHandler, logger applog.Logger) *Core {
	if logger == nil {
		logger = applog.Discard{}
	}
	c := &Core{
		cfg:    cfg,
		engine: eng,
		fabric: fab,
		logger: logger,
		peers:  make(map[model.PeerAddress]*peerActor),
	}
	c.demux = demux.New(cfg.AdapterMode, ethSink, ipSink, ctrlHandler, logger)
	return c
}

// Open resolves the listen address, wires every component, registers
// the engine callbacks and arms the contact scheduler: a Core's
// Closed→Open transition. It fails, leaving the core Closed, if no
// identity is configured.
func (c *Core) Open(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != stateClosed {
		return model.NewAlreadyOpen()
	}
	if c.cfg.Identity.Certificate == nil {
		return model.NewNoIdentityConfigured()
	}

	c.resolver = resolver.New(c.cfg.ResolutionProtocol)
	c.admitter = admission.New(c.cfg.NeverContactList)
	c.trust = trust.New(c.cfg, c, c.logger)
	c.ports = portreg.New(c.fabric, c.engine, c.logger)
	c.verify = newVerifyPool(defaultVerifyWorkers)

	listenAddr, err := c.resolver.Resolve(ctx, c.cfg.ListenOn, resolver.FlagPassive)
	if err != nil {
		return fmt.Errorf("coordinator: resolve listen address: %w", err)
	}

	c.engine.SetCipherCapabilities(capabilitiesOf(c.cfg.CipherCapabilities))
	c.engine.RegisterCallbacks(engine.Callbacks{
		HelloReceived:          c.onHelloReceived,
		ContactRequestReceived: c.onContactRequestReceived,
		ContactReceived:        c.onContactReceived,
		PresentationReceived:   c.onPresentationReceived,
		SessionRequestReceived: c.onSessionRequestReceived,
		SessionReceived:        c.onSessionReceived,
		SessionFailed:          c.onSessionFailed,
		SessionEstablished:     c.onSessionEstablished,
		SessionLost:            c.onSessionLost,
		DataReceived:           c.onDataReceived,
	})
	if err := c.engine.Open(ctx, listenAddr); err != nil {
		return fmt.Errorf("coordinator: open engine on %s: %w", listenAddr, err)
	}

	c.schedCtx, c.schedStop = context.WithCancel(ctx)
	c.sched = scheduler.New(c.resolver, c.engine, c.cfg.StaticContactList, fingerprintsOf(c.cfg.DynamicContactList), c.cfg.HelloTimeout, c.logger)
	c.sched.Run(c.schedCtx)

	c.logStartupSummary()

	c.state = stateOpen
	return nil
}

// Close cancels the contact scheduler, waits for both its loops to
// exit, and closes the engine. By the time Close returns, no handler
// will run again.
func (c *Core) Close() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != stateOpen {
		return model.NewNotOpen()
	}
	c.schedStop()
	c.sched.Wait()
	err := c.engine.Close()
	c.state = stateClosed
	return err
}

func (c *Core) logStartupSummary() {
	if c.cfg.ServerMode {
		c.logger.Printf("info: server mode enabled, managed subnet %s", c.cfg.ServerConfig.ManagedSubnet)
	}
	for _, rule := range c.cfg.NeverContactList {
		c.logger.Printf("info: configured not to accept requests from: %s", rule)
	}
	c.logger.Printf("info: loaded %d trusted CA(s), %d CRL(s)", len(c.cfg.TrustedCAs), len(c.cfg.CRLs))
}

func capabilitiesOf(names []string) []engine.CipherAlgorithm {
	caps := make([]engine.CipherAlgorithm, len(names))
	for i, n := range names {
		caps[i] = engine.CipherAlgorithm(n)
	}
	return caps
}

func fingerprintsOf(certs []*x509.Certificate) []model.CertificateFingerprint {
	fps := make([]model.CertificateFingerprint, len(certs))
	for i, cert := range certs {
		fps[i] = model.FingerprintOf(cert)
	}
	return fps
}

func (c *Core) getOrCreatePeer(addr model.PeerAddress) *peerActor {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	p, ok := c.peers[addr]
	if !ok {
		p = newPeerActor(addr)
		c.peers[addr] = p
	}
	return p
}

func (c *Core) removePeer(addr model.PeerAddress) {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()
	delete(c.peers, addr)
}

// contact mirrors the static contact loop's greet-then-introduce
// sequence, reused here for the "schedule contact(answer)" action of
// the contact-received event.
func (c *Core) contact(addr model.PeerAddress) {
	c.engine.AsyncGreet(addr, func(_ time.Duration, err error) {
		if err != nil {
			var timedOut engine.ErrHelloTimedOut
			if errors.As(err, &timedOut) {
				c.logger.Printf("debug: hello to %s timed out (configured timeout %s): %s", addr, c.cfg.HelloTimeout, err)
			} else {
				c.logger.Printf("debug: hello to %s failed: %s", addr, err)
			}
			return
		}
		c.engine.AsyncIntroduceTo(addr, func(err error) {
			if err != nil {
				c.logger.Printf("debug: introduce-to %s failed: %s", addr, err)
			}
		})
	})
}
