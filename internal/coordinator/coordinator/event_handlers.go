package coordinator

import (
	"github.com/Arceliar/phony"

	"nodecoord/internal/coordinator/engine"
	"nodecoord/internal/coordinator/model"
)

// onHelloReceived implements the hello-received row. The
// admission filter runs before anything else touches peer state: a
// banned peer never reaches the trust evaluator, and here it never
// reaches a peer strand either.
func (c *Core) onHelloReceived(sender model.PeerAddress, defaultAccept bool) bool {
	if c.admitter.IsBanned(sender.AddrPort().Addr()) {
		c.logger.Printf("warn: denying hello from banned peer %s", sender)
		return false
	}
	if defaultAccept {
		c.engine.AsyncIntroduceTo(sender, func(err error) {
			if err != nil {
				c.logger.Printf("debug: introduce-to %s failed: %s", sender, err)
			}
		})
	}
	return defaultAccept
}

func (c *Core) onContactRequestReceived(sender model.PeerAddress, _ any, _ model.CertificateFingerprint, answer model.PeerAddress) bool {
	if !c.cfg.AcceptContactRequests {
		return false
	}
	c.logger.Printf("debug: accepting contact request from %s for %s", sender, answer)
	return true
}

// onContactReceived schedules a relayed contact only if contacts are
// accepted and the reported address is not banned. A banned address is
// discarded with a warning; when contacts are not accepted the event
// is ignored without logging.
func (c *Core) onContactReceived(sender model.PeerAddress, _ model.CertificateFingerprint, answer model.PeerAddress) {
	if !c.cfg.AcceptContacts {
		return
	}
	if c.admitter.IsBanned(answer.AddrPort().Addr()) {
		c.logger.Printf("warn: discarding contact to banned peer %s relayed by %s", answer, sender)
		return
	}
	c.contact(answer)
}

// onPresentationReceived implements the presentation-received row.
// Validation runs on the peer's strand via phony.Block so the
// accept/deny decision and the state transition it gates are atomic
// with respect to any other handler for the same peer — otherwise
// presentation validation and session-established for the same peer
// could race.
func (c *Core) onPresentationReceived(sender model.PeerAddress, identity model.PeerIdentity, _ bool) bool {
	if c.admitter.IsBanned(sender.AddrPort().Addr()) {
		c.logger.Printf("warn: denying presentation from banned peer %s", sender)
		return false
	}

	p := c.getOrCreatePeer(sender)
	var accept bool
	phony.Block(p, func() {
		if !c.verifyIdentity(identity) {
			accept = false
			return
		}
		p.record.State = model.StatePresented
		accept = true
		c.engine.AsyncRequestSession(sender, func(err error) {
			if err != nil {
				c.logger.Printf("warn: request-session to %s failed: %s", sender, err)
			}
		})
	})
	return accept
}

// verifyIdentity offloads the pair of chain verifications to the
// verify pool and blocks the calling strand until both
// complete — both certificates must be valid, not just one.
func (c *Core) verifyIdentity(identity model.PeerIdentity) bool {
	done := make(chan bool, 1)
	c.verify.Submit(func() bool {
		return c.trust.CertificateIsValid(identity.Signature) && c.trust.CertificateIsValid(identity.Cipherment)
	}, func(ok bool) { done <- ok })
	return <-done
}

func (c *Core) onSessionRequestReceived(sender model.PeerAddress, caps []engine.CipherAlgorithm, defaultAccept bool) bool {
	c.logger.Printf("debug: session-request from %s, capabilities: %v", sender, caps)
	return defaultAccept
}

func (c *Core) onSessionReceived(sender model.PeerAddress, chosen engine.CipherAlgorithm, defaultAccept bool) bool {
	c.logger.Printf("debug: session from %s, chosen cipher %s", sender, chosen)
	return defaultAccept
}

func (c *Core) onSessionFailed(host model.PeerAddress, isNew bool, local, remote engine.AlgorithmInfo) {
	c.logger.Printf("warn: session with %s failed (is_new=%t, local=%s, remote=%s)", host, isNew, local.Cipher, remote.Cipher)
	if c.cfg.OnSessionFailed != nil {
		c.cfg.OnSessionFailed(host)
	}
}

// onSessionEstablished implements the is-new semantics: a port
// is registered only on the true None→SessionUp edge, never on a
// renewal.
func (c *Core) onSessionEstablished(host model.PeerAddress, isNew bool, _, _ engine.AlgorithmInfo) {
	p := c.getOrCreatePeer(host)
	phony.Block(p, func() {
		p.record.Generation++
		if !isNew {
			p.record.State = model.StateSessionRenewing
			return
		}
		p.record.State = model.StateSessionUp
		handle, err := c.ports.Register(host)
		if err != nil {
			c.logger.Printf("warn: failed to register port for %s: %s", host, err)
			return
		}
		p.record.Port = handle
	})
	if c.cfg.OnSessionEstablished != nil {
		c.cfg.OnSessionEstablished(host)
	}
}

// onSessionLost implements the session-lost row. A second
// session-lost for a peer with no port is a documented no-op, since
// portreg.Unregister and this peer's record both treat a missing
// handle as already-clean.
func (c *Core) onSessionLost(host model.PeerAddress) {
	p := c.getOrCreatePeer(host)
	phony.Block(p, func() {
		if p.record.HasPort() {
			if err := c.ports.Unregister(host); err != nil {
				c.logger.Printf("warn: failed to unregister port for %s: %s", host, err)
			}
			p.record.Port = nil
		}
		p.record.State = model.StateNone
	})
	c.removePeer(host)
	if c.cfg.OnSessionLost != nil {
		c.cfg.OnSessionLost(host)
	}
}

func (c *Core) onDataReceived(sender model.PeerAddress, channel uint8, buf []byte) {
	c.demux.Dispatch(sender, channel, buf)
}
