// Package scheduler implements the contact scheduler:
// two independently cancellable periodic loops that keep a node's
// configured peers reachable — one greeting static contacts by
// resolved address, one fanning a contact request out to everyone the
// secure channel engine already knows via a dynamic contact list.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"nodecoord/internal/coordinator/applog"
	"nodecoord/internal/coordinator/engine"
	"nodecoord/internal/coordinator/model"
	"nodecoord/internal/coordinator/resolver"
)

const (
	// StaticContactPeriod is the static contact loop's tick interval.
	StaticContactPeriod = 30 * time.Second
	// DynamicContactPeriod is the dynamic contact loop's tick interval.
	DynamicContactPeriod = 45 * time.Second
)

// Scheduler drives both contact loops. Run arms them; the returned
// loops re-arm their ticker only if ctx has not been cancelled,
// matching the "cancellation is terminal" rule.
type Scheduler struct {
	resolver     *resolver.Resolver
	engine       engine.Engine
	logger       applog.Logger
	helloTimeout time.Duration

	staticContacts  []model.Endpoint
	dynamicContacts []model.CertificateFingerprint

	wg sync.WaitGroup
}

// New builds a Scheduler. staticContacts is resolved and greeted every
// StaticContactPeriod; dynamicContacts is the set of fingerprints
// fanned out every DynamicContactPeriod via AsyncSendContactRequestToAll.
// helloTimeout is only used to annotate a timed-out greet's debug log
// line; the engine itself owns the actual hello deadline.
func New(r *resolver.Resolver, e engine.Engine, staticContacts []model.Endpoint, dynamicContacts []model.CertificateFingerprint, helloTimeout time.Duration, logger applog.Logger) *Scheduler {
	return &Scheduler{
		resolver:        r,
		engine:          e,
		logger:          logger,
		helloTimeout:    helloTimeout,
		staticContacts:  staticContacts,
		dynamicContacts: dynamicContacts,
	}
}

// Run arms both loops as goroutines. It returns immediately; call Wait
// after cancelling ctx to block until both loops have exited.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(2)
	go s.runStaticLoop(ctx)
	go s.runDynamicLoop(ctx)
}

// Wait blocks until both loop goroutines have returned. Core.Close
// waits on this before reporting itself closed.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runStaticLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(StaticContactPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.contactStaticPeers(ctx)
		}
	}
}

func (s *Scheduler) runDynamicLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(DynamicContactPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.contactDynamicPeers()
		}
	}
}

func (s *Scheduler) contactStaticPeers(ctx context.Context) {
	for _, ep := range s.staticContacts {
		ep := ep
		s.resolver.AsyncResolve(ctx, ep, resolver.FlagNone, func(addr model.PeerAddress, err error) {
			if err != nil {
				s.logger.Printf("debug: failed to resolve static contact %v: %s", ep, err)
				return
			}
			s.greet(addr)
		})
	}
}

func (s *Scheduler) greet(addr model.PeerAddress) {
	s.engine.AsyncGreet(addr, func(latency time.Duration, err error) {
		if err != nil {
			var timedOut engine.ErrHelloTimedOut
			if errors.As(err, &timedOut) {
				s.logger.Printf("debug: hello to %s timed out (configured timeout %s): %s", addr, s.helloTimeout, err)
			} else {
				s.logger.Printf("debug: hello to %s failed: %s", addr, err)
			}
			return
		}
		s.logger.Printf("debug: hello reply from %s, latency %s", addr, latency)
		s.engine.AsyncIntroduceTo(addr, func(err error) {
			if err != nil {
				s.logger.Printf("debug: introduce-to %s failed: %s", addr, err)
			}
		})
	})
}

func (s *Scheduler) contactDynamicPeers() {
	if len(s.dynamicContacts) == 0 {
		return
	}
	s.engine.AsyncSendContactRequestToAll(s.dynamicContacts, s.handleContactRequestResults)
}

// handleContactRequestResults logs each per-target failure
// individually rather than a single aggregate line.
func (s *Scheduler) handleContactRequestResults(results map[model.PeerAddress]error) {
	for addr, err := range results {
		if err != nil {
			s.logger.Printf("warn: contact-request to %s failed: %s", addr, err)
		}
	}
}
