package coordinator

import (
	"github.com/Arceliar/phony"

	"nodecoord/internal/coordinator/model"
)

// peerActor is the per-peer strand: every handler that touches a given
// peer's PeerRecord (presentation-received, session-established,
// session-lost) runs on this actor's mailbox, so those callbacks for
// the same peer never execute concurrently regardless of how many
// goroutines the engine calls back from. The hello, contact-request,
// contact and data callbacks do not go through the actor and may run
// concurrently with them.
//
// This is the same phony.Inbox-per-entity shape ironwood uses for its
// per-peer actors (Arceliar-ironwood net/peers.go), adopted here for
// the coordinator's fan-in of engine callbacks rather than reinvented
// as a hand-rolled mutex-per-peer map (design note).
type peerActor struct {
	phony.Inbox
	record model.PeerRecord
}

func newPeerActor(addr model.PeerAddress) *peerActor {
	return &peerActor{record: model.PeerRecord{Address: addr, State: model.StateNone}}
}
