// Package engine declares the secure channel protocol engine's
// consumed surface. The engine itself — handshake, key
// exchange, authenticated encryption of datagrams — is out of scope
//; the coordinator holds exactly one Engine and drives it
// through this interface plus the Callbacks struct it registers.
package engine

import (
	"context"
	"time"

	"nodecoord/internal/coordinator/model"
)

// CipherAlgorithm names a cipher suite the secure channel may
// negotiate with a peer.
type CipherAlgorithm string

// AlgorithmInfo describes the algorithms chosen for one side of a
// session, surfaced to session-established/session-failed.
type AlgorithmInfo struct {
	Cipher CipherAlgorithm
}

// Callbacks is a per-event boost::function-style callback table: one
// function field per event row. A nil field means "not interested";
// the engine must tolerate that for the void-returning rows, and must
// not call the bool-returning rows at all if asked not to register one.
type Callbacks struct {
	HelloReceived           func(sender model.PeerAddress, defaultAccept bool) bool
	ContactRequestReceived  func(sender model.PeerAddress, cert any, hash model.CertificateFingerprint, answer model.PeerAddress) bool
	ContactReceived         func(sender model.PeerAddress, hash model.CertificateFingerprint, answer model.PeerAddress)
	PresentationReceived    func(sender model.PeerAddress, identity model.PeerIdentity, isNew bool) bool
	SessionRequestReceived  func(sender model.PeerAddress, caps []CipherAlgorithm, defaultAccept bool) bool
	SessionReceived         func(sender model.PeerAddress, chosen CipherAlgorithm, defaultAccept bool) bool
	SessionFailed           func(host model.PeerAddress, isNew bool, local, remote AlgorithmInfo)
	SessionEstablished      func(host model.PeerAddress, isNew bool, local, remote AlgorithmInfo)
	SessionLost             func(host model.PeerAddress)
	DataReceived            func(sender model.PeerAddress, channel uint8, buf []byte)
}

// Engine is the capability the coordinator consumes. Exactly one
// instance is held for the lifetime of an Open core.
type Engine interface {
	Open(ctx context.Context, listen model.PeerAddress) error
	Close() error
	SetCipherCapabilities(caps []CipherAlgorithm)
	RegisterCallbacks(cb Callbacks)

	AsyncGreet(addr model.PeerAddress, cb func(latency time.Duration, err error))
	AsyncIntroduceTo(addr model.PeerAddress, cb func(err error))
	AsyncRequestSession(addr model.PeerAddress, cb func(err error))
	AsyncSendContactRequestToAll(hashes []model.CertificateFingerprint, cb func(results map[model.PeerAddress]error))
	AsyncSendData(addr model.PeerAddress, channel uint8, buf []byte, cb func(err error))
}

// ChannelData and ChannelControl are the two channel numbers the data
// demultiplexer gives meaning to; any other channel number
// is dropped with a warning.
const (
	ChannelData    uint8 = 0
	ChannelControl uint8 = 1
)

// ErrHelloTimedOut distinguishes a hello that timed out from other
// send errors, analogous to a dedicated
// server_error::hello_request_timed_out code rather than a generic one.
type ErrHelloTimedOut struct {
	Timeout time.Duration
}

func NewErrHelloTimedOut(timeout time.Duration) ErrHelloTimedOut {
	return ErrHelloTimedOut{Timeout: timeout}
}

func (e ErrHelloTimedOut) Error() string {
	return "hello request timed out after " + e.Timeout.String()
}
