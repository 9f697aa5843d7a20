package model

// NoIdentityConfigured is returned by Open when the configuration
// carries no signing identity (: open() fails if identity is
// absent).
type NoIdentityConfigured struct{}

func NewNoIdentityConfigured() NoIdentityConfigured { return NoIdentityConfigured{} }

func (NoIdentityConfigured) Error() string {
	return "no user certificate or private key set: unable to open core"
}

// AlreadyOpen is returned by Open when called on a core that is not Closed.
type AlreadyOpen struct{}

func NewAlreadyOpen() AlreadyOpen { return AlreadyOpen{} }

func (AlreadyOpen) Error() string { return "core is already open" }

// NotOpen is returned by operations that require the core to be Open.
type NotOpen struct{}

func NewNotOpen() NotOpen { return NotOpen{} }

func (NotOpen) Error() string { return "core is not open" }
