// Package nodeconfig is the JSON-file configuration layer for the
// coordinator: a disk-resident, env-overridable FileConfiguration
// that Build turns into a runtime model.Configuration.
package nodeconfig

// FileConfiguration is the on-disk, JSON-serializable shape of a
// coordinator configuration. Material that model.Configuration keeps
// as parsed Go values (certificates, endpoints, function fields) is
// kept here as file paths or strings and resolved by Build.
type FileConfiguration struct {
	ResolutionProtocol string `json:"ResolutionProtocol"` // "any", "v4", "v6"
	ListenOn           string `json:"ListenOn"`

	StaticContactList  []string `json:"StaticContactList"`
	DynamicContactCAs  []string `json:"DynamicContactCAs"` // PEM file paths
	NeverContactList   []string `json:"NeverContactList"`  // CIDR literals

	AcceptContactRequests bool `json:"AcceptContactRequests"`
	AcceptContacts        bool `json:"AcceptContacts"`

	IdentityCertificateFile string `json:"IdentityCertificateFile"`
	IdentityPrivateKeyFile  string `json:"IdentityPrivateKeyFile"`

	TrustPolicy       string   `json:"TrustPolicy"` // "default", "none"
	CRLValidation     string   `json:"CRLValidation"` // "none", "leaf", "chain"
	TrustedCAFiles    []string `json:"TrustedCAFiles"`
	CRLFiles          []string `json:"CRLFiles"`

	AdapterMode string `json:"AdapterMode"` // "switch", "router"

	CipherCapabilities []string `json:"CipherCapabilities"`

	ServerMode          bool   `json:"ServerMode"`
	ServerManagedSubnet string `json:"ServerManagedSubnet"`

	HelloTimeoutMs int `json:"HelloTimeoutMs"`

	TunName string `json:"TunName"`
	TunMTU  int    `json:"TunMTU"`
	TunCIDR string `json:"TunCIDR"`
}

// NewDefaultConfiguration is a conservative, runnable-out-of-the-box
// starting point written to disk the first time a node runs.
func NewDefaultConfiguration() FileConfiguration {
	return FileConfiguration{
		ResolutionProtocol:      "any",
		ListenOn:                "0.0.0.0:12000",
		AcceptContactRequests:   true,
		AcceptContacts:          true,
		IdentityCertificateFile: "identity.crt",
		IdentityPrivateKeyFile:  "identity.key",
		TrustPolicy:             "default",
		CRLValidation:           "leaf",
		AdapterMode:             "switch",
		CipherCapabilities:      []string{"chacha20poly1305", "aes256gcm"},
		HelloTimeoutMs:          5000,
		TunName:                 "nctun0",
		TunMTU:                  1420,
	}
}
