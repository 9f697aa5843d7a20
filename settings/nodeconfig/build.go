package nodeconfig

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"nodecoord/internal/coordinator/model"
)

// Build turns a FileConfiguration into the runtime model.Configuration
// the coordinator's Core consumes: PEM files become parsed
// certificates and keys, address strings become resolved Endpoints or
// netip.Prefix entries.
func Build(cfg FileConfiguration) (model.Configuration, error) {
	var out model.Configuration

	switch strings.ToLower(cfg.ResolutionProtocol) {
	case "", "any":
		out.ResolutionProtocol = model.ProtoAny
	case "v4":
		out.ResolutionProtocol = model.ProtoV4
	case "v6":
		out.ResolutionProtocol = model.ProtoV6
	default:
		return out, fmt.Errorf("nodeconfig: unknown ResolutionProtocol %q", cfg.ResolutionProtocol)
	}

	if cfg.ListenOn != "" {
		ep, err := parseEndpoint(cfg.ListenOn)
		if err != nil {
			return out, fmt.Errorf("nodeconfig: ListenOn: %w", err)
		}
		out.ListenOn = ep
	}

	for _, raw := range cfg.StaticContactList {
		ep, err := parseEndpoint(raw)
		if err != nil {
			return out, fmt.Errorf("nodeconfig: StaticContactList entry %q: %w", raw, err)
		}
		out.StaticContactList = append(out.StaticContactList, ep)
	}

	for _, path := range cfg.DynamicContactCAs {
		cert, err := loadCertificate(path)
		if err != nil {
			return out, fmt.Errorf("nodeconfig: DynamicContactCAs entry %q: %w", path, err)
		}
		out.DynamicContactList = append(out.DynamicContactList, cert)
	}

	for _, raw := range cfg.NeverContactList {
		prefix, err := parsePrefix(raw)
		if err != nil {
			return out, fmt.Errorf("nodeconfig: NeverContactList entry %q: %w", raw, err)
		}
		out.NeverContactList = append(out.NeverContactList, prefix)
	}

	out.AcceptContactRequests = cfg.AcceptContactRequests
	out.AcceptContacts = cfg.AcceptContacts

	if cfg.IdentityCertificateFile != "" && cfg.IdentityPrivateKeyFile != "" {
		pair, err := tls.LoadX509KeyPair(cfg.IdentityCertificateFile, cfg.IdentityPrivateKeyFile)
		if err != nil {
			return out, fmt.Errorf("nodeconfig: loading identity keypair: %w", err)
		}
		cert, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return out, fmt.Errorf("nodeconfig: parsing identity certificate: %w", err)
		}
		out.Identity = model.Identity{Certificate: cert, PrivateKey: pair.PrivateKey}
	}

	switch strings.ToLower(cfg.TrustPolicy) {
	case "", "default":
		out.TrustPolicy = model.TrustDefault
	case "none":
		out.TrustPolicy = model.TrustNone
	default:
		return out, fmt.Errorf("nodeconfig: unknown TrustPolicy %q", cfg.TrustPolicy)
	}

	switch strings.ToLower(cfg.CRLValidation) {
	case "", "none":
		out.CRLValidation = model.CRLNone
	case "leaf":
		out.CRLValidation = model.CRLLeafOnly
	case "chain":
		out.CRLValidation = model.CRLFullChain
	default:
		return out, fmt.Errorf("nodeconfig: unknown CRLValidation %q", cfg.CRLValidation)
	}

	for _, path := range cfg.TrustedCAFiles {
		cert, err := loadCertificate(path)
		if err != nil {
			return out, fmt.Errorf("nodeconfig: TrustedCAFiles entry %q: %w", path, err)
		}
		out.TrustedCAs = append(out.TrustedCAs, cert)
	}

	for _, path := range cfg.CRLFiles {
		crl, err := loadCRL(path)
		if err != nil {
			return out, fmt.Errorf("nodeconfig: CRLFiles entry %q: %w", path, err)
		}
		out.CRLs = append(out.CRLs, crl)
	}

	switch strings.ToLower(cfg.AdapterMode) {
	case "", "switch":
		out.AdapterMode = model.ModeSwitch
	case "router":
		out.AdapterMode = model.ModeRouter
	default:
		return out, fmt.Errorf("nodeconfig: unknown AdapterMode %q", cfg.AdapterMode)
	}

	out.CipherCapabilities = cfg.CipherCapabilities

	out.ServerMode = cfg.ServerMode
	if cfg.ServerManagedSubnet != "" {
		prefix, err := parsePrefix(cfg.ServerManagedSubnet)
		if err != nil {
			return out, fmt.Errorf("nodeconfig: ServerManagedSubnet: %w", err)
		}
		out.ServerConfig = model.ServerConfig{ManagedSubnet: prefix}
	}

	if cfg.HelloTimeoutMs > 0 {
		out.HelloTimeout = time.Duration(cfg.HelloTimeoutMs) * time.Millisecond
	}

	return out, nil
}

// parseEndpoint accepts either a literal host:port (resolved
// immediately into a PeerAddress) or a bare hostname[:port], deferred
// to DNS resolution via a HostnameEndpoint.
func parseEndpoint(raw string) (model.Endpoint, error) {
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		// No port: treat the whole string as a hostname, default service.
		return model.HostnameEndpoint{Host: raw}, nil
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		p, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", port, err)
		}
		return model.LiteralEndpoint{Address: model.NewPeerAddress(netip.AddrPortFrom(addr, uint16(p)))}, nil
	}
	return model.HostnameEndpoint{Host: host, Service: port}, nil
}

func parsePrefix(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		return netip.ParsePrefix(raw)
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

func loadCRL(path string) (*x509.RevocationList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	der := raw
	if block != nil {
		der = block.Bytes
	}
	return x509.ParseRevocationList(der)
}
