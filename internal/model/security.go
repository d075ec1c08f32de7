package model

import "fmt"

// SecurityLevel classifies how exposed a device is, from least to most
// restrictive. The order is total: compliance checks compare levels with >=.
type SecurityLevel int

const (
	// Connected to a network, no authorization required.
	NetworkPublic       SecurityLevel = iota // referenced, reachable by anyone
	NetworkUnreferenced                      // unreferenced, reachable by anyone

	// Connected to a network, authorization required.
	NetworkUntrustedRestricted // untrusted provider
	NetworkTrustedRestricted   // trusted provider

	// Connected to a local-only network.
	NetworkLocal

	// Disconnected from any network.
	Local
	LocalMaxSecurity // local with maximum physical security
)

var securityLevelNames = map[SecurityLevel]string{
	NetworkPublic:              "network_public",
	NetworkUnreferenced:        "network_unreferenced",
	NetworkUntrustedRestricted: "network_untrusted_restricted",
	NetworkTrustedRestricted:   "network_trusted_restricted",
	NetworkLocal:               "network_local",
	Local:                      "local",
	LocalMaxSecurity:           "local_max_security",
}

// Meets reports whether the level satisfies the given minimum.
func (l SecurityLevel) Meets(min SecurityLevel) bool {
	return l >= min
}

func (l SecurityLevel) String() string {
	if name, ok := securityLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("security_level(%d)", int(l))
}

// ParseSecurityLevel converts a config string into a SecurityLevel.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	for level, name := range securityLevelNames {
		if name == s {
			return level, nil
		}
	}
	return 0, fmt.Errorf("unknown security level: %q", s)
}

// MarshalText implements encoding.TextMarshaler so levels round-trip
// through TOML as their string names.
func (l SecurityLevel) MarshalText() ([]byte, error) {
	name, ok := securityLevelNames[l]
	if !ok {
		return nil, fmt.Errorf("invalid security level: %d", int(l))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *SecurityLevel) UnmarshalText(text []byte) error {
	level, err := ParseSecurityLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}
