// Package mc holds the small Minecraft domain vocabulary shared by the
// manifest, resolver, and registry packages: sides, loaders, content
// types, and game version matching.
package mc

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Side is the compatibility axis of a mod: client-only, server-only, or
// both. It is a flag set so build filters can intersect with mod sides.
type Side uint8

const (
	SideNone   Side = 0
	SideClient Side = 1 << (iota - 1)
	SideServer
	SideBoth = SideClient | SideServer
)

// ParseSide maps manifest spellings to a Side. The empty string means
// "both", matching the manifest default.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "", "both":
		return SideBoth, nil
	case "client":
		return SideClient, nil
	case "server":
		return SideServer, nil
	default:
		return SideNone, fmt.Errorf("mc: unknown side %q", s)
	}
}

// Intersects reports whether the two side sets share at least one side.
func (s Side) Intersects(other Side) bool { return s&other != 0 }

// HasClient reports whether the side set includes the client side.
func (s Side) HasClient() bool { return s&SideClient != 0 }

// HasServer reports whether the side set includes the server side.
func (s Side) HasServer() bool { return s&SideServer != 0 }

func (s Side) String() string {
	switch s {
	case SideClient:
		return "client"
	case SideServer:
		return "server"
	case SideBoth:
		return "both"
	default:
		return "none"
	}
}

// UnmarshalYAML accepts the manifest spellings of a side.
func (s *Side) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	side, err := ParseSide(raw)
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// MarshalYAML writes the canonical spelling.
func (s Side) MarshalYAML() (interface{}, error) { return s.String(), nil }

// SideSupport is a registry's declaration of how a mod relates to one
// side: required there, optional, or not usable at all.
type SideSupport string

const (
	SupportRequired    SideSupport = "required"
	SupportOptional    SideSupport = "optional"
	SupportUnsupported SideSupport = "unsupported"
	SupportUnknown     SideSupport = "unknown"
)

// SideFromSupport derives a mod's side set from per-side support
// declarations. A side is included unless the registry marks it
// unsupported; unknown support counts as supported.
func SideFromSupport(client, server SideSupport) Side {
	side := SideNone
	if client != SupportUnsupported {
		side |= SideClient
	}
	if server != SupportUnsupported {
		side |= SideServer
	}
	return side
}
