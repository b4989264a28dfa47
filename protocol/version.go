// File: protocol/version.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection versions and the rollback negotiator used by the handshake.

package protocol

import (
	"fmt"
	"strings"
)

// ConnectionVersion is the handshake version number carried on the wire.
// Each version fixes the fragment header widths and whether key exchange
// is offered.
type ConnectionVersion uint32

const (
	ConnectionVersion11 ConnectionVersion = 23
	ConnectionVersion12 ConnectionVersion = 24
	ConnectionVersion13 ConnectionVersion = 25
	ConnectionVersion14 ConnectionVersion = 26

	NewestVersion = ConnectionVersion14
	OldestVersion = ConnectionVersion11
)

// supportedVersions is ordered newest first; rollback walks it forward.
var supportedVersions = [...]ConnectionVersion{
	ConnectionVersion14,
	ConnectionVersion13,
	ConnectionVersion12,
	ConnectionVersion11,
}

// SupportedVersions returns the versions this build speaks, newest first.
func SupportedVersions() []ConnectionVersion {
	out := make([]ConnectionVersion, len(supportedVersions))
	copy(out, supportedVersions[:])
	return out
}

// Valid reports whether v is a version this build speaks.
func (v ConnectionVersion) Valid() bool {
	return v >= OldestVersion && v <= NewestVersion
}

// FragmentIDLength is the width of the fragment id field in bytes.
func (v ConnectionVersion) FragmentIDLength() int {
	if v >= ConnectionVersion13 {
		return 2
	}
	return 1
}

// MaxFragmentID is the largest id before wrapping back to 1.
func (v ConnectionVersion) MaxFragmentID() uint16 {
	if v.FragmentIDLength() == 2 {
		return 0xFFFF
	}
	return 0xFF
}

// FirstFragmentHeaderLength is 9 or 10 bytes depending on the id width.
func (v ConnectionVersion) FirstFragmentHeaderLength() int {
	return HeaderLength + 1 + 4 + v.FragmentIDLength()
}

// NextFragmentHeaderLength is 5 or 6 bytes depending on the id width.
func (v ConnectionVersion) NextFragmentHeaderLength() int {
	return HeaderLength + 1 + v.FragmentIDLength()
}

// OffersKeyExchange reports whether the handshake may carry key exchange.
func (v ConnectionVersion) OffersKeyExchange() bool {
	return v >= ConnectionVersion14
}

func (v ConnectionVersion) String() string {
	switch v {
	case ConnectionVersion11:
		return "ripc11"
	case ConnectionVersion12:
		return "ripc12"
	case ConnectionVersion13:
		return "ripc13"
	case ConnectionVersion14:
		return "ripc14"
	default:
		return fmt.Sprintf("ripc(%d)", uint32(v))
	}
}

// ParseConnectionVersion accepts "ripc14", "14" or the wire number "26".
// An empty string selects the newest version.
func ParseConnectionVersion(s string) (ConnectionVersion, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "ripc")
	if s == "" {
		return NewestVersion, nil
	}
	for _, v := range supportedVersions {
		short := strings.TrimPrefix(v.String(), "ripc")
		if s == short || s == fmt.Sprint(uint32(v)) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
}

// WireFormat is the payload encoding the client asks for.
type WireFormat uint8

const (
	WireFormatRWF WireFormat = iota
	WireFormatOther
)

// Protocol is one handshake attempt: a version plus whether key exchange is
// offered with it. The zero value means "no attempt yet".
type Protocol struct {
	Version     ConnectionVersion
	KeyExchange bool
}

// IsZero reports whether p is the "no attempt yet" value.
func (p Protocol) IsZero() bool { return p.Version == 0 }

func (p Protocol) String() string {
	if p.IsZero() {
		return "none"
	}
	if p.KeyExchange {
		return p.Version.String() + "+kx"
	}
	return p.Version.String()
}

// NextProtocol returns the next candidate to try after current was rejected,
// or false when the candidates are exhausted. Pass the zero Protocol for the
// first attempt. A zero or unknown ceiling starts from the newest version.
// Non-RWF wire formats only ever try the oldest version.
func NextProtocol(current Protocol, ceiling ConnectionVersion, format WireFormat) (Protocol, bool) {
	if format != WireFormatRWF {
		if current.IsZero() {
			return Protocol{Version: OldestVersion}, true
		}
		return Protocol{}, false
	}
	if !ceiling.Valid() {
		ceiling = NewestVersion
	}
	for _, v := range supportedVersions {
		if v > ceiling {
			continue
		}
		if !current.IsZero() && v >= current.Version {
			continue
		}
		return Protocol{Version: v, KeyExchange: v.OffersKeyExchange()}, true
	}
	return Protocol{}, false
}
