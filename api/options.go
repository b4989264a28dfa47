// File: api/options.go
// Author: momentics <momentics@gmail.com>
//
// Connection-time options for clients and servers.

package api

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-ripc/protocol"
)

const (
	DefaultMaxFragmentSize         = 6144
	DefaultGuaranteedOutputBuffers = 50
	DefaultMaxOutputBuffers        = 100
	DefaultNumInputBuffers         = 10
	DefaultPingTimeout             = 60 * time.Second
	DefaultMinPingTimeout          = 20 * time.Second
	DefaultHighWaterMark           = 6144
	DefaultPriorityFlushOrder      = "HMHLHM"
	DefaultMajorVersion            = 14
	DefaultMinorVersion            = 1
	DefaultConnectTimeout          = 10 * time.Second

	// MaxPingTimeout is the largest timeout the handshake can carry.
	MaxPingTimeout = 255 * time.Second
	// MinFragmentSize keeps room for the largest fragment header.
	MinFragmentSize = 64
)

// InitArgs configures a transport runtime.
type InitArgs struct {
	// GlobalLocking serializes the read and write paths of each channel so
	// that several goroutines may share it.
	GlobalLocking bool
	// Registerer receives the transport collectors; nil keeps them private.
	Registerer prometheus.Registerer
}

// ConnectOptions configures a client channel.
type ConnectOptions struct {
	Address        string
	ConnectionType ConnectionType
	Blocking       bool
	TCPNoDelay     bool
	ConnectTimeout time.Duration

	PingTimeout             time.Duration
	GuaranteedOutputBuffers int
	MaxOutputBuffers        int
	NumInputBuffers         int
	CompressionType         protocol.CompressionType
	SysSendBufSize          int
	SysRecvBufSize          int

	// ConnectionVersion is the ceiling version tried first; zero means newest.
	ConnectionVersion protocol.ConnectionVersion
	WireFormat        protocol.WireFormat
	KeyExchange       bool
	ProtocolType      uint8
	MajorVersion      uint8
	MinorVersion      uint8
	ComponentVersion  string

	TLS *tls.Config
}

// DefaultConnectOptions returns options for a non-blocking client.
func DefaultConnectOptions(addr string) ConnectOptions {
	return ConnectOptions{
		Address:                 addr,
		TCPNoDelay:              true,
		ConnectTimeout:          DefaultConnectTimeout,
		PingTimeout:             DefaultPingTimeout,
		GuaranteedOutputBuffers: DefaultGuaranteedOutputBuffers,
		MaxOutputBuffers:        DefaultMaxOutputBuffers,
		NumInputBuffers:         DefaultNumInputBuffers,
		ConnectionVersion:       protocol.NewestVersion,
		WireFormat:              protocol.WireFormatRWF,
		KeyExchange:             true,
		MajorVersion:            DefaultMajorVersion,
		MinorVersion:            DefaultMinorVersion,
	}
}

// Validate checks the options before any socket is opened.
func (o ConnectOptions) Validate() error {
	if strings.TrimSpace(o.Address) == "" {
		return fmt.Errorf("connect: address required")
	}
	if err := validatePing(o.PingTimeout); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := validateBuffers(o.GuaranteedOutputBuffers, o.MaxOutputBuffers); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if o.NumInputBuffers < 1 {
		return fmt.Errorf("connect: num input buffers must be positive")
	}
	if o.ConnectionVersion != 0 && !o.ConnectionVersion.Valid() {
		return fmt.Errorf("connect: %w: %d", protocol.ErrUnsupportedVersion, uint32(o.ConnectionVersion))
	}
	if !o.CompressionType.Valid() {
		return fmt.Errorf("connect: unknown compression type %d", o.CompressionType)
	}
	if o.ConnectionType == ConnectionEncrypted && o.TLS == nil {
		return fmt.Errorf("connect: encrypted connection requires a tls config")
	}
	return nil
}

// BindOptions configures a server and the channels it accepts.
type BindOptions struct {
	Address        string
	ConnectionType ConnectionType
	Blocking       bool
	TCPNoDelay     bool

	MaxFragmentSize         int
	GuaranteedOutputBuffers int
	MaxOutputBuffers        int
	NumInputBuffers         int
	SharedPoolSize          int
	SysSendBufSize          int
	SysRecvBufSize          int

	PingTimeout      time.Duration
	MinPingTimeout   time.Duration
	CompressionType  protocol.CompressionType
	CompressionLevel int
	ForceCompression bool

	// MaxConnectionVersion is the newest version the server accepts; zero means newest.
	MaxConnectionVersion protocol.ConnectionVersion
	ProtocolType         uint8
	MajorVersion         uint8
	MinorVersion         uint8
	ComponentVersion     string

	TLS *tls.Config
}

// DefaultBindOptions returns options for a non-blocking server.
func DefaultBindOptions(addr string) BindOptions {
	return BindOptions{
		Address:                 addr,
		TCPNoDelay:              true,
		MaxFragmentSize:         DefaultMaxFragmentSize,
		GuaranteedOutputBuffers: DefaultGuaranteedOutputBuffers,
		MaxOutputBuffers:        DefaultMaxOutputBuffers,
		NumInputBuffers:         DefaultNumInputBuffers,
		PingTimeout:             DefaultPingTimeout,
		MinPingTimeout:          DefaultMinPingTimeout,
		CompressionLevel:        6,
		MaxConnectionVersion:    protocol.NewestVersion,
		MajorVersion:            DefaultMajorVersion,
		MinorVersion:            DefaultMinorVersion,
	}
}

// Validate checks the options before the listener is opened.
func (o BindOptions) Validate() error {
	if strings.TrimSpace(o.Address) == "" {
		return fmt.Errorf("bind: address required")
	}
	if o.MaxFragmentSize < MinFragmentSize || o.MaxFragmentSize > protocol.MaxFrameLength-protocol.HeaderLength {
		return fmt.Errorf("bind: max fragment size %d out of range [%d, %d]",
			o.MaxFragmentSize, MinFragmentSize, protocol.MaxFrameLength-protocol.HeaderLength)
	}
	if err := validatePing(o.PingTimeout); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if o.MinPingTimeout < 0 || o.MinPingTimeout > o.PingTimeout {
		return fmt.Errorf("bind: min ping timeout must be within [0, ping timeout]")
	}
	if err := validateBuffers(o.GuaranteedOutputBuffers, o.MaxOutputBuffers); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if o.NumInputBuffers < 1 {
		return fmt.Errorf("bind: num input buffers must be positive")
	}
	if o.SharedPoolSize < 0 {
		return fmt.Errorf("bind: shared pool size must not be negative")
	}
	if o.MaxConnectionVersion != 0 && !o.MaxConnectionVersion.Valid() {
		return fmt.Errorf("bind: %w: %d", protocol.ErrUnsupportedVersion, uint32(o.MaxConnectionVersion))
	}
	if !o.CompressionType.Valid() {
		return fmt.Errorf("bind: unknown compression type %d", o.CompressionType)
	}
	if o.CompressionLevel < 0 || o.CompressionLevel > 9 {
		return fmt.Errorf("bind: compression level must be within [0, 9]")
	}
	if o.ConnectionType == ConnectionEncrypted && o.TLS == nil {
		return fmt.Errorf("bind: encrypted connection requires a tls config")
	}
	return nil
}

// AcceptOptions applies to a single accepted channel.
type AcceptOptions struct {
	// NakMount rejects the connection during the handshake.
	NakMount       bool
	SysSendBufSize int
	SysRecvBufSize int
}

func validatePing(d time.Duration) error {
	if d < time.Second || d > MaxPingTimeout {
		return fmt.Errorf("ping timeout %s out of range [1s, %s]", d, MaxPingTimeout)
	}
	return nil
}

func validateBuffers(guaranteed, ceiling int) error {
	if guaranteed < 1 {
		return fmt.Errorf("guaranteed output buffers must be positive")
	}
	if ceiling < guaranteed {
		return fmt.Errorf("max output buffers %d below guaranteed %d", ceiling, guaranteed)
	}
	return nil
}
