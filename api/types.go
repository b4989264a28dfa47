// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import (
	"time"

	"github.com/momentics/hioload-ripc/protocol"
)

// ChannelState enumerates the lifecycle of a channel.
type ChannelState int

const (
	ChannelInactive ChannelState = iota
	ChannelInitializing
	ChannelActive
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelInitializing:
		return "initializing"
	case ChannelActive:
		return "active"
	case ChannelClosed:
		return "closed"
	default:
		return "inactive"
	}
}

// ConnectionType selects the byte stream a channel runs over.
type ConnectionType int

const (
	ConnectionSocket ConnectionType = iota
	ConnectionEncrypted
)

func (t ConnectionType) String() string {
	if t == ConnectionEncrypted {
		return "encrypted"
	}
	return "socket"
}

// WritePriority selects the write lane a frame is queued on.
type WritePriority int

const (
	PriorityHigh WritePriority = iota
	PriorityMedium
	PriorityLow
)

func (p WritePriority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "medium"
	}
}

// WriteFlags modify a single Write call.
type WriteFlags uint8

const (
	WriteNoFlags WriteFlags = 0
	// WriteDoNotCompress skips compression for this frame.
	WriteDoNotCompress WriteFlags = 0x01
	// WriteDirectSocketWrite attempts the socket write before returning when
	// nothing else is queued.
	WriteDirectSocketWrite WriteFlags = 0x02
)

// ReadFlags describe what the last Read returned.
type ReadFlags uint8

const (
	ReadNoFlags        ReadFlags = 0
	ReadFlagPing       ReadFlags = 0x01
	ReadFlagFragment   ReadFlags = 0x02
	ReadFlagPacked     ReadFlags = 0x04
	ReadFlagCompressed ReadFlags = 0x08
)

// InProgFlags report events raised while a channel is initializing.
type InProgFlags uint8

const (
	InProgNone InProgFlags = 0
	// InProgSocketChange means the channel now uses a different descriptor;
	// callers stop watching OldSocket and start watching NewSocket.
	InProgSocketChange InProgFlags = 0x01
)

// InProgInfo is filled by Channel.Init.
type InProgInfo struct {
	Flags     InProgFlags
	OldSocket int
	NewSocket int
}

// ReadArgs carries per-call read results.
type ReadArgs struct {
	// ReadRetVal is Success, a positive count of bytes still buffered,
	// ReadWouldBlock or ReadPing. Descriptor changes are reported by Init.
	ReadRetVal            ReturnCode
	Flags                 ReadFlags
	BytesRead             int
	UncompressedBytesRead int
}

// WriteArgs carries per-call write parameters and results.
type WriteArgs struct {
	Priority                 WritePriority
	Flags                    WriteFlags
	BytesWritten             int
	UncompressedBytesWritten int
}

// ChannelInfo is the queryable state of an active channel.
type ChannelInfo struct {
	ID                      string
	ConnectionType          ConnectionType
	ConnectionVersion       protocol.ConnectionVersion
	ProtocolType            uint8
	MajorVersion            uint8
	MinorVersion            uint8
	MaxFragmentSize         int
	MaxOutputBuffers        int
	GuaranteedOutputBuffers int
	NumInputBuffers         int
	PingTimeout             time.Duration
	ClientToServerPings     bool
	ServerToClientPings     bool
	CompressionType         protocol.CompressionType
	CompressionThreshold    int
	HighWaterMark           int
	PriorityFlushOrder      string
	SysSendBufSize          int
	SysRecvBufSize          int
	ComponentVersion        string
	PeerComponentVersion    string
	KeyExchange             bool
	SharedKey               []byte
	BuffersInUse            int
	PeakBuffersInUse        int
	QueuedBytes             int
}

// ServerInfo reports shared pool occupancy of a server.
type ServerInfo struct {
	CurrentBufferUsage int
	PeakBufferUsage    int
	SharedPoolSize     int
}
