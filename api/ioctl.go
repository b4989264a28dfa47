// File: api/ioctl.go
// Author: momentics <momentics@gmail.com>
//
// Runtime tuning codes accepted by Channel.IOCtl and Server.IOCtl.

package api

// IOCtlCode names a runtime tunable.
type IOCtlCode int

const (
	// IOCtlMaxNumBuffers sets the channel's output buffer ceiling (int).
	IOCtlMaxNumBuffers IOCtlCode = iota + 1
	// IOCtlNumGuaranteedBuffers sets the channel's guaranteed output buffers (int).
	IOCtlNumGuaranteedBuffers
	// IOCtlHighWaterMark sets the queued byte count that triggers a flush (int).
	IOCtlHighWaterMark
	// IOCtlSystemReadBuffers sets SO_RCVBUF (int).
	IOCtlSystemReadBuffers
	// IOCtlSystemWriteBuffers sets SO_SNDBUF (int).
	IOCtlSystemWriteBuffers
	// IOCtlPriorityFlushOrder sets the lane order used by Flush (string of H, M, L).
	IOCtlPriorityFlushOrder
	// IOCtlCompressionThreshold sets the minimum payload size to compress (int).
	IOCtlCompressionThreshold
	// IOCtlServerNumPoolBuffers resizes a server's shared pool (int).
	IOCtlServerNumPoolBuffers
	// IOCtlServerPeakReset resets a server's peak usage counter (ignored value).
	IOCtlServerPeakReset
)

func (c IOCtlCode) String() string {
	switch c {
	case IOCtlMaxNumBuffers:
		return "max_num_buffers"
	case IOCtlNumGuaranteedBuffers:
		return "num_guaranteed_buffers"
	case IOCtlHighWaterMark:
		return "high_water_mark"
	case IOCtlSystemReadBuffers:
		return "system_read_buffers"
	case IOCtlSystemWriteBuffers:
		return "system_write_buffers"
	case IOCtlPriorityFlushOrder:
		return "priority_flush_order"
	case IOCtlCompressionThreshold:
		return "compression_threshold"
	case IOCtlServerNumPoolBuffers:
		return "server_num_pool_buffers"
	case IOCtlServerPeakReset:
		return "server_peak_reset"
	default:
		return "unknown"
	}
}
