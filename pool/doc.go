// Package pool
// Author: momentics <momentics@gmail.com>
//
// Output buffer memory for channels.
// SlabPool is a bounded arena of frame-sized slots addressed by index and
// guarded by a mutex so a server can share one between its channels.
// ChannelPool layers a per-channel ceiling, fragment ids and Buffer objects
// on top of one or two arenas.
// See slab_pool.go, channel_pool.go, buffer.go for implementation details.
package pool
