// File: transport/runtime.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime: shared logger, metrics and debug probes for a set of channels,
// plus the process-wide default runtime with reference-counted init.

package transport

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/control"
	"github.com/momentics/hioload-ripc/internal/logging"
	"github.com/momentics/hioload-ripc/protocol"
)

// Runtime owns the state shared by the channels and servers created from
// it.
type Runtime struct {
	args    api.InitArgs
	log     zerolog.Logger
	metrics *control.Metrics
	probes  *control.DebugProbes
}

// NewRuntime builds a runtime. Tests and embedders use it directly; most
// programs go through Initialize.
func NewRuntime(args api.InitArgs) *Runtime {
	return newRuntime(args, logging.New("transport"))
}

// NewRuntimeWithLogger is NewRuntime with an explicit logger.
func NewRuntimeWithLogger(args api.InitArgs, log zerolog.Logger) *Runtime {
	return newRuntime(args, log)
}

func newRuntime(args api.InitArgs, log zerolog.Logger) *Runtime {
	rt := &Runtime{
		args:    args,
		log:     log,
		metrics: control.NewMetrics(args.Registerer),
		probes:  control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(rt.probes)
	return rt
}

// Metrics exposes the runtime's collectors.
func (rt *Runtime) Metrics() *control.Metrics { return rt.metrics }

// DumpState runs every registered probe: one per active channel and
// server plus the platform probes.
func (rt *Runtime) DumpState() map[string]any { return rt.probes.DumpState() }

// Connect creates a client channel and starts connecting. Blocking
// channels come back Active; non-blocking ones are Initializing and are
// driven with Init.
func (rt *Runtime) Connect(opts api.ConnectOptions) (*Channel, error) {
	if err := opts.Validate(); err != nil {
		return nil, api.WrapError(api.InvalidArgument, "connect", err)
	}
	c := newChannel(rt, roleClient)
	c.connOpts = opts
	c.proto, _ = protocol.NextProtocol(protocol.Protocol{}, opts.ConnectionVersion, opts.WireFormat)
	if !opts.KeyExchange {
		c.proto.KeyExchange = false
	}
	c.log.Debug().Str("addr", opts.Address).Str("protocol", c.proto.String()).Msg("connecting")
	c.startDial()
	if !opts.Blocking {
		return c, nil
	}
	for {
		code, err := c.Init(nil)
		if err != nil {
			return nil, err
		}
		if code == api.Success {
			return c, nil
		}
	}
}

var (
	defaultMu   sync.Mutex
	defaultRT   *Runtime
	defaultRefs int
)

// Initialize sets up the process default runtime. Every successful call
// must be matched by Uninitialize; only the first call's args are used.
func Initialize(args api.InitArgs) (api.ReturnCode, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRefs == 0 {
		defaultRT = NewRuntime(args)
	}
	defaultRefs++
	return api.Success, nil
}

// Uninitialize drops one reference to the default runtime.
func Uninitialize() (api.ReturnCode, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRefs == 0 {
		return api.InitNotInitialized, api.NewError(api.InitNotInitialized, "transport is not initialized")
	}
	defaultRefs--
	if defaultRefs == 0 {
		defaultRT = nil
	}
	return api.Success, nil
}

// Default returns the default runtime, nil when not initialized.
func Default() *Runtime {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRT
}

func defaultRuntime() (*Runtime, error) {
	if rt := Default(); rt != nil {
		return rt, nil
	}
	return nil, api.NewError(api.InitNotInitialized, "transport is not initialized")
}

// Connect uses the default runtime.
func Connect(opts api.ConnectOptions) (*Channel, error) {
	rt, err := defaultRuntime()
	if err != nil {
		return nil, err
	}
	return rt.Connect(opts)
}

// Bind uses the default runtime.
func Bind(opts api.BindOptions) (*Server, error) {
	rt, err := defaultRuntime()
	if err != nil {
		return nil, err
	}
	return rt.Bind(opts)
}
