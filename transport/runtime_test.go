package transport_test

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/transport"
)

func TestInitializeRefCount(t *testing.T) {
	if _, err := transport.Connect(api.DefaultConnectOptions("127.0.0.1:1")); api.CodeOf(err) != api.InitNotInitialized {
		t.Fatalf("connect before init: %v", err)
	}
	if _, err := transport.Bind(api.DefaultBindOptions("127.0.0.1:0")); api.CodeOf(err) != api.InitNotInitialized {
		t.Fatalf("bind before init: %v", err)
	}
	if code, _ := transport.Uninitialize(); code != api.InitNotInitialized {
		t.Fatalf("uninitialize without init = %v", code)
	}

	for i := 0; i < 2; i++ {
		if code, err := transport.Initialize(api.InitArgs{}); code != api.Success || err != nil {
			t.Fatalf("initialize: %v %v", code, err)
		}
	}
	rt := transport.Default()
	if rt == nil {
		t.Fatal("no default runtime after initialize")
	}
	if _, _ = transport.Uninitialize(); transport.Default() != rt {
		t.Fatal("default runtime dropped while still referenced")
	}

	srv, err := transport.Bind(api.DefaultBindOptions("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	_ = srv.Close()

	if code, err := transport.Uninitialize(); code != api.Success || err != nil {
		t.Fatalf("last uninitialize: %v %v", code, err)
	}
	if transport.Default() != nil {
		t.Error("default runtime survived the last uninitialize")
	}
}

func TestRuntime_DumpStateAndGauges(t *testing.T) {
	h := newHarness(t, api.InitArgs{}, func(o *api.BindOptions) { o.SharedPoolSize = 4 })
	cli, srv := h.pair(nil)

	state := h.rt.DumpState()
	channels, servers := 0, 0
	for name := range state {
		switch {
		case strings.HasPrefix(name, "channel/"):
			channels++
		case strings.HasPrefix(name, "server/"):
			servers++
		}
	}
	if channels != 2 || servers != 1 {
		t.Errorf("probes: %d channels, %d servers", channels, servers)
	}
	if _, ok := state["channel/"+cli.ID()]; !ok {
		t.Errorf("client probe missing")
	}
	if got := testutil.ToFloat64(h.rt.Metrics().ChannelsActive); got != 2 {
		t.Errorf("active channels = %v, want 2", got)
	}

	_, _ = cli.Close()
	_, _ = srv.Close()
	if got := testutil.ToFloat64(h.rt.Metrics().ChannelsActive); got != 0 {
		t.Errorf("active channels after close = %v", got)
	}
	if _, ok := h.rt.DumpState()["channel/"+cli.ID()]; ok {
		t.Errorf("closed channel still probed")
	}
}

func TestServer_SharedPool(t *testing.T) {
	h := newHarness(t, api.InitArgs{}, func(o *api.BindOptions) {
		o.GuaranteedOutputBuffers = 1
		o.MaxOutputBuffers = 3
		o.SharedPoolSize = 4
	})
	_, sc := h.pair(nil)

	var held []api.Buffer
	for i := 0; i < 3; i++ {
		b, err := sc.GetBuffer(16, false)
		if err != nil {
			t.Fatalf("buffer %d: %v", i, err)
		}
		held = append(held, b)
	}
	if _, err := sc.GetBuffer(16, false); api.CodeOf(err) != api.NoBuffers {
		t.Fatalf("buffer past max: %v", err)
	}
	info, err := h.srv.Info()
	if err != nil {
		t.Fatalf("server info: %v", err)
	}
	if info.CurrentBufferUsage != 2 || info.PeakBufferUsage != 2 || info.SharedPoolSize != 4 {
		t.Errorf("shared pool = %+v, want 2 in use of 4", info)
	}

	for _, b := range held {
		if err := sc.ReleaseBuffer(b); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
	info, _ = h.srv.Info()
	if info.CurrentBufferUsage != 0 || info.PeakBufferUsage != 2 {
		t.Errorf("after release = %+v", info)
	}
	if code, err := h.srv.IOCtl(api.IOCtlServerPeakReset, nil); code != api.Success || err != nil {
		t.Fatalf("peak reset: %v %v", code, err)
	}
	if code, _ := h.srv.IOCtl(api.IOCtlServerNumPoolBuffers, 8); code != api.Success {
		t.Fatalf("resize shared pool = %v", code)
	}
	info, _ = h.srv.Info()
	if info.PeakBufferUsage != 0 || info.SharedPoolSize != 8 {
		t.Errorf("after reset = %+v", info)
	}
	if code, _ := h.srv.IOCtl(api.IOCtlHighWaterMark, 10); code != api.InvalidArgument {
		t.Errorf("channel option on server = %v", code)
	}
	if code, _ := h.srv.IOCtl(api.IOCtlServerNumPoolBuffers, -1); code != api.InvalidArgument {
		t.Errorf("negative pool size = %v", code)
	}

	_ = h.srv.Close()
	if _, err := h.srv.Accept(api.AcceptOptions{}); err == nil {
		t.Error("accept on a closed server succeeded")
	}
	if err := h.srv.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestServer_AcceptNonBlocking(t *testing.T) {
	h := newHarness(t, api.InitArgs{}, nil)
	if _, err := h.srv.Accept(api.AcceptOptions{}); api.CodeOf(err) != api.ReadWouldBlock {
		t.Fatalf("accept with nothing pending: %v", err)
	}

	nc, err := net.Dial("tcp", h.srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()

	deadline := time.Now().Add(testTimeout)
	for {
		sc, err := h.srv.Accept(api.AcceptOptions{})
		if err == nil {
			defer sc.Close()
			if sc.State() != api.ChannelInitializing {
				t.Errorf("accepted channel state = %s", sc.State())
			}
			return
		}
		if api.CodeOf(err) != api.ReadWouldBlock {
			t.Fatalf("accept with a pending connection: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("pending connection never accepted")
		}
		time.Sleep(time.Millisecond)
	}
}
