package transport_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/transport"
)

const testTimeout = 10 * time.Second

type harness struct {
	t   *testing.T
	rt  *transport.Runtime
	srv *transport.Server
}

func newHarness(t *testing.T, args api.InitArgs, bind func(*api.BindOptions)) *harness {
	t.Helper()
	rt := transport.NewRuntimeWithLogger(args, zerolog.Nop())
	o := api.DefaultBindOptions("127.0.0.1:0")
	if bind != nil {
		bind(&o)
	}
	srv, err := rt.Bind(o)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return &harness{t: t, rt: rt, srv: srv}
}

func (h *harness) connectOptions() api.ConnectOptions {
	return api.DefaultConnectOptions(h.srv.Addr().String())
}

type established struct {
	client        *transport.Channel
	server        *transport.Channel
	clientCode    api.ReturnCode
	clientErr     error
	socketChanges int
	refused       int
}

// establish drives a non-blocking client and every server channel it
// causes until the client finishes its handshake one way or the other.
func (h *harness) establish(opts api.ConnectOptions, accept api.AcceptOptions) established {
	t := h.t
	t.Helper()
	cli, err := h.rt.Connect(opts)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _, _ = cli.Close() })

	res := established{client: cli}
	var pending []*transport.Channel
	clientDone := false
	deadline := time.Now().Add(testTimeout)
	for {
		sc, err := h.srv.Accept(accept)
		switch {
		case err == nil:
			t.Cleanup(func() { _, _ = sc.Close() })
			pending = append(pending, sc)
		case api.CodeOf(err) != api.ReadWouldBlock:
			t.Fatalf("accept: %v", err)
		}

		kept := pending[:0]
		for _, sc := range pending {
			code, err := sc.Init(nil)
			switch {
			case code == api.Success:
				res.server = sc
			case code == api.InitRefused:
				res.refused++
			case err != nil:
				// dropped; the client sees the hangup and rolls back
			default:
				kept = append(kept, sc)
			}
		}
		pending = kept

		if !clientDone {
			var info api.InProgInfo
			code, err := cli.Init(&info)
			if info.Flags&api.InProgSocketChange != 0 {
				res.socketChanges++
			}
			if err != nil || code == api.Success {
				clientDone = true
				res.clientCode, res.clientErr = code, err
			}
		}
		if clientDone && (res.clientErr != nil || res.server != nil) {
			return res
		}
		if time.Now().After(deadline) {
			t.Fatalf("handshake did not finish within %s", testTimeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// pair returns an active client and its server channel.
func (h *harness) pair(mutate func(*api.ConnectOptions)) (*transport.Channel, *transport.Channel) {
	h.t.Helper()
	o := h.connectOptions()
	if mutate != nil {
		mutate(&o)
	}
	res := h.establish(o, api.AcceptOptions{})
	if res.clientErr != nil {
		h.t.Fatalf("client init: %v", res.clientErr)
	}
	return res.client, res.server
}

// send writes payload as one message and flushes it out.
func send(t *testing.T, c *transport.Channel, payload []byte, args api.WriteArgs) api.WriteArgs {
	t.Helper()
	buf, err := c.GetBuffer(len(payload), false)
	if err != nil {
		t.Fatalf("get buffer: %v", err)
	}
	if _, err := buf.Write(payload); err != nil {
		t.Fatalf("fill buffer: %v", err)
	}
	deadline := time.Now().Add(testTimeout)
	for {
		code, err := c.Write(buf, &args)
		if code == api.WriteCallAgain || code == api.NoBuffers {
			if _, err := c.Flush(); err != nil {
				t.Fatalf("flush: %v", err)
			}
			if time.Now().After(deadline) {
				t.Fatalf("write did not finish")
			}
			continue
		}
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		break
	}
	flushAll(t, c)
	return args
}

func flushAll(t *testing.T, c *transport.Channel) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		code, err := c.Flush()
		if err != nil {
			t.Fatalf("flush: %v", err)
		}
		if code == api.Success {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("flush left %d bytes queued", code)
		}
		time.Sleep(time.Millisecond)
	}
}

// recv returns the next message, skipping heartbeats. The message is
// copied since the channel reuses its input buffer.
func recv(t *testing.T, c *transport.Channel) ([]byte, api.ReadArgs) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		var args api.ReadArgs
		msg, err := c.Read(&args)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg != nil {
			return append([]byte(nil), msg...), args
		}
		if time.Now().After(deadline) {
			t.Fatalf("no message within %s", testTimeout)
		}
		if args.ReadRetVal == api.ReadWouldBlock {
			time.Sleep(time.Millisecond)
		}
	}
}
