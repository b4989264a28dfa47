// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for ripc components.

package benchmarks

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/pool"
	"github.com/momentics/hioload-ripc/protocol"
	"github.com/momentics/hioload-ripc/transport"
)

// BenchmarkChannelPoolGetRelease measures slot checkout and return.
func BenchmarkChannelPoolGetRelease(b *testing.B) {
	cp, err := pool.NewChannelPool(pool.ChannelPoolConfig{
		MaxFragmentSize: api.DefaultMaxFragmentSize,
		Guaranteed:      api.DefaultGuaranteedOutputBuffers,
		Max:             api.DefaultMaxOutputBuffers,
		Version:         protocol.NewestVersion,
	})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, err := cp.Get(512, false)
		if err != nil {
			b.Fatal(err)
		}
		cp.Release(buf)
	}
}

// BenchmarkFrameParse measures header parsing of buffered frames.
func BenchmarkFrameParse(b *testing.B) {
	frame := make([]byte, 1024+protocol.HeaderLength)
	if _, err := protocol.FinishFrame(frame, 1024, 0); err != nil {
		b.Fatal(err)
	}
	in := protocol.NewInputBuffer(64 * 1024)
	b.SetBytes(int64(len(frame)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		in.Append(frame)
		if _, err := in.Next(protocol.NewestVersion); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkCodec(b *testing.B, ct protocol.CompressionType) {
	codec, err := protocol.NewCodec(ct, 6)
	if err != nil {
		b.Fatal(err)
	}
	src := bytes.Repeat([]byte("bid 101.25 ask 101.50 size 300;"), 64)
	dst := make([]byte, len(src))
	out := make([]byte, len(src))
	b.SetBytes(int64(len(src)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n, err := codec.Compress(dst, src)
		if err != nil || n == 0 {
			b.Fatalf("compress: n=%d err=%v", n, err)
		}
		if _, err := codec.Decompress(out, dst[:n]); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecZlib(b *testing.B) { benchmarkCodec(b, protocol.CompressionZlib) }
func BenchmarkCodecLZ4(b *testing.B)  { benchmarkCodec(b, protocol.CompressionLZ4) }

// BenchmarkChannelRoundTrip measures a blocking write and echo over
// loopback.
func BenchmarkChannelRoundTrip(b *testing.B) {
	rt := transport.NewRuntimeWithLogger(api.InitArgs{}, zerolog.Nop())
	bind := api.DefaultBindOptions("127.0.0.1:0")
	bind.Blocking = true
	srv, err := rt.Bind(bind)
	if err != nil {
		b.Fatal(err)
	}
	defer srv.Close()

	accepted := make(chan *transport.Channel, 1)
	go func() {
		sc, err := srv.Accept(api.AcceptOptions{})
		if err != nil {
			close(accepted)
			return
		}
		accepted <- sc
		for {
			msg, err := read(sc)
			if err != nil {
				return
			}
			if write(sc, msg) != nil {
				return
			}
		}
	}()

	opts := api.DefaultConnectOptions(srv.Addr().String())
	opts.Blocking = true
	cli, err := rt.Connect(opts)
	if err != nil {
		b.Fatal(err)
	}
	sc := <-accepted
	if sc == nil {
		b.Fatal("accept failed")
	}
	defer sc.Close()
	defer cli.Close()

	payload := make([]byte, 256)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := write(cli, payload); err != nil {
			b.Fatal(err)
		}
		if _, err := read(cli); err != nil {
			b.Fatal(err)
		}
	}
}

func write(c *transport.Channel, payload []byte) error {
	buf, err := c.GetBuffer(len(payload), false)
	if err != nil {
		return err
	}
	if _, err := buf.Write(payload); err != nil {
		return err
	}
	if _, err := c.Write(buf, &api.WriteArgs{Flags: api.WriteDirectSocketWrite}); err != nil {
		return err
	}
	for {
		code, err := c.Flush()
		if err != nil || code == api.Success {
			return err
		}
	}
}

func read(c *transport.Channel) ([]byte, error) {
	for {
		var args api.ReadArgs
		msg, err := c.Read(&args)
		if err != nil || msg != nil {
			return msg, err
		}
	}
}
