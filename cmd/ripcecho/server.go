package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-ripc/affinity"
	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/control"
	"github.com/momentics/hioload-ripc/protocol"
	"github.com/momentics/hioload-ripc/reactor"
	"github.com/momentics/hioload-ripc/transport"
)

func serverCmd() *cobra.Command {
	var (
		addr        string
		config      string
		compression string
		metricsAddr string
		sharedPool  int
		cpu         int
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run an echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			initArgs := api.InitArgs{}
			opts := api.DefaultBindOptions(addr)
			if config != "" {
				file, err := control.LoadFile(config)
				if err != nil {
					return err
				}
				initArgs = file.Init
				if file.HasBind {
					opts = file.Bind
				}
				if cmd.Flags().Changed("addr") || opts.Address == "" {
					opts.Address = addr
				}
			}
			if compression != "" {
				ct, err := protocol.ParseCompressionType(compression)
				if err != nil {
					return err
				}
				opts.CompressionType = ct
			}
			if cmd.Flags().Changed("shared-pool") {
				opts.SharedPoolSize = sharedPool
			}
			// the reactor drives every channel
			opts.Blocking = false

			if cpu >= 0 {
				if err := affinity.Pin(cpu); err != nil {
					return err
				}
				log.Info().Int("cpu", cpu).Msg("event loop pinned")
			}

			reg := prometheus.NewRegistry()
			initArgs.Registerer = reg
			if metricsAddr != "" {
				go serveMetrics(metricsAddr, reg)
			}
			return runEchoServer(transport.NewRuntime(initArgs), opts)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":14002", "listen address")
	cmd.Flags().StringVarP(&config, "config", "c", "", "TOML config file with a [bind] table")
	cmd.Flags().StringVar(&compression, "compression", "", "compression type: none, zlib or lz4")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on this address")
	cmd.Flags().IntVar(&sharedPool, "shared-pool", 0, "shared output buffers across channels")
	cmd.Flags().IntVar(&cpu, "cpu", -1, "pin the event loop to this CPU")

	return cmd
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

// echoConn is one channel watched by the reactor.
type echoConn struct {
	ch *transport.Channel
	fd int
	// pending is a big echo waiting for output buffers.
	pending api.Buffer
	args    api.WriteArgs
	writing bool
}

type echoServer struct {
	rt    *transport.Runtime
	srv   *transport.Server
	poll  reactor.Poller
	conns map[int]*echoConn
}

func runEchoServer(rt *transport.Runtime, opts api.BindOptions) error {
	srv, err := rt.Bind(opts)
	if err != nil {
		return err
	}
	defer srv.Close()
	poll, err := reactor.New()
	if err != nil {
		return err
	}
	defer poll.Close()
	if err := poll.Add(srv.Socket(), reactor.Readable); err != nil {
		return err
	}

	s := &echoServer{rt: rt, srv: srv, poll: poll, conns: make(map[int]*echoConn)}
	defer s.closeAll()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	fmt.Printf("echo server listening on %s\n", srv.Addr())
	events := make([]reactor.Event, 128)
	lastPing := time.Now()
	for {
		select {
		case <-stop:
			log.Info().Msg("shutting down")
			return nil
		default:
		}
		n, err := poll.Wait(events, time.Second)
		if err != nil {
			return err
		}
		for _, ev := range events[:n] {
			if ev.Fd == srv.Socket() {
				s.acceptAll()
				continue
			}
			if c, ok := s.conns[ev.Fd]; ok {
				s.serve(c, ev)
			}
		}
		if now := time.Now(); now.Sub(lastPing) >= time.Second {
			lastPing = now
			s.checkPings(now)
		}
	}
}

func (s *echoServer) acceptAll() {
	for {
		ch, err := s.srv.Accept(api.AcceptOptions{})
		if err != nil {
			if api.CodeOf(err) != api.ReadWouldBlock {
				log.Warn().Err(err).Msg("accept")
			}
			return
		}
		c := &echoConn{ch: ch, fd: ch.Socket()}
		if err := s.poll.Add(c.fd, reactor.Readable); err != nil {
			log.Warn().Err(err).Msg("watch channel")
			_, _ = ch.Close()
			continue
		}
		s.conns[c.fd] = c
	}
}

func (s *echoServer) serve(c *echoConn, ev reactor.Event) {
	if c.ch.State() == api.ChannelInitializing {
		var info api.InProgInfo
		code, err := c.ch.Init(&info)
		if err != nil {
			s.drop(c, err)
			return
		}
		if info.Flags&api.InProgSocketChange != 0 {
			s.rewatch(c, info.OldSocket, info.NewSocket)
		}
		if code == api.Success {
			ci, _ := c.ch.Info()
			log.Info().Str("channel", c.ch.ID()).Str("version", ci.ConnectionVersion.String()).
				Str("compression", ci.CompressionType.String()).Msg("channel active")
		}
		return
	}

	if ev.Ready&reactor.Writable != 0 {
		if err := s.flush(c); err != nil {
			s.drop(c, err)
			return
		}
	}
	// input may still be buffered inside the channel after a stall, so a
	// writable event reads as well
	if c.pending != nil {
		return
	}
	for {
		var args api.ReadArgs
		msg, err := c.ch.Read(&args)
		if err != nil {
			s.drop(c, err)
			return
		}
		if msg != nil {
			if err := s.echo(c, msg); err != nil {
				s.drop(c, err)
				return
			}
			if c.pending != nil {
				return
			}
			continue
		}
		if args.ReadRetVal != api.ReadPing && args.ReadRetVal <= 0 {
			return
		}
	}
}

// echo copies msg into a fresh buffer and writes it back.
func (s *echoServer) echo(c *echoConn, msg []byte) error {
	buf, err := c.ch.GetBuffer(len(msg), false)
	if err != nil {
		if api.CodeOf(err) == api.NoBuffers {
			log.Warn().Str("channel", c.ch.ID()).Msg("out of buffers, message dropped")
			return s.wantWrite(c, true)
		}
		return err
	}
	if _, err := buf.Write(msg); err != nil {
		_ = c.ch.ReleaseBuffer(buf)
		return err
	}
	c.pending, c.args = buf, api.WriteArgs{Priority: api.PriorityMedium}
	return s.resume(c)
}

// resume keeps writing the pending buffer until it is queued or the
// channel runs out of output buffers.
func (s *echoServer) resume(c *echoConn) error {
	for c.pending != nil {
		code, err := c.ch.Write(c.pending, &c.args)
		switch {
		case code == api.WriteCallAgain:
			continue
		case code == api.NoBuffers:
			return s.wantWrite(c, true)
		case err != nil:
			c.pending = nil
			return err
		}
		c.pending = nil
		if code > 0 {
			return s.wantWrite(c, true)
		}
	}
	return nil
}

func (s *echoServer) flush(c *echoConn) error {
	code, err := c.ch.Flush()
	if err != nil {
		return err
	}
	if c.pending != nil {
		if err := s.resume(c); err != nil {
			return err
		}
		if c.pending != nil {
			return nil
		}
		code, err = c.ch.Flush()
		if err != nil {
			return err
		}
	}
	return s.wantWrite(c, code > 0)
}

func (s *echoServer) wantWrite(c *echoConn, on bool) error {
	if on == c.writing {
		return nil
	}
	in := reactor.Readable
	if on {
		in |= reactor.Writable
	}
	c.writing = on
	return s.poll.Modify(c.fd, in)
}

func (s *echoServer) rewatch(c *echoConn, oldFd, newFd int) {
	delete(s.conns, oldFd)
	if err := reactor.Switch(s.poll, oldFd, newFd, reactor.Readable); err != nil {
		s.drop(c, err)
		return
	}
	c.fd, c.writing = newFd, false
	s.conns[newFd] = c
}

func (s *echoServer) checkPings(now time.Time) {
	for _, c := range s.conns {
		if c.ch.State() != api.ChannelActive {
			continue
		}
		code, err := c.ch.CheckPings(now)
		if err != nil {
			s.drop(c, err)
			continue
		}
		if code > 0 {
			if err := s.wantWrite(c, true); err != nil {
				s.drop(c, err)
			}
		}
	}
}

func (s *echoServer) drop(c *echoConn, cause error) {
	var apiErr *api.Error
	if errors.As(cause, &apiErr) && apiErr.Code == api.InitRefused {
		log.Info().Str("channel", c.ch.ID()).Msg("handshake refused")
	} else {
		log.Info().Err(cause).Str("channel", c.ch.ID()).Msg("channel dropped")
	}
	_ = s.poll.Remove(c.fd)
	delete(s.conns, c.fd)
	if c.pending != nil {
		_ = c.ch.ReleaseBuffer(c.pending)
		c.pending = nil
	}
	_, _ = c.ch.Close()
}

func (s *echoServer) closeAll() {
	for _, c := range s.conns {
		_ = s.poll.Remove(c.fd)
		_, _ = c.ch.Close()
	}
	s.conns = nil
}
