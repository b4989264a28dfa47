package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/transport"
)

func clientCmd() *cobra.Command {
	var (
		flags    clientFlags
		count    int
		size     int
		priority string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send messages to an echo server and verify the replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 || size < 0 {
				return fmt.Errorf("count must be positive and size non-negative")
			}
			prio, err := parsePriority(priority)
			if err != nil {
				return err
			}
			initArgs, opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			rt := transport.NewRuntime(initArgs)
			ch, err := rt.Connect(opts)
			if err != nil {
				return err
			}
			defer ch.Close()

			payload := make([]byte, size)
			rand.New(rand.NewSource(time.Now().UnixNano())).Read(payload)

			var sent, wire int
			start := time.Now()
			for i := 0; i < count; i++ {
				wargs := api.WriteArgs{Priority: prio}
				if err := sendMessage(ch, payload, &wargs); err != nil {
					return fmt.Errorf("message %d: %w", i, err)
				}
				sent += wargs.UncompressedBytesWritten
				wire += wargs.BytesWritten
				echo, err := readMessage(ch)
				if err != nil {
					return fmt.Errorf("echo %d: %w", i, err)
				}
				if !bytes.Equal(echo, payload) {
					return fmt.Errorf("echo %d: payload mismatch (%d bytes back)", i, len(echo))
				}
			}
			elapsed := time.Since(start)
			fmt.Printf("%d messages of %d bytes echoed in %s (%.0f msg/s), %d bytes framed, %d on the wire\n",
				count, size, elapsed.Round(time.Millisecond), float64(count)/elapsed.Seconds(), sent, wire)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of messages")
	cmd.Flags().IntVarP(&size, "size", "s", 64, "message size in bytes")
	cmd.Flags().StringVar(&priority, "priority", "medium", "write priority: high, medium or low")

	return cmd
}

func parsePriority(s string) (api.WritePriority, error) {
	switch s {
	case "high", "h":
		return api.PriorityHigh, nil
	case "medium", "m", "":
		return api.PriorityMedium, nil
	case "low", "l":
		return api.PriorityLow, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// sendMessage writes payload on a blocking channel and flushes it.
func sendMessage(ch *transport.Channel, payload []byte, args *api.WriteArgs) error {
	buf, err := ch.GetBuffer(len(payload), false)
	if err != nil {
		return err
	}
	if _, err := buf.Write(payload); err != nil {
		_ = ch.ReleaseBuffer(buf)
		return err
	}
	for {
		code, err := ch.Write(buf, args)
		if code == api.WriteCallAgain || code == api.NoBuffers {
			if _, err := ch.Flush(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		break
	}
	for {
		code, err := ch.Flush()
		if err != nil {
			return err
		}
		if code == api.Success {
			return nil
		}
	}
}

// readMessage returns the next message, skipping heartbeats.
func readMessage(ch *transport.Channel) ([]byte, error) {
	for {
		var args api.ReadArgs
		msg, err := ch.Read(&args)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return append([]byte(nil), msg...), nil
		}
	}
}
