// Command ripcecho runs an echo server and client over the transport.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/control"
	"github.com/momentics/hioload-ripc/internal/logging"
	"github.com/momentics/hioload-ripc/protocol"
)

var log = logging.New("ripcecho")

func main() {
	rootCmd := &cobra.Command{
		Use:   "ripcecho",
		Short: "Echo server and client for the ripc transport",
		Long: `ripcecho exercises the transport end to end.

The server echoes every message it reads back to the sender. The client
sends messages of a chosen size and checks each echo; info connects and
prints the negotiated channel parameters.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serverCmd(),
		clientCmd(),
		infoCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// clientFlags are shared by the commands that dial.
type clientFlags struct {
	addr        string
	config      string
	compression string
	version     string
	noKeys      bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.addr, "addr", "a", "127.0.0.1:14002", "server address")
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "TOML config file with a [connect] table")
	cmd.Flags().StringVar(&f.compression, "compression", "", "offer compression: none, zlib or lz4")
	cmd.Flags().StringVar(&f.version, "version", "", "highest connection version to try, e.g. ripc13")
	cmd.Flags().BoolVar(&f.noKeys, "no-key-exchange", false, "do not offer key exchange")
}

// options builds blocking connect options; flags override the file.
func (f *clientFlags) options(cmd *cobra.Command) (api.InitArgs, api.ConnectOptions, error) {
	var args api.InitArgs
	opts := api.DefaultConnectOptions(f.addr)
	if f.config != "" {
		file, err := control.LoadFile(f.config)
		if err != nil {
			return args, opts, err
		}
		args = file.Init
		if file.HasConnect {
			opts = file.Connect
		}
		if cmd.Flags().Changed("addr") || opts.Address == "" {
			opts.Address = f.addr
		}
	}
	if f.compression != "" {
		ct, err := protocol.ParseCompressionType(f.compression)
		if err != nil {
			return args, opts, err
		}
		opts.CompressionType = ct
	}
	if f.version != "" {
		v, err := protocol.ParseConnectionVersion(f.version)
		if err != nil {
			return args, opts, err
		}
		opts.ConnectionVersion = v
	}
	if f.noKeys {
		opts.KeyExchange = false
	}
	opts.Blocking = true
	return args, opts, nil
}
