package main

import (
	"encoding/hex"
	"fmt"

	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-ripc/api"
	"github.com/momentics/hioload-ripc/transport"
)

func infoCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Connect and print the negotiated channel parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			initArgs, opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			ch, err := transport.NewRuntime(initArgs).Connect(opts)
			if err != nil {
				return err
			}
			defer ch.Close()
			info, err := ch.Info()
			if err != nil {
				return err
			}
			fmt.Println(renderInfo(info))
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

// renderInfo formats channel parameters as a two-column table.
func renderInfo(info api.ChannelInfo) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Parameter", "Value"})

	key := "none"
	if len(info.SharedKey) > 0 {
		key = hex.EncodeToString(info.SharedKey[:8]) + "..."
	}
	rows := []table.Row{
		{"Channel", info.ID},
		{"Connection type", info.ConnectionType},
		{"Connection version", info.ConnectionVersion},
		{"Protocol version", fmt.Sprintf("%d.%d", info.MajorVersion, info.MinorVersion)},
		{"Peer component", info.PeerComponentVersion},
		{"Max fragment size", info.MaxFragmentSize},
		{"Output buffers", fmt.Sprintf("%d guaranteed, %d max", info.GuaranteedOutputBuffers, info.MaxOutputBuffers)},
		{"Input buffers", info.NumInputBuffers},
		{"Ping timeout", info.PingTimeout},
		{"Compression", fmt.Sprintf("%s (threshold %d)", info.CompressionType, info.CompressionThreshold)},
		{"Flush order", info.PriorityFlushOrder},
		{"High water mark", info.HighWaterMark},
		{"Socket buffers", fmt.Sprintf("send %d, recv %d", info.SysSendBufSize, info.SysRecvBufSize)},
		{"Key exchange", info.KeyExchange},
		{"Shared key", key},
	}
	for _, r := range rows {
		t.AppendRow(r)
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1},
		{Number: 2},
	})
	return t.Render()
}
