package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fieldwork/fieldsync/internal/netmon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, queue, and last sync",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	st := a.status(ctx, netmon.Reachable(ctx, a.prober))
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), st)
	}

	out := cmd.OutOrStdout()
	conn := "offline"
	if st.Online {
		conn = "online"
	}
	fmt.Fprintf(out, "Backend:    %s (%s)\n", cfg.API.BaseURL, conn)
	fmt.Fprintf(out, "Queue:      %d pending\n", st.QueueLength)

	last := "never"
	if st.LastSync != nil {
		last = ago(*st.LastSync)
	}
	fmt.Fprintf(out, "Last sync:  %s\n", last)
	if st.SyncStatus != nil {
		line := string(st.SyncStatus.State)
		if st.SyncStatus.Message != "" {
			line += ": " + st.SyncStatus.Message
		}
		fmt.Fprintf(out, "Sync state: %s\n", line)
	}
	if st.Tiles != nil {
		fmt.Fprintf(out, "Tiles:      %s (%s)\n",
			humanize.Comma(int64(st.Tiles.Tiles)), humanize.Bytes(uint64(st.Tiles.Bytes)))
	}
	if st.Storage != nil {
		fmt.Fprintf(out, "Storage:    %s keys (%s)\n",
			humanize.Comma(st.Storage.Keys), humanize.Bytes(uint64(st.Storage.Bytes)))
	}
	return nil
}
