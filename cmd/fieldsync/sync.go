package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued submissions against the backend",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	res := a.drainer.Drain(cmd.Context())
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sent %d, failed %d\n", res.Succeeded, res.Failed)
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  %s\n", e)
	}
	return nil
}
