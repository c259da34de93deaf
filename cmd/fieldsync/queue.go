package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fieldwork/fieldsync/internal/types"
	"github.com/fieldwork/fieldsync/internal/validation"
)

var clearForce bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage submissions waiting to sync",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued submissions in send order",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Discard one queued submission",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRemove,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued submission",
	Long:  "Permanently discard every queued submission. Requires --force or interactive confirmation.",
	Args:  cobra.NoArgs,
	RunE:  runQueueClear,
}

func init() {
	queueClearCmd.Flags().BoolVar(&clearForce, "force", false,
		"Skip confirmation prompt")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRemoveCmd)
	queueCmd.AddCommand(queueClearCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	items := a.queue.List(cmd.Context())
	if jsonOutput {
		resp := types.QueueResponse{Items: make([]types.QueueItem, 0, len(items)), Total: len(items)}
		for _, q := range items {
			resp.Items = append(resp.Items, types.NewQueueItem(q))
		}
		return printJSON(cmd.OutOrStdout(), resp)
	}

	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
		return nil
	}

	t := newTable(cmd.OutOrStdout(), "ID", "TYPE", "QUEUED", "ATTEMPTS", "LAST ERROR")
	for _, q := range items {
		attempts := fmt.Sprintf("%d/%d", q.RetryCount, types.MaxRetries)
		if q.AtRetryLimit() {
			attempts += " (last try)"
		}
		t.AppendRow(table.Row{q.ID, q.Type, ago(q.EnqueuedAt), attempts, orDash(truncate(q.LastError, 60))})
	}
	t.AppendFooter(table.Row{"", "", "", "TOTAL", len(items)})
	t.Render()
	return nil
}

func runQueueRemove(cmd *cobra.Command, args []string) error {
	id := args[0]
	if verr := validation.ValidateULID("id", id); verr != nil {
		return fmt.Errorf("invalid queue id: %s", verr)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if _, ok := a.queue.Get(ctx, id); !ok {
		return fmt.Errorf("queue item %s not found", id)
	}
	if err := a.queue.Remove(ctx, id); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"id": id, "removed": true})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	n := a.queue.Len(ctx)

	if !clearForce && n > 0 {
		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "WARNING: This will discard %d unsent submission(s).\n", n)
		fmt.Fprint(errOut, "Type 'clear' to confirm: ")

		input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(input) != "clear" {
			fmt.Fprintln(errOut, "Aborted.")
			return nil
		}
	}

	if err := a.queue.Clear(ctx); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"cleared": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d submission(s)\n", n)
	return nil
}
