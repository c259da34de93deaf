package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fieldwork/fieldsync/internal/types"
)

var (
	fetchPage     int
	fetchPageSize int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <tasks|reports|trees|species>",
	Short: "Fetch a page of records, falling back to the local cache when offline",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().IntVar(&fetchPage, "page", 1, "Page number (1-based)")
	fetchCmd.Flags().IntVar(&fetchPageSize, "page-size", 0, "Records per page (default 20)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	resource, err := types.ParseResource(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.registry.Fetch(cmd.Context(), resource, fetchPage, fetchPageSize)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}
	return renderPage(cmd.OutOrStdout(), result)
}

func renderPage(w io.Writer, result any) error {
	switch p := result.(type) {
	case types.CachedPage[types.Task]:
		t := newTable(w, "ID", "TITLE", "TREE", "STATUS", "DUE")
		for _, r := range p.Data {
			due := "-"
			if r.DueDate != nil {
				due = r.DueDate.Format("2006-01-02")
			}
			t.AppendRow(table.Row{r.ID, r.Title, orDash(r.TreeID), r.Status, due})
		}
		renderWithFooter(w, t, p.Page, p.PageCount, p.Total, p.FetchedAt.IsZero())
	case types.CachedPage[types.Report]:
		t := newTable(w, "ID", "TREE", "TYPE", "STATUS", "CREATED")
		for _, r := range p.Data {
			t.AppendRow(table.Row{r.ID, r.TreeID, r.Type, r.Status, r.CreatedAt.Format("2006-01-02 15:04")})
		}
		renderWithFooter(w, t, p.Page, p.PageCount, p.Total, p.FetchedAt.IsZero())
	case types.CachedPage[types.Tree]:
		t := newTable(w, "ID", "SPECIES", "LAT", "LON", "HEIGHT CM", "STATUS")
		for _, r := range p.Data {
			t.AppendRow(table.Row{r.ID, r.SpeciesID, r.Latitude, r.Longitude, r.HeightCM, r.Status})
		}
		renderWithFooter(w, t, p.Page, p.PageCount, p.Total, p.FetchedAt.IsZero())
	case types.CachedPage[types.Species]:
		t := newTable(w, "ID", "COMMON NAME", "SCIENTIFIC NAME")
		for _, r := range p.Data {
			t.AppendRow(table.Row{r.ID, r.CommonName, r.ScientificName})
		}
		renderWithFooter(w, t, p.Page, p.PageCount, p.Total, p.FetchedAt.IsZero())
	default:
		return fmt.Errorf("unexpected page type %T", result)
	}
	return nil
}

func renderWithFooter(w io.Writer, t table.Writer, page, pageCount, total int, empty bool) {
	if t.Length() == 0 {
		if empty {
			fmt.Fprintln(w, "No records available offline.")
		} else {
			fmt.Fprintln(w, "No records.")
		}
	} else {
		t.Render()
	}
	fmt.Fprintf(w, "Page %d of %d (%d total)\n", page, pageCount, total)
}
