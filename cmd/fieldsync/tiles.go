package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fieldwork/fieldsync/internal/config"
	"github.com/fieldwork/fieldsync/internal/tiles"
)

var (
	tileBBox  tiles.BBox
	tileZooms []int
)

var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "Download offline map tiles for a bounding box",
	Long:  "Download every tile covering the box at each zoom level. Tiles already on disk are skipped.",
	Args:  cobra.NoArgs,
	RunE:  runTiles,
}

func init() {
	f := tilesCmd.Flags()
	f.Float64Var(&tileBBox.North, "north", 0, "Northern latitude")
	f.Float64Var(&tileBBox.South, "south", 0, "Southern latitude")
	f.Float64Var(&tileBBox.East, "east", 0, "Eastern longitude")
	f.Float64Var(&tileBBox.West, "west", 0, "Western longitude")
	f.IntSliceVar(&tileZooms, "zoom", nil, "Zoom levels (default from config)")
	for _, name := range []string{"north", "south", "east", "west"} {
		tilesCmd.MarkFlagRequired(name)
	}
}

func runTiles(cmd *cobra.Command, args []string) error {
	if err := tileBBox.Validate(); err != nil {
		return err
	}
	zooms := tileZooms
	if len(zooms) == 0 {
		zooms = cfg.Tiles.ZoomLevels
	}
	for _, z := range zooms {
		if z < 0 || z > config.MaxZoom {
			return fmt.Errorf("zoom %d out of range [0, %d]", z, config.MaxZoom)
		}
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.tiles.Check(tileBBox, zooms); err != nil {
		return fmt.Errorf("%w; narrow the box or drop zoom levels (tiles.max_tiles)", err)
	}

	res := a.tiles.EnsureTilesForBounds(cmd.Context(), tileBBox, zooms)
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tiles: %d total, %d downloaded, %d already cached, %d failed\n",
		res.Total, res.Downloaded, res.Cached, res.Failed)
	if st, err := a.tiles.Stats(); err == nil {
		fmt.Fprintf(out, "Cache: %s tiles, %s on disk\n",
			humanize.Comma(int64(st.Tiles)), humanize.Bytes(uint64(st.Bytes)))
	}
	if !res.Success {
		return fmt.Errorf("tile download incomplete")
	}
	return nil
}
