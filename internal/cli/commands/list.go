package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/opencache-labs/casctl/internal/conf"
	"github.com/opencache-labs/casctl/internal/dag"
	"github.com/opencache-labs/casctl/internal/engine"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the declared topology in activation order",
		Long: `Parse opencas.conf and print every declared cache and core in the order
the activation engine would bring them up, together with the dependencies
driving that order. Nothing is probed; this inspects the declaration only.

Use --output to select the format: table, csv, json.`,
		Example: `  # Activation order as a table
  casctl list

  # Machine-readable form
  casctl list --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			topology, err := cmdCtx.loadTopology(true)
			if err != nil {
				return err
			}
			return runList(cmd, cmdCtx, topology)
		},
	}

	return cmd
}

// listedEntry is one row of the activation-order listing.
type listedEntry struct {
	Type      string   `json:"type"`
	ID        string   `json:"id"`
	Device    string   `json:"device"`
	Mode      string   `json:"mode,omitempty"`
	Exports   string   `json:"exports,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

func runList(cmd *cobra.Command, cmdCtx *CommandContext, topology *conf.Config) error {
	graph, err := dag.BuildTopology(topology, engine.ExportedDeviceResolver{})
	if err != nil {
		return &ExitError{Code: engine.ExitCycle, Err: err}
	}

	sorted, err := graph.TopologicalSort()
	if err != nil {
		return &ExitError{Code: engine.ExitCycle, Err: err}
	}

	entries := make([]listedEntry, 0, len(sorted))
	for _, node := range sorted {
		switch v := node.Data.(type) {
		case *conf.Cache:
			entries = append(entries, listedEntry{
				Type:      "cache",
				ID:        fmt.Sprintf("%d", v.ID),
				Device:    v.Device,
				Mode:      string(v.Mode),
				DependsOn: graph.GetParents(node.ID),
			})
		case *conf.Core:
			entries = append(entries, listedEntry{
				Type:      "core",
				ID:        fmt.Sprintf("%d-%d", v.CacheID, v.CoreID),
				Device:    v.Device,
				Exports:   v.ExportedDevice(),
				DependsOn: graph.GetParents(node.ID),
			})
		}
	}

	switch cmdCtx.Config.Output {
	case "json":
		return listJSON(cmd.OutOrStdout(), entries)
	case "csv":
		return listTable(cmd.OutOrStdout(), entries, true)
	default:
		return listTable(cmd.OutOrStdout(), entries, false)
	}
}

func listJSON(w io.Writer, entries []listedEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func listTable(w io.Writer, entries []listedEntry, csv bool) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Type", "ID", "Device", "Mode", "Exports", "Depends On"})

	for i, e := range entries {
		t.AppendRow(table.Row{
			i + 1, e.Type, e.ID, e.Device, e.Mode, e.Exports, strings.Join(e.DependsOn, ", "),
		})
	}

	if csv {
		t.RenderCSV()
	} else {
		t.Render()
	}
	return nil
}
