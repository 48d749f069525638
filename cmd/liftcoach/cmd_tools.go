package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.AddCommand(toolsListCmd, toolsSchemaCmd)
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect the tool catalog offered to the model",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := newToolRegistry(nil)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tOWNER\tSIGNED-IN\tDESCRIPTION")
		for _, d := range registry.All() {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", d.Name, d.Owner, d.RequiresPrincipal, d.Description)
		}
		return w.Flush()
	},
}

var toolsSchemaCmd = &cobra.Command{
	Use:   "schema <name>",
	Short: "Print the JSON schema of a tool's arguments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := newToolRegistry(nil)
		if err != nil {
			return err
		}
		d, err := registry.Resolve(args[0])
		if err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(d.Schema, &v); err != nil {
			return fmt.Errorf("decode schema: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	},
}
