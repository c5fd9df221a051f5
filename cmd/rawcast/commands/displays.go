package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/rawcast/internal/capture"
	"github.com/spf13/cobra"
)

var displaysCmd = &cobra.Command{
	Use:   "displays",
	Short: "List displays visible to the capture backend",
	Long: `List the displays the selected capture backend can see, marking the
one 'rawcast stream' would capture.`,
	Example: `  # List displays in table format (default)
  rawcast displays

  # List displays seen by the screenshot backend as JSON
  rawcast displays --backend screenshot --format json`,
	Args: cobra.NoArgs,
	RunE: runDisplays,
}

var (
	displaysFormat  string
	displaysBackend string
)

func init() {
	rootCmd.AddCommand(displaysCmd)

	displaysCmd.Flags().StringVarP(&displaysFormat, "format", "f", "table", "output format (table or json)")
	displaysCmd.Flags().StringVarP(&displaysBackend, "backend", "b", "", "capture backend (default from config)")
}

func runDisplays(cmd *cobra.Command, args []string) error {
	name := displaysBackend
	if name == "" {
		cfg, err := configMgr.Get()
		if err != nil {
			return err
		}
		name = cfg.Capture.Backend
	}

	backend, err := capture.NewBackend(name)
	if err != nil {
		return err
	}
	defer backend.Close()

	displays, err := backend.Displays()
	if err != nil {
		return fmt.Errorf("failed to list displays: %w", err)
	}

	switch displaysFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(displays)
	case "table":
		return printDisplaysTable(os.Stdout, displays)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", displaysFormat)
	}
}

func printDisplaysTable(out io.Writer, displays []capture.Display) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "INDEX\tNAME\tBACKEND\tSIZE\tOFFSET\tPRIMARY")
	fmt.Fprintln(w, "-----\t----\t-------\t----\t------\t-------")

	for _, d := range displays {
		primary := "No"
		if d.Primary {
			primary = "Yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%dx%d\t+%d+%d\t%s\n",
			d.Index, d.Name, d.Backend,
			d.Bounds.Dx(), d.Bounds.Dy(), d.Bounds.Min.X, d.Bounds.Min.Y,
			primary)
	}

	return w.Flush()
}
