package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/bryanchriswhite/rawcast/internal/frame"
	"github.com/spf13/cobra"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported pixel formats",
	Long: `List the pixel formats rawcast can normalize, with the name passed to
the encoder's -pixel_format option.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printFormatsTable(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

func printFormatsTable(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "NAME\tFFMPEG\tBYTES/PIXEL")
	fmt.Fprintln(w, "----\t------\t-----------")

	for _, f := range frame.Formats() {
		bpp := strconv.Itoa(f.BytesPerPixel())
		if f.Planar() {
			bpp = "planar"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f, f.FFmpegName(), bpp)
	}

	return w.Flush()
}
