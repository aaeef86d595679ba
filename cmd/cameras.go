package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/smazurov/camgraph/internal/pipeline"
	"github.com/spf13/cobra"
)

// CreateCamerasCmd creates the cameras command.
func CreateCamerasCmd() *cobra.Command {
	var cameras int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "cameras",
		Short: "List cameras and their maximum resolution",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			reg, err := pipeline.NewRegistry(newSimFramework(cameras), pipeline.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = reg.Close() }()

			infos := reg.Cameras()
			if asJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			tw := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CAMERA\tMAX WIDTH\tMAX HEIGHT\tOUTPUTS")
			for _, info := range infos {
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", info.Index, info.MaxWidth, info.MaxHeight, pipeline.MaxOutputsPerCamera)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&cameras, "sim-cameras", 1, "Number of simulated cameras")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
