package cmd

import (
	"fmt"
	"image"
	"text/tabwriter"

	"github.com/MeKo-Tech/vidtally/internal/frames"
	"github.com/MeKo-Tech/vidtally/internal/region"
	"github.com/MeKo-Tech/vidtally/internal/utils"
	"github.com/spf13/cobra"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Inspect and convert region presets",
}

var regionsShowCmd = &cobra.Command{
	Use:   "show PRESET",
	Short: "Print the regions of a preset on the configured canvas",
	Long: `Load PRESET, rescale it to the configured canvas and print each region.
With --video the matching source pixel rectangle of the first frame is
printed as well.

Examples:
  vidtally regions show regions.yaml
  vidtally regions show regions.yaml --video session.mp4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		reg, err := loadPresetRegistry(args[0], cfg.ToSessionConfig().Regions)
		if err != nil {
			return err
		}

		var frame image.Rectangle
		if video, _ := cmd.Flags().GetString("video"); video != "" {
			frame, err = firstFrameBounds(video, cfg.ToSessionConfig().Frames)
			if err != nil {
				return err
			}
			canvas := reg.Options().Canvas
			t, err := utils.FitTransform(frame.Dx(), frame.Dy(), canvas.Dx(), canvas.Dy())
			if err != nil {
				return err
			}
			reg.SetTransform(t)
		}

		geom := reg.Geometry()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "FIELD\tSTATE\tCANVAS\tSOURCE")
		for _, sel := range reg.Selections() {
			canvasRect, source := "-", "-"
			if r, ok := geom.CanvasRect(sel.Field); ok {
				canvasRect = r.String()
			}
			if !frame.Empty() {
				if r, ok := geom.SourceRect(sel.Field, frame); ok {
					source = r.String()
				}
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", sel.Field.Label(), sel.State, canvasRect, source)
		}
		return tw.Flush()
	},
}

var regionsRescaleCmd = &cobra.Command{
	Use:   "rescale PRESET OUTPUT",
	Short: "Rewrite a preset for the configured canvas size",
	Long: `Load PRESET, rescale its regions from the canvas it was saved on to the
configured canvas and write the result to OUTPUT.

Examples:
  vidtally regions rescale old-1920.yaml regions.yaml`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadPresetRegistry(args[0], GetConfig().ToSessionConfig().Regions)
		if err != nil {
			return err
		}
		p := reg.Export()
		if err := region.SavePreset(args[1], p); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d region(s) for a %dx%d canvas to %s\n",
			len(p.Regions), p.CanvasWidth, p.CanvasHeight, args[1])
		return nil
	},
}

// loadPresetRegistry applies the preset at path to a fresh registry.
func loadPresetRegistry(path string, opts region.Options) (*region.Registry, error) {
	p, err := region.LoadPreset(path)
	if err != nil {
		return nil, err
	}
	reg := region.NewRegistry(opts)
	if err := reg.Apply(p); err != nil {
		return nil, fmt.Errorf("preset %s: %w", path, err)
	}
	return reg, nil
}

func firstFrameBounds(path string, opts frames.Options) (image.Rectangle, error) {
	src, err := frames.Open(path, opts)
	if err != nil {
		return image.Rectangle{}, err
	}
	defer func() { _ = src.Close() }()

	fr, err := src.Read()
	if err != nil {
		return image.Rectangle{}, err
	}
	return fr.Image.Bounds(), nil
}

func init() {
	rootCmd.AddCommand(regionsCmd)
	regionsCmd.AddCommand(regionsShowCmd, regionsRescaleCmd)
	regionsShowCmd.Flags().String("video", "", "video or frame directory to map regions onto")
}
