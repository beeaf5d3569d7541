package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/koios/openmatrix/pkg/models"
)

func (a *app) newStateCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the device state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			client := a.client()
			if err := client.PollState(cmd.Context()); err != nil {
				return fmt.Errorf("failed to read state from %s: %w", client.BaseURL(), err)
			}
			state := client.Mirror().State()
			if output == outputJSON {
				return printJSON(cmd.OutOrStdout(), state)
			}
			return printState(cmd.OutOrStdout(), state)
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func printState(out io.Writer, s models.DeviceState) error {
	w := newTabWriter(out)
	row := func(key, value string) { fmt.Fprintf(w, "%s\t%s\n", key, value) }

	if s.Power != nil {
		row("POWER", onOff(*s.Power))
	}
	if s.AutoBrightness != nil {
		row("AUTOBRIGHTNESS", onOff(*s.AutoBrightness))
	}
	if s.Brightness != nil {
		row("BRIGHTNESS", strconv.Itoa(*s.Brightness))
	}
	if s.Mode != nil {
		row("MODE", s.Mode.String())
	}
	if s.Width != nil || s.Height != nil {
		width, height := s.MatrixSize(0, 0)
		row("SIZE", fmt.Sprintf("%dx%d", width, height))
	}
	if s.Effects != nil && s.Effects.Selected != nil {
		row("EFFECT", strconv.Itoa(*s.Effects.Selected))
	}
	if s.Image != nil && s.Image.Selected != nil {
		row("IMAGE", s.Image.Selected.String())
	}
	if s.Text != nil {
		row("TEXT", strconv.Quote(s.Text.Payload))
	}
	if env := s.Environment; env != nil {
		if env.Temperature != nil {
			row("TEMPERATURE", fmt.Sprintf("%.1f °C", env.Temperature.Value))
		}
		if env.Humidity != nil {
			row("HUMIDITY", fmt.Sprintf("%.0f %%", env.Humidity.Value))
		}
		if env.CO2 != nil {
			row("CO2", fmt.Sprintf("%.0f ppm", env.CO2.Value))
		}
	}
	return w.Flush()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func (a *app) newImagesCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "images",
		Short: "List the images stored on the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			images, err := a.client().FetchImages(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list images: %w", err)
			}
			if output == outputJSON {
				return printJSON(cmd.OutOrStdout(), images)
			}

			w := newTabWriter(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tNAME\tSIZE")
			for _, img := range images {
				fmt.Fprintf(w, "%d\t%s\t%s\n", img.ID, img.Name, humanize.IBytes(uint64(img.Size)))
			}
			return w.Flush()
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}
