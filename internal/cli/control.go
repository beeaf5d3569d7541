package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koios/openmatrix/pkg/models"
)

// parseOnOff accepts on/off in the usual spellings
func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func (a *app) newPowerCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "power on|off",
		Short:     "Turn the display on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			resp, err := a.client().SetPower(cmd.Context(), on)
			return report(cmd, resp, err)
		},
	}
}

func (a *app) newAutoBrightnessCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "autobrightness on|off",
		Short:     "Enable or disable automatic brightness",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			resp, err := a.client().SetAutoBrightness(cmd.Context(), on)
			return report(cmd, resp, err)
		},
	}
}

func (a *app) newBrightnessCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "brightness LEVEL",
		Short: "Set the brightness (0-100)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.Atoi(args[0])
			if err != nil || level < 0 || level > 100 {
				return fmt.Errorf("brightness must be an integer between 0 and 100, got %q", args[0])
			}
			resp, err := a.client().SetBrightness(cmd.Context(), level)
			return report(cmd, resp, err)
		},
	}
}

func (a *app) newModeCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "mode aquarium|effect|image|text",
		Short:     "Switch the display mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"aquarium", "effect", "image", "text"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := models.ParseMode(args[0])
			if err != nil {
				return err
			}
			resp, err := a.client().SetMode(cmd.Context(), mode)
			return report(cmd, resp, err)
		},
	}
}

func (a *app) newEffectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "effect ID",
		Short: "Select the running effect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEffectID(args[0])
			if err != nil {
				return err
			}
			resp, err := a.client().SelectEffect(cmd.Context(), id)
			return report(cmd, resp, err)
		},
	}
	cmd.AddCommand(a.newEffectSettingsCommand())
	return cmd
}

func (a *app) newEffectSettingsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "settings ID KEY=VALUE...",
		Short: "Change settings of one effect",
		Long: `Merge KEY=VALUE pairs into the stored settings of an effect.

Values are sent as integers, floats or booleans when they parse as one,
and as strings otherwise. Keys not named keep their stored value.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEffectID(args[0])
			if err != nil {
				return err
			}
			settings, err := parseSettings(args[1:])
			if err != nil {
				return err
			}
			resp, err := a.client().UpdateEffectSettings(cmd.Context(), id, settings)
			return report(cmd, resp, err)
		},
	}
}

func parseEffectID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("effect id must be a non-negative integer, got %q", s)
	}
	return id, nil
}

func parseSettings(pairs []string) (models.EffectSettings, error) {
	settings := models.EffectSettings{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", pair)
		}
		settings[key] = parseValue(value)
	}
	return settings, nil
}

// parseValue picks the narrowest JSON type for a CLI value
func parseValue(s string) interface{} {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func (a *app) newTextCommand() *cobra.Command {
	var size string

	cmd := &cobra.Command{
		Use:   "text PAYLOAD",
		Short: "Set the text shown in text mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			textSize, err := models.ParseTextSize(size)
			if err != nil {
				return err
			}
			resp, err := a.client().SetText(cmd.Context(), args[0], textSize)
			return report(cmd, resp, err)
		},
	}
	cmd.Flags().StringVar(&size, "size", "medium", "text size (small, medium, large)")
	return cmd
}

func (a *app) newResetCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:       "reset network|factory",
		Short:     "Reset the network configuration or restore factory defaults",
		Long:      "Reset the device. Both resets restart the device; a factory reset also erases stored images and settings.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"network", "factory"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			client := a.client()
			switch args[0] {
			case "network":
				resp, err := client.ResetNetwork(cmd.Context())
				return report(cmd, resp, err)
			case "factory":
				resp, err := client.ResetFactory(cmd.Context())
				return report(cmd, resp, err)
			}
			return fmt.Errorf("unknown reset %q (network, factory)", args[0])
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
