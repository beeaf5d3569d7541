package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/koios/openmatrix/internal/device"
	"github.com/koios/openmatrix/pkg/models"
)

func (a *app) newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the integration settings",
		Long: `Show or change the MQTT, E1.31/Art-Net and Home Assistant settings.

Each update replaces the whole settings block on the device. Fields not given
as flags keep the value the device currently reports. With --file the block
is read from a JSON file instead.`,
	}
	cmd.AddCommand(
		a.newSettingsShowCommand(),
		a.newMQTTSettingsCommand(),
		a.newEDMXSettingsCommand(),
		a.newHASSSettingsCommand(),
	)
	return cmd
}

func (a *app) newSettingsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := a.currentSettings(cmd)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), settings)
		},
	}
}

func (a *app) newMQTTSettingsCommand() *cobra.Command {
	var file string
	var s models.MQTTSettings

	cmd := &cobra.Command{
		Use:   "mqtt",
		Short: "Update the device's MQTT client settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, client, err := a.currentSettings(cmd)
			if err != nil {
				return err
			}
			next := models.MQTTSettings{}
			if current.MQTT != nil {
				next = *current.MQTT
			}
			if err := mergeSettings(cmd.LocalFlags(), file, &next, func(f *pflag.Flag) {
				switch f.Name {
				case "status":
					next.Status = s.Status
				case "host":
					next.Host = s.Host
				case "port":
					next.Port = s.Port
				case "client-id":
					next.ClientID = s.ClientID
				case "username":
					next.Username = s.Username
				case "password":
					next.Password = s.Password
				case "co2-topic":
					next.CO2Topic = s.CO2Topic
				case "text-topic":
					next.MatrixTextTopic = s.MatrixTextTopic
				case "show-text":
					next.ShowText = s.ShowText
				}
			}); err != nil {
				return err
			}
			resp, err := client.UpdateMQTTSettings(cmd.Context(), next)
			return report(cmd, resp, err)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&file, "file", "", "read the settings block from a JSON file")
	flags.IntVar(&s.Status, "status", 0, "1 enables the MQTT client")
	flags.StringVar(&s.Host, "host", "", "broker host")
	flags.IntVar(&s.Port, "port", 1883, "broker port")
	flags.StringVar(&s.ClientID, "client-id", "", "client id")
	flags.StringVar(&s.Username, "username", "", "username")
	flags.StringVar(&s.Password, "password", "", "password")
	flags.StringVar(&s.CO2Topic, "co2-topic", "", "topic the CO2 reading is published on")
	flags.StringVar(&s.MatrixTextTopic, "text-topic", "", "topic the display text is read from")
	flags.BoolVar(&s.ShowText, "show-text", false, "show text received over MQTT")
	return cmd
}

func (a *app) newEDMXSettingsCommand() *cobra.Command {
	var file string
	var protocol, mode string
	var s models.EDMXSettings

	cmd := &cobra.Command{
		Use:   "edmx",
		Short: "Update the E1.31 / Art-Net settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, client, err := a.currentSettings(cmd)
			if err != nil {
				return err
			}
			next := models.EDMXSettings{StartAddress: 1}
			if current.EDMX != nil {
				next = *current.EDMX
			}
			var flagErr error
			if err := mergeSettings(cmd.LocalFlags(), file, &next, func(f *pflag.Flag) {
				switch f.Name {
				case "protocol":
					switch protocol {
					case "sacn", "e131":
						next.Protocol = models.EDMXSACN
					case "artnet":
						next.Protocol = models.EDMXArtNet
					default:
						flagErr = fmt.Errorf("unknown protocol %q (sacn, artnet)", protocol)
					}
				case "mode":
					switch mode {
					case "rgb":
						next.Mode = models.EDMXModeRGB
					case "white":
						next.Mode = models.EDMXModeWhite
					default:
						flagErr = fmt.Errorf("unknown mode %q (rgb, white)", mode)
					}
				case "multicast":
					next.Multicast = s.Multicast
				case "start-universe":
					next.StartUniverse = s.StartUniverse
				case "start-address":
					next.StartAddress = s.StartAddress
				case "dmx-timeout":
					next.Timeout = s.Timeout
				}
			}); err != nil {
				return err
			}
			if flagErr != nil {
				return flagErr
			}
			resp, err := client.UpdateDMXSettings(cmd.Context(), next)
			return report(cmd, resp, err)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&file, "file", "", "read the settings block from a JSON file")
	flags.StringVar(&protocol, "protocol", "sacn", "protocol (sacn, artnet)")
	flags.StringVar(&mode, "mode", "rgb", "channel mapping (rgb, white)")
	flags.BoolVar(&s.Multicast, "multicast", false, "listen on multicast")
	flags.BoolVar(&s.StartUniverse, "start-universe", false, "start at universe 1 instead of 0")
	flags.IntVar(&s.StartAddress, "start-address", 1, "first DMX channel (1-512)")
	flags.IntVar(&s.Timeout, "dmx-timeout", 0, "milliseconds without data before leaving DMX mode")
	return cmd
}

func (a *app) newHASSSettingsCommand() *cobra.Command {
	var file string
	var s models.HASSSettings

	cmd := &cobra.Command{
		Use:   "hass",
		Short: "Update the Home Assistant integration settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, client, err := a.currentSettings(cmd)
			if err != nil {
				return err
			}
			next := models.HASSSettings{}
			if current.HASS != nil {
				next = *current.HASS
			}
			if err := mergeSettings(cmd.LocalFlags(), file, &next, func(f *pflag.Flag) {
				switch f.Name {
				case "status":
					next.Status = s.Status
				case "show-text":
					next.ShowText = s.ShowText
				}
			}); err != nil {
				return err
			}
			resp, err := client.UpdateHASSSettings(cmd.Context(), next)
			return report(cmd, resp, err)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&file, "file", "", "read the settings block from a JSON file")
	flags.IntVar(&s.Status, "status", 0, "1 enables the integration")
	flags.BoolVar(&s.ShowText, "show-text", false, "show text sent by Home Assistant")
	return cmd
}

// currentSettings polls the device and returns its settings blocks
func (a *app) currentSettings(cmd *cobra.Command) (models.Settings, *device.Client, error) {
	client := a.client()
	if err := client.PollState(cmd.Context()); err != nil {
		return models.Settings{}, nil, fmt.Errorf("failed to read settings from %s: %w", client.BaseURL(), err)
	}
	state := client.Mirror().State()
	if state.Settings == nil {
		return models.Settings{}, client, nil
	}
	return *state.Settings, client, nil
}

// mergeSettings reads file into target, or applies every changed local flag
// except --file via apply. The result is validated either way.
func mergeSettings(flags *pflag.FlagSet, file string, target interface{}, apply func(*pflag.Flag)) error {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return fmt.Errorf("invalid settings file %s: %w", file, err)
		}
	} else {
		changed := 0
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Changed && f.Name != "file" {
				apply(f)
				changed++
			}
		})
		if changed == 0 {
			return errors.New("nothing to change: pass flags or --file")
		}
	}
	return validateSettings(target)
}

func validateSettings(v interface{}) error {
	if err := validator.New().Struct(v); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) && len(errs) > 0 {
			fe := errs[0]
			return fmt.Errorf("invalid value for %s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return err
	}
	return nil
}
