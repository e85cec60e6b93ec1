// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pcmframe/internal/capture"
	"pcmframe/internal/log"
	"pcmframe/internal/tui"
)

func newDevicesCmd(opts *options) *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"list"},
		Short:   "List available audio devices",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := capture.Initialize(); err != nil {
				return err
			}
			defer func() {
				if err := capture.Terminate(); err != nil {
					log.Errorf("%v", err)
				}
			}()

			if !interactive {
				return capture.ListDevices(cmd.OutOrStdout())
			}

			sel, ok, err := tui.RunDevicePicker(capture.InputDevices)
			if err != nil || !ok {
				return err
			}

			// Print the choice as a configuration snippet.
			audio := opts.cfg.Audio
			audio.InputDevice = sel.DeviceID
			audio.SampleRate = sel.SampleRate
			audio.InputChannels = sel.Channels
			out, err := yaml.Marshal(map[string]any{"audio": audio})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", sel.DeviceName, out)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false,
		"Pick a device interactively and print the matching configuration")
	return cmd
}
