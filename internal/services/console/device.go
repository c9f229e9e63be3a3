package console

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/agrow/internal/store"
)

func newDeviceCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "device [ID]",
		Short: "Show or set the rover this console talks to",
		Long: `Without arguments print the stored rover id and map viewport.
With an id, store it for later commands.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, closeEnv, err := root.open()
			if err != nil {
				return err
			}
			defer closeEnv()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				id := strings.TrimSpace(args[0])
				if id == "" {
					return wrapExit(ExitCommandError, "empty device id", nil)
				}
				if err := env.Store.Put(ctx, store.KeyDeviceID, id); err != nil {
					return wrapExit(ExitFailure, "store device id", err)
				}
				fmt.Fprintf(out, "device set to %s\n", id)
				return nil
			}

			id, err := store.DeviceID(ctx, env.Store)
			if err != nil {
				return wrapExit(ExitFailure, "device id", err)
			}
			vp, err := store.Viewport(ctx, env.Store)
			if err != nil {
				return wrapExit(ExitFailure, "viewport", err)
			}
			fmt.Fprintf(out, "device: %s\n", id)
			fmt.Fprintf(out, "map:    %s zoom %d\n", vp.Center, vp.Zoom)
			fmt.Fprintf(out, "broker: %s\n", env.Broker.StatusText())
			return nil
		},
	}
}
