package console

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/internal/telemetry"
)

type watchOptions struct {
	*RootOptions
	Count int
}

func newWatchCommand(root *RootOptions) *cobra.Command {
	opts := &watchOptions{RootOptions: root}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the rover's telemetry",
		Long: `Print one JSON line per accepted telemetry message of the rover.
Messages missing status, position or waypoints are skipped.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "stop after n updates (0 = until interrupted)")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *watchOptions) error {
	ctx := cmd.Context()
	env, closeEnv, err := opts.open()
	if err != nil {
		return err
	}
	defer closeEnv()

	id, err := opts.deviceID(ctx, env)
	if err != nil {
		return wrapExit(ExitFailure, "device id", err)
	}

	ts := telemetry.NewSynchronizer(env.Broker)
	updates := make(chan model.TelemetrySnapshot, 16)
	cancel := ts.OnUpdate(func(s model.TelemetrySnapshot) {
		select {
		case updates <- s:
		default:
		}
	})
	defer cancel()
	if err := ts.SubscribeTo(id); err != nil {
		return wrapExit(ExitFailure, "subscribe", err)
	}
	defer ts.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "watching %s (%s)\n", model.TelemetryTopic(id), env.Broker.StatusText())
	enc := json.NewEncoder(out)
	for n := 0; opts.Count == 0 || n < opts.Count; n++ {
		select {
		case s := <-updates:
			if err := enc.Encode(s); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
