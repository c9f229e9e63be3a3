package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/agrow/internal/geofence"
	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/internal/store"
)

type zoneOptions struct {
	*RootOptions
	SaveOnly bool
}

func newZoneCommand(root *RootOptions) *cobra.Command {
	opts := &zoneOptions{RootOptions: root}
	cmd := &cobra.Command{
		Use:   "zone [LAT,LNG ...]",
		Short: "Set the rover zone from five corner points",
		Long: `Feed points into the zone buffer in order. Only the last five count;
once five are set the zone is saved and sent to the rover as its plan.
Without arguments the saved zone is printed.

Examples:
  agrow zone 12.97,77.59 12.98,77.59 12.98,77.60 12.97,77.60 12.96,77.595
  agrow zone --save-only 12.97,77.59 ...`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runZone(cmd, opts, args)
		},
	}
	cmd.Flags().BoolVar(&opts.SaveOnly, "save-only", false, "save the zone without sending it")
	return cmd
}

func runZone(cmd *cobra.Command, opts *zoneOptions, args []string) error {
	ctx := cmd.Context()
	env, closeEnv, err := opts.open()
	if err != nil {
		return err
	}
	defer closeEnv()
	d := geofence.NewDispatcher(env.Store, env.Broker)
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		zone, err := d.Load(ctx)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintln(out, "no zone saved")
			return nil
		}
		if err != nil {
			return wrapExit(ExitCommandError, "load zone", err)
		}
		b, _ := json.Marshal(zone)
		fmt.Fprintln(out, string(b))
		return nil
	}

	buf := geofence.NewBuffer()
	for _, a := range args {
		p, err := parsePoint(a)
		if err != nil {
			return wrapExit(ExitCommandError, "invalid point", err)
		}
		if err := buf.Add(p); err != nil {
			return wrapExit(ExitCommandError, "invalid point", err)
		}
	}
	if !buf.IsComplete() {
		return wrapExit(ExitFailure, fmt.Sprintf("zone has %d of %d points", buf.Len(), model.ZonePoints), geofence.ErrIncomplete)
	}
	zone := buf.Snapshot()

	if opts.SaveOnly {
		if err := d.Save(ctx, zone); err != nil {
			return wrapExit(ExitFailure, "save zone", err)
		}
		fmt.Fprintln(out, "zone saved")
		return nil
	}

	id, err := opts.deviceID(ctx, env)
	if err != nil {
		return wrapExit(ExitFailure, "device id", err)
	}
	if err := d.Save(ctx, zone); err != nil {
		return wrapExit(ExitFailure, "save zone", err)
	}
	if err := opts.waitBroker(ctx, env); err != nil {
		return err
	}
	if err := d.Start(ctx, id); err != nil {
		return wrapExit(ExitFailure, "send plan", err)
	}
	fmt.Fprintf(out, "zone saved and sent to %s\n", model.PlanTopic(id))
	return nil
}

func newPlanCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "plan",
		Short:        "Send the saved zone to the rover",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, closeEnv, err := root.open()
			if err != nil {
				return err
			}
			defer closeEnv()
			id, err := root.deviceID(ctx, env)
			if err != nil {
				return wrapExit(ExitFailure, "device id", err)
			}
			if err := root.waitBroker(ctx, env); err != nil {
				return err
			}
			if err := geofence.NewDispatcher(env.Store, env.Broker).Start(ctx, id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return wrapExit(ExitFailure, "no zone saved", err)
				}
				return wrapExit(ExitFailure, "send plan", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan sent to %s\n", model.PlanTopic(id))
			return nil
		},
	}
}

// parsePoint reads "lat,lng".
func parsePoint(s string) (model.GeofencePoint, error) {
	lat, lng, ok := strings.Cut(s, ",")
	if !ok {
		return model.GeofencePoint{}, fmt.Errorf("%q: want LAT,LNG", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return model.GeofencePoint{}, fmt.Errorf("%q: %w", s, err)
	}
	ln, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return model.GeofencePoint{}, fmt.Errorf("%q: %w", s, err)
	}
	return model.GeofencePoint{Lat: la, Lng: ln}, nil
}
