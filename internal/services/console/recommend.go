package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/agrow/internal/model"
	"github.com/LeonardoBeccarini/agrow/internal/recommend"
	"github.com/LeonardoBeccarini/agrow/internal/store"
)

type recommendOptions struct {
	*RootOptions
	Timeout time.Duration
	Plan    string
}

func newRecommendCommand(root *RootOptions) *cobra.Command {
	opts := &recommendOptions{RootOptions: root}
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Ask for crop recommendations for the rover's scanned plots",
		Long: `Read the rover's soil baseline from the data service, publish it to the
recommender and print the crops it answers with.

By default the command waits for the answer as long as it takes; use
--timeout to give up earlier. --plan prints the growth plan of one crop
from the last cached answer without sending anything.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecommend(cmd, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "give up waiting after this long (0 = wait forever)")
	cmd.Flags().StringVar(&opts.Plan, "plan", "", "print the cached growth plan of this crop")
	return cmd
}

func runRecommend(cmd *cobra.Command, opts *recommendOptions) error {
	ctx := cmd.Context()
	env, closeEnv, err := opts.open()
	if err != nil {
		return err
	}
	defer closeEnv()
	out := cmd.OutOrStdout()

	if crop := strings.TrimSpace(opts.Plan); crop != "" {
		plan, err := recommend.GrowthPlan(ctx, env.Store, crop)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintln(out, "-")
			return nil
		}
		if err != nil {
			return wrapExit(ExitFailure, "growth plan", err)
		}
		fmt.Fprintln(out, plan)
		return nil
	}

	id, err := opts.deviceID(ctx, env)
	if err != nil {
		return wrapExit(ExitFailure, "device id", err)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	c := recommend.NewCoordinator(env.Broker, env.Baseline, env.Store)
	set, err := c.Run(ctx, id)
	if err != nil {
		var rerr *recommend.ExternalReadError
		if errors.As(err, &rerr) {
			return wrapExit(ExitFailure, "no soil data for rover "+id, err)
		}
		return wrapExit(ExitFailure, "recommendation", err)
	}
	printRecommendation(cmd, set)
	return nil
}

func printRecommendation(cmd *cobra.Command, set model.CropRecommendationSet) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "crops: %s\n", strings.Join(set.Crops, ", "))
	for _, m := range []string{"temperature", "rainfall", "ph", "nitrogen", "phosphorus", "potassium"} {
		fmt.Fprintf(out, "  %-11s %g\n", m, set.Averages.Get(m))
	}
}
