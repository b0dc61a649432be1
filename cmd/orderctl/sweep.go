package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type sweepOutput struct {
	Scanned   int    `yaml:"scanned"`
	Confirmed int    `yaml:"confirmed"`
	Skipped   int    `yaml:"skipped"`
	Failed    int    `yaml:"failed"`
	Duration  string `yaml:"duration"`
}

func newSweepCommand(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile gateway payments whose webhook never arrived",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			container, err := a.openContainer(ctx)
			if err != nil {
				return err
			}
			defer container.Close(context.WithoutCancel(ctx))

			sweeper := container.Services.Sweeper
			if sweeper == nil {
				return errors.New("sweep requires a payment gateway; set ORDERS_PAYMENTS_STRIPE_API_KEY")
			}
			started := time.Now()
			report, err := sweeper.Sweep(ctx)
			out := sweepOutput{
				Scanned:   report.Scanned,
				Confirmed: report.Confirmed,
				Skipped:   report.Skipped,
				Failed:    report.Failed,
				Duration:  time.Since(started).Round(time.Millisecond).String(),
			}
			if writeErr := writeYAML(cmd.OutOrStdout(), out); writeErr != nil {
				return writeErr
			}
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "abort the sweep after this long")
	return cmd
}
