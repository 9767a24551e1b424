package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/EffortlessMetrics/shipper/internal/engine"
	"github.com/EffortlessMetrics/shipper/internal/preflight"
	"github.com/EffortlessMetrics/shipper/internal/reporter"
	"github.com/EffortlessMetrics/shipper/internal/state"
)

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish every publishable package in the workspace, in dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd.Context(), false)
		},
	}
}

// runPublish is shared by the publish and resume commands: Resume (spec.md
// §4.7) already decides whether this is a fresh run or a continuation of a
// prior one, so both commands funnel through the same execution path.
// requireResume rejects a fresh-run outcome, for the explicit resume command.
func runPublish(ctx context.Context, requireResume bool) error {
	c, err := wireCore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if c.lock != nil {
			if relErr := c.lock.Release(); relErr != nil {
				c.rep.Warn("release lock failed", reporter.Err(relErr))
			}
		}
	}()

	prior, err := engine.Resume(c.store, c.plan)
	if err != nil {
		return err
	}
	if prior == nil && requireResume {
		return fmt.Errorf("no prior run found under %s; use 'shipper publish' to start one", c.cfg.StateDir)
	}

	if prior == nil {
		report, err := runPreflight(ctx, c)
		if err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
		if report.Verdict == preflight.FailedVerdict {
			return fmt.Errorf("preflight failed: %s", report.FailureReason)
		}
		prior = state.NewExecutionState(c.plan.PlanID, c.plan.Order, time.Now())
		if err := c.store.SaveState(prior); err != nil {
			return fmt.Errorf("seed state: %w", err)
		}
		c.rep.Info("starting fresh run", reporter.String("plan_id", c.plan.PlanID))
	} else {
		c.rep.Info("resuming prior run", reporter.String("plan_id", c.plan.PlanID))
	}

	eng := newEngine(c)
	eng.Prepare(c.plan)

	var runErr error
	if flagParallel {
		runErr = eng.RunParallel(ctx, c.plan, prior)
	} else {
		runErr = eng.Run(ctx, c.plan, prior)
	}
	receiptErr := writeReceiptAndRelease(ctx, c, prior)
	if receiptErr == nil {
		c.lock = nil // Release already called by writeReceiptAndRelease; skip deferred double-release.
	}
	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}
	if receiptErr != nil {
		return receiptErr
	}

	if !prior.AllSucceeded() {
		os.Exit(1)
	}
	return nil
}
