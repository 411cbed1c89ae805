package main

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/infrastructure/connector"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// connectionCheck is the outcome of one reachability check
type connectionCheck struct {
	Name      string `json:"name"`
	Endpoint  string `json:"endpoint"`
	OK        bool   `json:"ok"`
	Skipped   bool   `json:"skipped,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func newTestCmd(root *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Check that the source, target and state database accept the configured credentials",
		Long: `test pings every configured platform without reading or writing records.
The target is skipped when target.base_url is unset, the database when the
file storage backend is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			checks := a.checkConnections(cmd.Context(), timeout)
			if root.jsonOutput() {
				if err := printJSON(cmd.OutOrStdout(), checks); err != nil {
					return err
				}
			} else {
				renderConnectionChecks(cmd.OutOrStdout(), checks)
			}

			var failed int
			for _, c := range checks {
				if !c.OK && !c.Skipped {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d connection checks failed", failed, len(checks))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Deadline of each check")
	return cmd
}

func (a *app) checkConnections(ctx context.Context, timeout time.Duration) []connectionCheck {
	var checks []connectionCheck

	source := connectionCheck{Name: "source", Endpoint: a.cfg.Source.BaseURL}
	if a.cfg.Source.Driver == "fake" {
		source.Endpoint = fmt.Sprintf("fake (seed %d)", a.cfg.Source.FakeSeed)
	}
	extractor, err := connector.NewExtractor(a.cfg.Source, connector.WithLogger(a.logger))
	checks = append(checks, a.ping(ctx, timeout, source, extractor, err))

	target := connectionCheck{Name: "target", Endpoint: a.cfg.Target.BaseURL}
	if a.cfg.Target.BaseURL == "" {
		target.Skipped = true
		target.Error = "target.base_url is not set"
		checks = append(checks, target)
	} else {
		loader, err := a.loader()
		checks = append(checks, a.ping(ctx, timeout, target, loader, err))
	}

	if a.db != nil {
		db := connectionCheck{Name: "database", Endpoint: a.db.Driver()}
		start := time.Now()
		if err := a.db.Ping(); err != nil {
			db.Error = err.Error()
		} else {
			db.OK = true
		}
		db.LatencyMS = time.Since(start).Milliseconds()
		checks = append(checks, db)
	}
	return checks
}

// ping runs one check against a connector built with buildErr
func (a *app) ping(ctx context.Context, timeout time.Duration, check connectionCheck, conn any, buildErr error) connectionCheck {
	if buildErr != nil {
		check.Error = buildErr.Error()
		return check
	}
	pinger, ok := conn.(integration.Pinger)
	if !ok {
		check.Error = fmt.Sprintf("%T does not support connection checks", conn)
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := pinger.Ping(ctx)
	check.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		check.Error = err.Error()
		a.logger.Warn("Connection check failed", zap.String("name", check.Name), zap.Error(err))
		return check
	}
	check.OK = true
	return check
}
