package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/processor"
)

func runCmd(c *cli) *cobra.Command {
	var (
		asJSON bool
		all    bool
		opts   processor.Options
	)

	cmd := &cobra.Command{
		Use:   "run [connection]",
		Short: "Classify and label new messages of a connection",
		Long: `Fetch the newest messages of a connection, classify every message that was
not processed before, apply its label and record the result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := c.open()
			if err != nil {
				return err
			}
			defer d.Close()

			conns, err := d.store.ListConnections(ctx, c.user())
			if err != nil {
				return err
			}

			var targets []model.Connection
			if all {
				for _, conn := range conns {
					if conn.Status == model.StatusActive {
						targets = append(targets, conn)
					}
				}
			} else {
				arg := ""
				if len(args) == 1 {
					arg = args[0]
				}
				conn, err := connectionFor(conns, arg)
				if err != nil {
					return err
				}
				targets = []model.Connection{conn}
			}

			if opts.MaxEmails <= 0 {
				opts.MaxEmails = c.cfg.Processing.MaxEmails
			}

			var (
				results []*processor.Result
				errs    []error
			)
			for _, conn := range targets {
				result, err := runOne(ctx, d.processor, conn.ID, opts, c.cfg.Processing)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", conn.Name, err))
				}
				if result == nil {
					continue
				}
				results = append(results, result)
				if !asJSON {
					renderResult(cmd.OutOrStdout(), conn, result, err)
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				var out any = results
				if !all && len(results) == 1 {
					out = results[0]
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	cmd.Flags().BoolVar(&all, "all", false, "run every active connection")
	cmd.Flags().IntVar(&opts.MaxEmails, "max-emails", 0, "maximum messages to fetch (default from config)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "classify and record without touching the mailbox")
	cmd.Flags().BoolVar(&opts.ForceReprocess, "force", false, "reprocess messages that were already handled")

	return cmd
}

func runOne(
	ctx context.Context,
	proc *processor.Processor,
	connectionID string,
	opts processor.Options,
	cfg model.ProcessingConfig,
) (*processor.Result, error) {
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}
	return proc.Run(ctx, connectionID, opts)
}
