package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/review"
	"github.com/nhle/mailsort/internal/theme"
)

func reviewCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Decide on messages the classifier was unsure about",
	}
	cmd.AddCommand(reviewListCmd(c))
	cmd.AddCommand(reviewDecideCmd(c))
	return cmd
}

func reviewListCmd(c *cli) *cobra.Command {
	var (
		connArg string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages awaiting review",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			connID := ""
			if connArg != "" {
				conns, err := st.ListConnections(ctx, c.user())
				if err != nil {
					return err
				}
				conn, err := connectionFor(conns, connArg)
				if err != nil {
					return err
				}
				connID = conn.ID
			}

			svc := review.New(st, nil, c.logger)
			rows, err := svc.Pending(ctx, connID, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), theme.InfoStyle.Render("Nothing to review."))
				return nil
			}
			renderPending(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&connArg, "connection", "", "only list one connection")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func reviewDecideCmd(c *cli) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "decide ID [approve|change|reject]",
		Short: "Approve, change or reject a pending message",
		Long: `Record a decision for a pending message. Without a decision argument the
choice is made interactively. Approve files the message under the suggested
category, change under --category, and reject leaves the mailbox untouched.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := c.open()
			if err != nil {
				return err
			}
			defer d.Close()

			row, err := d.store.GetProcessed(ctx, args[0])
			if err != nil {
				return err
			}

			decision := ""
			if len(args) == 2 {
				decision = args[1]
			}
			if decision == "" || (review.Decision(decision) == review.Change && category == "") {
				cats, err := d.store.ListCategories(ctx, c.user())
				if err != nil {
					return err
				}
				if err := promptDecision(row, cats, &decision, &category); err != nil {
					return err
				}
			}

			svc := review.New(d.store, d.processor, c.logger)
			out, err := svc.Decide(ctx, row.ID, review.Decision(decision), category)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, theme.SuccessStyle.Render(fmt.Sprintf("%s: %s", row.ID, out.Row.ReviewState)))
			switch {
			case out.Labeled:
				fmt.Fprintf(w, "filed under %q\n", out.Label)
			case out.LabelError != "":
				fmt.Fprintln(w, theme.WarningStyle.Render("label not applied: "+out.LabelError))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category code for a change")
	return cmd
}

func promptDecision(row *model.ProcessedMessage, cats []model.Category, decision, category *string) error {
	suggested := deref(row.SuggestedCategory)

	if *decision == "" {
		err := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("%s: %s", row.Sender, row.Subject)).
				Description(fmt.Sprintf("Suggested %s at %.0f%%. %s", suggested, row.Confidence*100, row.Rationale)).
				Options(
					huh.NewOption("Approve "+suggested, string(review.Approve)),
					huh.NewOption("Change category", string(review.Change)),
					huh.NewOption("Reject", string(review.Reject)),
				).
				Value(decision),
		)).Run()
		if err != nil {
			return err
		}
	}

	if review.Decision(*decision) != review.Change || *category != "" {
		return nil
	}

	var opts []huh.Option[string]
	for _, cat := range cats {
		if cat.IsSystem || !cat.IsActive {
			continue
		}
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s (%s)", cat.Name, cat.Code), cat.Code))
	}
	if len(opts) == 0 {
		return fmt.Errorf("no categories to choose from")
	}
	return huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Category").
			Options(opts...).
			Value(category),
	)).Run()
}
