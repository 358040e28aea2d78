package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/catalog"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/theme"
)

func categoryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "category",
		Aliases: []string{"categories"},
		Short:   "Manage categories, rules and label mappings",
	}
	cmd.AddCommand(categoryListCmd(c))
	cmd.AddCommand(categoryImportCmd(c))
	cmd.AddCommand(categoryMapCmd(c))
	return cmd
}

func categoryListCmd(c *cli) *cobra.Command {
	var withRules bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List categories and their rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.EnsureSystemCategories(ctx, c.user()); err != nil {
				return err
			}
			cats, err := st.ListCategories(ctx, c.user())
			if err != nil {
				return err
			}
			rules, err := st.ListRules(ctx, c.user())
			if err != nil {
				return err
			}
			renderCategories(cmd.OutOrStdout(), cats, rules, withRules)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withRules, "rules", false, "also list the rules")
	return cmd
}

func categoryImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import categories and rules from a YAML file",
		Long: `Import categories and rules from a YAML file. Existing categories are
updated; rules are matched by name and only new ones are created.

  categories:
    - code: INVOICE
      name: Rechnungen
      rules:
        - name: invoice subject
          type: SUBJECT
          pattern: rechnung
          priority: 10
          confidence: 0.9`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			f, err := catalog.Load(file)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sum, err := catalog.Import(ctx, st, c.user(), f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render(fmt.Sprintf(
				"Imported %d categories: %d rules created, %d unchanged",
				sum.Categories, sum.RulesCreated, sum.RulesSkipped)))
			return nil
		},
	}
}

func categoryMapCmd(c *cli) *cobra.Command {
	var (
		connArg string
		kind    string
	)

	cmd := &cobra.Command{
		Use:   "map CODE LABEL",
		Short: "File a category under a specific label on one connection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			cat, err := st.GetCategoryByCode(ctx, c.user(), strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			conns, err := st.ListConnections(ctx, c.user())
			if err != nil {
				return err
			}
			conn, err := connectionFor(conns, connArg)
			if err != nil {
				return err
			}

			m := &model.LabelMapping{
				CategoryID:   cat.ID,
				ConnectionID: conn.ID,
				LabelName:    args[1],
				LabelKind:    model.LabelKind(strings.ToUpper(kind)),
			}
			if m.LabelKind == "" {
				m.LabelKind = model.LabelKindFolder
				if conn.Provider == model.ProviderGmail {
					m.LabelKind = model.LabelKindLabel
				}
			}
			if err := st.SetLabelMapping(ctx, m); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render(
				fmt.Sprintf("%s is filed under %q on %s", cat.Code, m.LabelName, conn.Name)))
			return nil
		},
	}
	cmd.Flags().StringVar(&connArg, "connection", "", "connection id, name or email")
	cmd.Flags().StringVar(&kind, "kind", "", "label kind (folder, label); defaults by provider")
	return cmd
}
