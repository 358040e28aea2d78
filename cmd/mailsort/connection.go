package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/processor"
	"github.com/nhle/mailsort/internal/theme"
)

func connectionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connection",
		Aliases: []string{"connections", "conn"},
		Short:   "Manage linked mailboxes",
	}
	cmd.AddCommand(connectionAddCmd(c))
	cmd.AddCommand(connectionListCmd(c))
	cmd.AddCommand(connectionTestCmd(c))
	return cmd
}

type connectionForm struct {
	provider string
	name     string
	email    string
	creds    model.Credentials
}

func (f *connectionForm) missing() bool {
	if f.name == "" || f.email == "" {
		return true
	}
	switch model.ProviderType(f.provider) {
	case model.ProviderGmail:
		return f.creds.RefreshToken == ""
	default:
		return f.creds.Host == "" || f.creds.Username == "" || f.creds.Password == ""
	}
}

func (f *connectionForm) prompt() error {
	fields := []huh.Field{
		huh.NewInput().
			Title("Name").
			Description("A label for this mailbox").
			Placeholder("Work").
			Value(&f.name).
			Validate(validateRequired("Name")),
		huh.NewInput().
			Title("Email").
			Placeholder("me@example.com").
			Value(&f.email).
			Validate(validateRequired("Email")),
	}

	if model.ProviderType(f.provider) == model.ProviderGmail {
		fields = append(fields,
			huh.NewInput().
				Title("Refresh token").
				Description("OAuth refresh token with the gmail.modify scope").
				EchoMode(huh.EchoModePassword).
				Value(&f.creds.RefreshToken).
				Validate(validateRequired("Refresh token")),
		)
	} else {
		fields = append(fields,
			huh.NewInput().
				Title("IMAP host").
				Placeholder("imap.example.com").
				Value(&f.creds.Host).
				Validate(validateRequired("Host")),
			huh.NewInput().
				Title("Port").
				Placeholder("993").
				Value(&f.creds.Port),
			huh.NewInput().
				Title("Username").
				Value(&f.creds.Username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&f.creds.Password).
				Validate(validateRequired("Password")),
		)
	}

	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func connectionAddCmd(c *cli) *cobra.Command {
	var passwordStdin bool
	f := &connectionForm{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Link a mailbox",
		Long: `Link an IMAP or Gmail mailbox. Missing details are asked for interactively.
Credentials are encrypted before they are stored.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			switch model.ProviderType(f.provider) {
			case model.ProviderIMAP, model.ProviderGmail:
			default:
				return fmt.Errorf("unsupported provider %q (imap, gmail)", f.provider)
			}
			if passwordStdin {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				f.creds.Password = strings.TrimRight(string(b), "\r\n")
			}
			if f.missing() {
				if err := f.prompt(); err != nil {
					return err
				}
			}
			if f.creds.Port == "" && model.ProviderType(f.provider) == model.ProviderIMAP {
				f.creds.Port = "993"
			}

			d, err := c.open()
			if err != nil {
				return err
			}
			defer d.Close()

			sealed, err := d.cipher.SealCredentials(f.creds)
			if err != nil {
				return err
			}
			conn := model.Connection{
				UserID:               c.user(),
				Provider:             model.ProviderType(f.provider),
				Name:                 f.name,
				Email:                f.email,
				EncryptedCredentials: sealed,
			}
			if err := d.store.CreateConnection(ctx, &conn); err != nil {
				return err
			}
			if err := d.store.EnsureSystemCategories(ctx, conn.UserID); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render("Added connection "+conn.ID))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.provider, "provider", string(model.ProviderIMAP), "mailbox provider (imap, gmail)")
	flags.StringVar(&f.name, "name", "", "connection name")
	flags.StringVar(&f.email, "email", "", "mailbox address")
	flags.StringVar(&f.creds.Host, "host", "", "IMAP host")
	flags.StringVar(&f.creds.Port, "port", "", "IMAP port (default 993)")
	flags.BoolVar(&f.creds.TLS, "tls", true, "use implicit TLS for IMAP")
	flags.StringVar(&f.creds.Username, "username", "", "IMAP username")
	flags.BoolVar(&passwordStdin, "password-stdin", false, "read the IMAP password from stdin")
	flags.StringVar(&f.creds.RefreshToken, "refresh-token", "", "Gmail OAuth refresh token")

	return cmd
}

func connectionListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List linked mailboxes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			conns, err := st.ListConnections(ctx, c.user())
			if err != nil {
				return err
			}
			if len(conns) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), theme.InfoStyle.Render("No connections. Use 'mailsort connection add' to link one."))
				return nil
			}

			processed := make(map[string]int, len(conns))
			for _, conn := range conns {
				n, err := st.CountProcessed(ctx, conn.ID)
				if err != nil {
					return err
				}
				processed[conn.ID] = n
			}
			renderConnections(cmd.OutOrStdout(), conns, processed)
			return nil
		},
	}
}

func connectionTestCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "test [connection]",
		Short: "Check that a mailbox can be reached and reset its status",
		Args:  cobra.MaximumNArgs(1),
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
			arg := ""
			if len(args) == 1 {
				arg = args[0]
			}
			conn, err := connectionFor(conns, arg)
			if err != nil {
				return err
			}

			testErr := testConnection(cmd, d.processor, conn)
			if testErr == nil {
				if err := d.store.UpdateConnectionStatus(ctx, conn.ID, model.StatusActive, ""); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render(conn.Name+" is reachable"))
				return nil
			}

			status := processor.ClassifyFailure(testErr)
			if err := d.store.UpdateConnectionStatus(ctx, conn.ID, status, testErr.Error()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.StatusStyle(status).Render(string(status)))
			return testErr
		},
	}
}

func testConnection(cmd *cobra.Command, proc *processor.Processor, conn model.Connection) error {
	prov, err := proc.OpenProvider(cmd.Context(), conn)
	if err != nil {
		return err
	}
	defer prov.Disconnect()

	ok, err := prov.TestConnection(cmd.Context())
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("mailbox did not respond")
	}
	return nil
}
