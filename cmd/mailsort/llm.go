package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsort/internal/classify"
	"github.com/nhle/mailsort/internal/llm"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/store"
	"github.com/nhle/mailsort/internal/theme"
)

func llmCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "llm",
		Short: "Configure the LLM used for messages no rule matches",
	}
	cmd.AddCommand(llmSetCmd(c))
	cmd.AddCommand(llmShowCmd(c))
	return cmd
}

func llmSetCmd(c *cli) *cobra.Command {
	var (
		provider string
		modelID  string
		apiKey   string
		disable  bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the LLM backend and API key for the user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			provider = strings.ToLower(provider)
			switch provider {
			case llm.ProviderOpenAI, llm.ProviderMistral, llm.ProviderAnthropic:
			default:
				return fmt.Errorf("unsupported provider %q (openai, mistral, anthropic)", provider)
			}

			d, err := c.open()
			if err != nil {
				return err
			}
			defer d.Close()

			rec := &model.LLMProviderRecord{UserID: c.user(), Provider: provider, Model: modelID, Enabled: !disable}
			existing, err := d.store.GetLLMProvider(ctx, c.user())
			switch {
			case err == nil:
				rec.EncryptedAPIKey = existing.EncryptedAPIKey
			case !errors.Is(err, store.ErrNotFound):
				return err
			}

			if apiKey == "" && !disable && rec.EncryptedAPIKey == "" {
				err := huh.NewInput().
					Title("API key").
					EchoMode(huh.EchoModePassword).
					Value(&apiKey).
					Validate(validateRequired("API key")).
					Run()
				if err != nil {
					return err
				}
			}
			if apiKey != "" {
				rec.EncryptedAPIKey, err = d.cipher.EncryptString(apiKey)
				if err != nil {
					return err
				}
			}

			if err := d.store.SetLLMProvider(ctx, rec); err != nil {
				return err
			}
			state := "enabled"
			if disable {
				state = "disabled"
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render(fmt.Sprintf("LLM %s (%s)", state, provider)))
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", llm.ProviderOpenAI, "backend (openai, mistral, anthropic)")
	cmd.Flags().StringVar(&modelID, "model", "", "model name (default per provider)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key; prompted for when omitted")
	cmd.Flags().BoolVar(&disable, "disable", false, "keep the record but stop using it")
	return cmd
}

func llmShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show which LLM backend classification will use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.GetLLMProvider(ctx, c.user())
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}

			w := cmd.OutOrStdout()
			settings := classify.ResolveLLMConfig(rec, c.cfg.LLM)
			if settings == nil {
				fmt.Fprintln(w, theme.InfoStyle.Render("No LLM configured; only rules classify."))
				return nil
			}
			modelName := settings.Model
			if modelName == "" {
				modelName = "(provider default)"
			}
			fmt.Fprintf(w, "provider        %s\n", settings.Provider)
			fmt.Fprintf(w, "model           %s\n", modelName)
			fmt.Fprintf(w, "source          %s\n", settings.Source)
			fmt.Fprintf(w, "allow override  %t\n", settings.AllowOverride)
			return nil
		},
	}
}
