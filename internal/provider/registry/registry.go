// Package registry selects the provider implementation for a connection by
// its stored provider type.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/provider"
	"github.com/nhle/mailsort/internal/provider/email"
	"github.com/nhle/mailsort/internal/provider/gmail"
)

// Registry maps provider types to factories.
type Registry struct {
	factories map[model.ProviderType]provider.Factory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[model.ProviderType]provider.Factory)}
}

// Default returns a registry with the IMAP and Gmail adapters configured
// from cfg.
func Default(cfg *model.AppConfig, logger *slog.Logger) *Registry {
	r := New()
	r.Register(model.ProviderIMAP, provider.FactoryFunc(
		func(_ context.Context, _ model.Connection, creds model.Credentials) (provider.Provider, error) {
			return email.New(creds,
				email.WithMailbox(cfg.IMAP.Mailbox),
				email.WithDialTimeout(cfg.IMAP.DialTimeout),
				email.WithLogger(logger),
			), nil
		}))
	r.Register(model.ProviderGmail, provider.FactoryFunc(
		func(_ context.Context, _ model.Connection, creds model.Credentials) (provider.Provider, error) {
			oauthCfg := gmail.OAuthConfig(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret)
			return gmail.New(creds, oauthCfg, gmail.WithLogger(logger)), nil
		}))
	return r
}

// Register adds or replaces the factory for a provider type.
func (r *Registry) Register(t model.ProviderType, f provider.Factory) {
	r.factories[t] = f
}

// New implements provider.Factory by dispatching on conn.Provider.
func (r *Registry) New(
	ctx context.Context,
	conn model.Connection,
	creds model.Credentials,
) (provider.Provider, error) {
	f, ok := r.factories[conn.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", conn.Provider)
	}
	return f.New(ctx, conn, creds)
}

var _ provider.Factory = (*Registry)(nil)
