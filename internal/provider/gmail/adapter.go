// Package gmail implements the Gmail API mailbox provider. Labels are
// additive, so applying one never removes the message from the inbox.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/provider"
)

const (
	user           = "me"
	refreshLeeway  = 5 * time.Minute
	maxBodyText    = 8 * 1024
	defaultPerPage = 50
)

// Adapter is the Gmail provider for one connection.
type Adapter struct {
	oauth      *oauth2.Config
	logger     *slog.Logger
	clientOpts []option.ClientOption
	now        func() time.Time

	mu    sync.Mutex
	creds model.Credentials
	svc   *gmailv1.Service
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClientOptions replaces the OAuth-backed HTTP client, e.g. to point
// the adapter at a different endpoint.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(a *Adapter) {
		a.clientOpts = opts
	}
}

// WithClock overrides the wall clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// OAuthConfig returns the Google OAuth client used to refresh tokens.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailv1.GmailModifyScope, gmailv1.GmailLabelsScope},
	}
}

// New returns a Gmail adapter for the given OAuth credentials.
func New(creds model.Credentials, oauthCfg *oauth2.Config, opts ...Option) *Adapter {
	a := &Adapter{
		oauth:  oauthCfg,
		logger: slog.Default(),
		now:    time.Now,
		creds:  creds,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Type implements provider.Provider.
func (a *Adapter) Type() model.ProviderType { return model.ProviderGmail }

// DefaultLabelKind implements provider.Provider.
func (a *Adapter) DefaultLabelKind() model.LabelKind { return model.LabelKindLabel }

func (a *Adapter) token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  a.creds.AccessToken,
		RefreshToken: a.creds.RefreshToken,
		TokenType:    a.creds.TokenType,
		Expiry:       a.creds.Expiry,
	}
}

// service returns the API client, building it on first use.
// Callers must hold a.mu.
func (a *Adapter) service(ctx context.Context) (*gmailv1.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	opts := a.clientOpts
	if len(opts) == 0 {
		if a.creds.AccessToken == "" && a.creds.RefreshToken == "" {
			return nil, &provider.AuthError{Provider: model.ProviderGmail, Message: "no OAuth token stored"}
		}
		var httpClient *http.Client
		if a.oauth != nil {
			httpClient = a.oauth.Client(context.Background(), a.token())
		} else {
			httpClient = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(a.token()))
		}
		opts = []option.ClientOption{option.WithHTTPClient(httpClient)}
	}
	svc, err := gmailv1.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	a.svc = svc
	return svc, nil
}

// FetchMessages lists inbox messages newest first using Gmail's own page
// tokens, then reads each message in full.
func (a *Adapter) FetchMessages(
	ctx context.Context, opts provider.FetchOptions,
) (*provider.FetchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	svc, err := a.service(ctx)
	if err != nil {
		return nil, fetchErr(err)
	}

	size := opts.MaxResults
	if size <= 0 {
		size = defaultPerPage
	}
	call := svc.Users.Messages.List(user).LabelIds("INBOX").MaxResults(int64(size))
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}
	if opts.Since != nil {
		call = call.Q("after:" + strconv.FormatInt(opts.Since.Unix(), 10))
	}

	list, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fetchErr(classify(err))
	}

	result := &provider.FetchResult{
		NextPageToken: list.NextPageToken,
		HasMore:       list.NextPageToken != "",
	}
	for _, ref := range list.Messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := svc.Users.Messages.Get(user, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fetchErr(classify(fmt.Errorf("get message %s: %w", ref.Id, err)))
		}
		result.Messages = append(result.Messages, normalize(msg))
	}
	return result, nil
}

// GetLabels lists user and system labels.
func (a *Adapter) GetLabels(ctx context.Context) ([]provider.LabelInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	svc, err := a.service(ctx)
	if err != nil {
		return nil, err
	}
	return a.listLabels(ctx, svc)
}

func (a *Adapter) listLabels(ctx context.Context, svc *gmailv1.Service) ([]provider.LabelInfo, error) {
	resp, err := svc.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("list labels: %w", err))
	}
	labels := make([]provider.LabelInfo, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, provider.LabelInfo{ID: l.Id, Name: l.Name, Kind: model.LabelKindLabel})
	}
	return labels, nil
}

// CreateLabel creates a user label. A 409 conflict means another caller
// created it first; the existing label is returned.
func (a *Adapter) CreateLabel(ctx context.Context, name string) (provider.LabelInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	svc, err := a.service(ctx)
	if err != nil {
		return provider.LabelInfo{}, err
	}

	created, err := svc.Users.Labels.Create(user, &gmailv1.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err == nil {
		return provider.LabelInfo{ID: created.Id, Name: created.Name, Kind: model.LabelKindLabel}, nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusConflict {
		return provider.LabelInfo{}, classify(fmt.Errorf("create label %s: %w", name, err))
	}
	labels, err := a.listLabels(ctx, svc)
	if err != nil {
		return provider.LabelInfo{}, err
	}
	if l, ok := provider.FindLabel(labels, name); ok {
		return l, nil
	}
	return provider.LabelInfo{}, fmt.Errorf("label %s reported as existing but not listed", name)
}

// GetOrCreateLabel finds a label by name or creates it.
func (a *Adapter) GetOrCreateLabel(ctx context.Context, name string) (provider.LabelInfo, error) {
	labels, err := a.GetLabels(ctx)
	if err != nil {
		return provider.LabelInfo{}, err
	}
	if l, ok := provider.FindLabel(labels, name); ok {
		return l, nil
	}
	return a.CreateLabel(ctx, name)
}

// ApplyLabel adds the label to the message.
func (a *Adapter) ApplyLabel(ctx context.Context, messageID, labelID string) provider.ApplyResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	svc, err := a.service(ctx)
	if err != nil {
		return provider.ApplyResult{Error: err}
	}
	req := &gmailv1.ModifyMessageRequest{AddLabelIds: []string{labelID}}
	if _, err := svc.Users.Messages.Modify(user, messageID, req).Context(ctx).Do(); err != nil {
		return provider.ApplyResult{Error: classify(fmt.Errorf("label message %s: %w", messageID, err))}
	}
	return provider.ApplyResult{Success: true}
}

// RemoveLabel removes the label from the message.
func (a *Adapter) RemoveLabel(ctx context.Context, messageID, labelID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	req := &gmailv1.ModifyMessageRequest{RemoveLabelIds: []string{labelID}}
	if _, err := svc.Users.Messages.Modify(user, messageID, req).Context(ctx).Do(); err != nil {
		return classify(fmt.Errorf("unlabel message %s: %w", messageID, err))
	}
	return nil
}

// TestConnection reads the mailbox profile.
func (a *Adapter) TestConnection(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	svc, err := a.service(ctx)
	if err != nil {
		return false, err
	}
	if _, err := svc.Users.GetProfile(user).Context(ctx).Do(); err != nil {
		return false, classify(fmt.Errorf("get profile: %w", err))
	}
	return true, nil
}

// RefreshTokenIfNeeded exchanges the refresh token when the access token
// expires within a few minutes. It returns the new credentials, or nil when
// the token is still fresh.
func (a *Adapter) RefreshTokenIfNeeded(ctx context.Context) (*model.Credentials, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.creds.Expiry.IsZero() || a.creds.Expiry.After(a.now().Add(refreshLeeway)) {
		return nil, nil
	}
	if a.creds.RefreshToken == "" || a.oauth == nil {
		return nil, &provider.AuthError{Provider: model.ProviderGmail, Message: "access token expired and no refresh token"}
	}

	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: a.creds.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, &provider.AuthError{
			Provider: model.ProviderGmail,
			Message:  fmt.Sprintf("token refresh failed: %v", err),
			Err:      err,
		}
	}

	updated := a.creds
	updated.AccessToken = tok.AccessToken
	updated.TokenType = tok.TokenType
	updated.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	a.creds = updated
	a.svc = nil

	a.logger.Debug("refreshed gmail token", "expiry", tok.Expiry)
	out := updated
	return &out, nil
}

// Disconnect drops the API client. Safe to call more than once.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.svc = nil
	return nil
}

func normalize(msg *gmailv1.Message) model.MailboxMessage {
	out := model.MailboxMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		IsRead:   true,
	}
	if msg.InternalDate > 0 {
		out.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	for _, l := range msg.LabelIds {
		if l == "UNREAD" {
			out.IsRead = false
		}
	}
	if msg.Payload == nil {
		return out
	}

	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			out.From = parseAddress(h.Value)
		case "to":
			out.To = parseAddressList(h.Value)
		case "subject":
			out.Subject = h.Value
		case "message-id":
			out.MessageID = h.Value
		}
	}

	text := extractText(msg.Payload, "text/plain")
	if text == "" {
		text = stripHTML(extractText(msg.Payload, "text/html"))
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxBodyText {
		text = text[:maxBodyText]
	}
	out.Body = strings.ToValidUTF8(text, "")
	out.HasAttachments = hasAttachment(msg.Payload)
	return out
}

func parseAddress(v string) string {
	addr, err := mail.ParseAddress(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return addr.Address
}

func parseAddressList(v string) []string {
	list, err := mail.ParseAddressList(v)
	if err != nil {
		return []string{strings.TrimSpace(v)}
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

func extractText(part *gmailv1.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, mimeType) && part.Filename == "" && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}
	for _, p := range part.Parts {
		if s := extractText(p, mimeType); s != "" {
			return s
		}
	}
	return ""
}

func hasAttachment(part *gmailv1.MessagePart) bool {
	if part == nil {
		return false
	}
	if part.Filename != "" || (part.Body != nil && part.Body.AttachmentId != "") {
		return true
	}
	for _, p := range part.Parts {
		if hasAttachment(p) {
			return true
		}
	}
	return false
}

func decodeBody(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}

// classify converts 401 responses into AuthError.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return &provider.AuthError{Provider: model.ProviderGmail, Message: gerr.Message, Err: err}
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return &provider.AuthError{Provider: model.ProviderGmail, Message: "token rejected", Err: err}
	}
	return err
}

func fetchErr(err error) error {
	if provider.IsAuthError(err) {
		return err
	}
	return &provider.FetchError{Provider: model.ProviderGmail, Err: err}
}

var _ provider.Provider = (*Adapter)(nil)
