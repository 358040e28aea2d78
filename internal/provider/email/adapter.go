// Package email implements the IMAP mailbox provider. Categories map to
// folders and applying a label moves the message into that folder.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/provider"
)

const defaultPageSize = 50

// Adapter is the IMAP provider for one connection. A session is opened
// lazily and reused until Disconnect.
type Adapter struct {
	creds       model.Credentials
	mailbox     string
	dialTimeout time.Duration
	logger      *slog.Logger
	newClient   func(model.Credentials) (imapClient, error)

	mu     sync.Mutex
	client imapClient
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithMailbox sets the primary mailbox (default INBOX).
func WithMailbox(name string) Option {
	return func(a *Adapter) {
		if name != "" {
			a.mailbox = name
		}
	}
}

// WithDialTimeout overrides the socket dial timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.dialTimeout = d
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

func withClientFactory(f func(model.Credentials) (imapClient, error)) Option {
	return func(a *Adapter) {
		a.newClient = f
	}
}

// New returns an IMAP adapter for the given credentials.
func New(creds model.Credentials, opts ...Option) *Adapter {
	a := &Adapter{
		creds:       creds,
		mailbox:     "INBOX",
		dialTimeout: 10 * time.Second,
		logger:      slog.Default(),
	}
	a.newClient = func(c model.Credentials) (imapClient, error) {
		return dial(c, a.dialTimeout)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Type implements provider.Provider.
func (a *Adapter) Type() model.ProviderType { return model.ProviderIMAP }

// DefaultLabelKind implements provider.Provider.
func (a *Adapter) DefaultLabelKind() model.LabelKind { return model.LabelKindFolder }

// session returns the logged-in client, connecting on first use.
// Callers must hold a.mu.
func (a *Adapter) session(ctx context.Context) (imapClient, error) {
	if a.client != nil {
		return a.client, nil
	}
	if a.creds.Host == "" || a.creds.Username == "" {
		return nil, &provider.AuthError{
			Provider: model.ProviderIMAP,
			Message:  "missing host or username",
		}
	}

	client, err := a.newClient(a.creds)
	if err != nil {
		return nil, err
	}
	intact, err := guard(ctx, client, func() error {
		return client.Login(a.creds.Username, a.creds.Password).Wait()
	})
	if !intact {
		return nil, fmt.Errorf("imap login interrupted: %w", ctx.Err())
	}
	if err != nil {
		_ = client.Close()
		return nil, &provider.AuthError{
			Provider: model.ProviderIMAP,
			Message:  fmt.Sprintf("authentication failed for %s: %v", a.creds.Username, err),
			Err:      err,
		}
	}
	a.client = client
	return client, nil
}

// guard closes client when ctx ends before fn returns, which fails every
// command still waiting on the server. It reports whether the session
// survived.
func guard(ctx context.Context, client imapClient, fn func() error) (bool, error) {
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	err := fn()
	return stop(), err
}

// do runs fn against the session under a.mu. A session torn down by ctx
// is dropped, so the next call dials again.
func (a *Adapter) do(ctx context.Context, fn func(imapClient) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := a.session(ctx)
	if err != nil {
		return err
	}

	intact, err := guard(ctx, client, func() error { return fn(client) })
	if intact {
		return err
	}
	a.client = nil
	if err != nil {
		return fmt.Errorf("imap session closed: %w", ctx.Err())
	}
	return nil
}

// FetchMessages returns messages of the primary mailbox newest first. The
// page token is the offset into the UID list, newest first.
func (a *Adapter) FetchMessages(
	ctx context.Context, opts provider.FetchOptions,
) (*provider.FetchResult, error) {
	var result *provider.FetchResult
	err := a.do(ctx, func(client imapClient) error {
		var err error
		result, err = a.fetch(client, opts)
		return err
	})
	if err != nil {
		return nil, fetchErr(err)
	}
	return result, nil
}

func (a *Adapter) fetch(client imapClient, opts provider.FetchOptions) (*provider.FetchResult, error) {
	if _, err := client.Select(a.mailbox, nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", a.mailbox, err)
	}

	criteria := &imap.SearchCriteria{}
	if opts.Since != nil {
		criteria.Since = *opts.Since
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", a.mailbox, err)
	}

	uids := searchData.AllUIDs()
	slices.SortFunc(uids, func(x, y imap.UID) int {
		switch {
		case x > y:
			return -1
		case x < y:
			return 1
		default:
			return 0
		}
	})

	offset := 0
	if opts.PageToken != "" {
		offset, err = strconv.Atoi(opts.PageToken)
		if err != nil || offset < 0 {
			return nil, fmt.Errorf("%w %q", provider.ErrInvalidPageToken, opts.PageToken)
		}
	}
	size := opts.MaxResults
	if size <= 0 {
		size = defaultPageSize
	}

	result := &provider.FetchResult{}
	if offset >= len(uids) {
		return result, nil
	}
	end := min(offset+size, len(uids))
	page := uids[offset:end]
	if end < len(uids) {
		result.HasMore = true
		result.NextPageToken = strconv.Itoa(end)
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:      true,
		Flags:         true,
		UID:           true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
		BodySection: []*imap.FetchItemBodySection{{
			Peek:    true,
			Partial: &imap.SectionPartial{Offset: 0, Size: 64 * 1024},
		}},
	}
	bufs, err := client.Fetch(imap.UIDSetNum(page...), fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	byUID := make(map[imap.UID]model.MailboxMessage, len(bufs))
	for _, buf := range bufs {
		byUID[buf.UID] = messageFromBuffer(buf)
	}
	// Servers return FETCH responses in ascending order; keep ours.
	for _, uid := range page {
		if msg, ok := byUID[uid]; ok {
			result.Messages = append(result.Messages, msg)
		}
	}

	return result, nil
}

// GetLabels lists every folder on the server.
func (a *Adapter) GetLabels(ctx context.Context) ([]provider.LabelInfo, error) {
	var labels []provider.LabelInfo
	err := a.do(ctx, func(client imapClient) error {
		var err error
		labels, err = a.listFolders(client)
		return err
	})
	return labels, err
}

func (a *Adapter) listFolders(client imapClient) ([]provider.LabelInfo, error) {
	boxes, err := client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	labels := make([]provider.LabelInfo, 0, len(boxes))
	for _, b := range boxes {
		labels = append(labels, folderLabel(b.Mailbox))
	}
	return labels, nil
}

// CreateLabel creates a folder. A folder that already exists, including
// one created concurrently by another session, is returned as success.
func (a *Adapter) CreateLabel(ctx context.Context, name string) (provider.LabelInfo, error) {
	err := a.do(ctx, func(client imapClient) error {
		return a.createFolder(client, name)
	})
	if err != nil {
		return provider.LabelInfo{}, err
	}
	return folderLabel(name), nil
}

func (a *Adapter) createFolder(client imapClient, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("folder name is empty")
	}
	if err := client.Create(name, nil).Wait(); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("creating folder %s: %w", name, err)
	}
	a.logger.Debug("created folder", "folder", name)
	return nil
}

// GetOrCreateLabel finds a folder by name or creates it.
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

// ApplyLabel moves the message identified by its UID in the primary
// mailbox into the target folder.
func (a *Adapter) ApplyLabel(ctx context.Context, messageID, labelID string) provider.ApplyResult {
	uid, err := parseUID(messageID)
	if err != nil {
		return provider.ApplyResult{Error: err}
	}

	err = a.do(ctx, func(client imapClient) error {
		// The folder may have been created earlier in this run or removed
		// out of band; CREATE is idempotent here.
		if err := a.createFolder(client, labelID); err != nil {
			return err
		}
		if _, err := client.Select(a.mailbox, nil).Wait(); err != nil {
			return fmt.Errorf("selecting %s: %w", a.mailbox, err)
		}
		if _, err := client.Move(imap.UIDSetNum(uid), labelID).Wait(); err != nil {
			return fmt.Errorf("moving UID %d to %s: %w", uid, labelID, err)
		}
		return nil
	})
	if err != nil {
		return provider.ApplyResult{Error: err}
	}
	return provider.ApplyResult{Success: true}
}

// RemoveLabel moves a message out of a folder back into the primary
// mailbox. messageID must be the UID inside labelID: the UID a message had
// in the primary mailbox does not survive a move. Use Refile to address a
// message by its Message-ID instead.
func (a *Adapter) RemoveLabel(ctx context.Context, messageID, labelID string) error {
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}
	return a.do(ctx, func(client imapClient) error {
		if _, err := client.Select(labelID, nil).Wait(); err != nil {
			return fmt.Errorf("selecting %s: %w", labelID, err)
		}
		if _, err := client.Move(imap.UIDSetNum(uid), a.mailbox).Wait(); err != nil {
			return fmt.Errorf("moving UID %d to %s: %w", uid, a.mailbox, err)
		}
		return nil
	})
}

// Refile moves a message from one folder into another. The message is
// looked up in from by its Message-ID header, since its UID there is not
// the one it had in the primary mailbox.
func (a *Adapter) Refile(ctx context.Context, rfcMessageID, from, to string) provider.ApplyResult {
	if strings.TrimSpace(rfcMessageID) == "" {
		return provider.ApplyResult{Error: fmt.Errorf("no Message-ID to search %s for: %w", from, provider.ErrMessageNotFound)}
	}

	err := a.do(ctx, func(client imapClient) error {
		if err := a.createFolder(client, to); err != nil {
			return err
		}
		if _, err := client.Select(from, nil).Wait(); err != nil {
			return fmt.Errorf("selecting %s: %w", from, err)
		}
		data, err := client.UIDSearch(&imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: "Message-ID", Value: rfcMessageID}},
		}, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching %s: %w", from, err)
		}
		uids := data.AllUIDs()
		if len(uids) == 0 {
			return fmt.Errorf("%s in %s: %w", rfcMessageID, from, provider.ErrMessageNotFound)
		}
		if _, err := client.Move(imap.UIDSetNum(uids...), to).Wait(); err != nil {
			return fmt.Errorf("moving %s to %s: %w", rfcMessageID, to, err)
		}
		return nil
	})
	if err != nil {
		return provider.ApplyResult{Error: err}
	}
	return provider.ApplyResult{Success: true}
}

// MarkRead sets the \Seen flag on a message in the primary mailbox.
func (a *Adapter) MarkRead(ctx context.Context, messageID string) error {
	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}
	return a.do(ctx, func(client imapClient) error {
		if _, err := client.Select(a.mailbox, nil).Wait(); err != nil {
			return fmt.Errorf("selecting %s: %w", a.mailbox, err)
		}
		store := &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}
		return client.Store(imap.UIDSetNum(uid), store, nil).Close()
	})
}

// TestConnection examines the primary mailbox read-only.
func (a *Adapter) TestConnection(ctx context.Context) (bool, error) {
	err := a.do(ctx, func(client imapClient) error {
		if _, err := client.Select(a.mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
			return fmt.Errorf("examining %s: %w", a.mailbox, err)
		}
		if err := client.Noop().Wait(); err != nil {
			return fmt.Errorf("noop: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// RefreshTokenIfNeeded always returns nil; IMAP uses static credentials.
func (a *Adapter) RefreshTokenIfNeeded(_ context.Context) (*model.Credentials, error) {
	return nil, nil
}

// Disconnect logs out and closes the session. LOGOUT is bounded by the
// dial timeout. Calling it again, or before any session exists, is a
// no-op.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return nil
	}
	client := a.client
	a.client = nil

	ctx, cancel := context.WithTimeout(context.Background(), a.dialTimeout)
	defer cancel()
	intact, err := guard(ctx, client, func() error { return client.Logout().Wait() })
	if err != nil {
		a.logger.Debug("imap logout failed", "error", err)
	}
	if !intact {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("closing IMAP session: %w", err)
	}
	return nil
}

func folderLabel(name string) provider.LabelInfo {
	return provider.LabelInfo{ID: name, Name: name, Kind: model.LabelKindFolder}
}

func parseUID(messageID string) (imap.UID, error) {
	n, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid IMAP UID %q", messageID)
	}
	return imap.UID(n), nil
}

func isAlreadyExists(err error) bool {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) && imapErr.Code == imap.ResponseCodeAlreadyExists {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "alreadyexists") || strings.Contains(msg, "already exists")
}

func fetchErr(err error) error {
	if provider.IsAuthError(err) {
		return err
	}
	return &provider.FetchError{Provider: model.ProviderIMAP, Err: err}
}

var (
	_ provider.Provider = (*Adapter)(nil)
	_ provider.Refiler  = (*Adapter)(nil)
)
