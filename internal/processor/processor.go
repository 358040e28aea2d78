// Package processor runs the classification pipeline for one mailbox
// connection: fetch, classify, label, and record each message once.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsort/internal/classify"
	"github.com/nhle/mailsort/internal/metrics"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/provider"
	"github.com/nhle/mailsort/internal/store"
)

// DefaultMaxEmails caps a run when Options.MaxEmails is unset.
const DefaultMaxEmails = 50

// Options parameterize one run.
type Options struct {
	MaxEmails      int  `json:"maxEmails"`
	DryRun         bool `json:"dryRun"`
	ForceReprocess bool `json:"forceReprocess"`
}

// MessageError is a failure scoped to one message.
type MessageError struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// Result summarizes a run.
type Result struct {
	ConnectionID      string         `json:"connectionId"`
	MessagesProcessed int            `json:"messagesProcessed"`
	MessagesLabeled   int            `json:"messagesLabeled"`
	MessagesReview    int            `json:"messagesReview"`
	Errors            []MessageError `json:"errors"`
	DurationMs        int64          `json:"durationMs"`
}

// CredentialCipher opens and seals stored secrets.
type CredentialCipher interface {
	OpenCredentials(ciphertext string) (model.Credentials, error)
	SealCredentials(creds model.Credentials) (string, error)
	DecryptString(ciphertext string) (string, error)
}

// Processor runs the pipeline. It holds no per-run state, so runs for
// different connections may execute concurrently.
type Processor struct {
	store     store.Store
	providers provider.Factory
	cipher    CredentialCipher

	llmConfig   model.LLMConfig
	llmClients  classify.ClientFactory
	labelReview bool

	recorder *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithLLMConfig sets the process-wide LLM settings.
func WithLLMConfig(cfg model.LLMConfig) Option {
	return func(p *Processor) { p.llmConfig = cfg }
}

// WithLLMClientFactory replaces how LLM clients are built.
func WithLLMClientFactory(f classify.ClientFactory) Option {
	return func(p *Processor) { p.llmClients = f }
}

// WithLabelReview controls whether REVIEW results are filed under the
// review label.
func WithLabelReview(on bool) Option {
	return func(p *Processor) { p.labelReview = on }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r *metrics.Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New returns a Processor.
func New(st store.Store, providers provider.Factory, cipher CredentialCipher, opts ...Option) *Processor {
	p := &Processor{
		store:       st,
		providers:   providers,
		cipher:      cipher,
		labelReview: true,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes one connection. Message-scoped failures are collected in
// Result.Errors. Run-level failures set the connection status and are
// returned. On cancellation the partial result is returned with ctx.Err().
func (p *Processor) Run(ctx context.Context, connectionID string, opts Options) (*Result, error) {
	start := p.now()
	if opts.MaxEmails <= 0 {
		opts.MaxEmails = DefaultMaxEmails
	}

	result := &Result{ConnectionID: connectionID, Errors: []MessageError{}}
	logger := p.logger.With("connection_id", connectionID, "run_id", uuid.New().String())

	finish := func(outcome string) {
		d := p.now().Sub(start)
		result.DurationMs = d.Milliseconds()
		p.recorder.RunFinished(outcome, d)
	}

	conn, err := p.store.GetConnection(ctx, connectionID)
	if err != nil {
		finish(metrics.OutcomeError)
		return result, fmt.Errorf("loading connection: %w", err)
	}
	if conn.Status != model.StatusActive {
		finish(metrics.OutcomeSkipped)
		return result, fmt.Errorf("%w: %s is %s", ErrConnectionInactive, conn.ID, conn.Status)
	}

	err = p.run(ctx, logger, *conn, opts, result)
	switch {
	case err == nil:
		if markErr := p.store.MarkConnectionSynced(ctx, conn.ID, p.now()); markErr != nil {
			logger.Warn("recording sync time failed", "error", markErr)
		}
		finish(metrics.OutcomeSuccess)
		logger.Info("run finished",
			"processed", result.MessagesProcessed,
			"labeled", result.MessagesLabeled,
			"review", result.MessagesReview,
			"errors", len(result.Errors))
		return result, nil

	case ctx.Err() != nil:
		finish(metrics.OutcomeError)
		logger.Warn("run interrupted", "processed", result.MessagesProcessed, "error", err)
		return result, ctx.Err()

	default:
		status := ClassifyFailure(err)
		if setErr := p.store.UpdateConnectionStatus(context.WithoutCancel(ctx), conn.ID, status, err.Error()); setErr != nil {
			logger.Error("recording connection status failed", "error", setErr)
		}
		outcome := metrics.OutcomeError
		if status == model.StatusNeedsReauth {
			outcome = metrics.OutcomeReauth
		}
		finish(outcome)
		logger.Error("run failed", "status", status, "error", err)
		return result, err
	}
}

// OpenProvider decrypts the connection's credentials and builds its
// provider. The caller must Disconnect it.
func (p *Processor) OpenProvider(ctx context.Context, conn model.Connection) (provider.Provider, error) {
	creds, err := p.cipher.OpenCredentials(conn.EncryptedCredentials)
	if err != nil {
		return nil, fmt.Errorf("opening credentials: %w", err)
	}

	prov, err := p.providers.New(ctx, conn, creds)
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}
	return prov, nil
}

func (p *Processor) run(
	ctx context.Context,
	logger *slog.Logger,
	conn model.Connection,
	opts Options,
	result *Result,
) error {
	prov, err := p.OpenProvider(ctx, conn)
	if err != nil {
		return err
	}
	defer func() {
		if err := prov.Disconnect(); err != nil {
			logger.Warn("disconnect failed", "error", err)
		}
	}()

	refreshed, err := prov.RefreshTokenIfNeeded(ctx)
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}
	if refreshed != nil {
		sealed, err := p.cipher.SealCredentials(*refreshed)
		if err != nil {
			return fmt.Errorf("sealing refreshed credentials: %w", err)
		}
		if err := p.store.UpdateConnectionCredentials(ctx, conn.ID, sealed); err != nil {
			return fmt.Errorf("saving refreshed credentials: %w", storeFailure(err))
		}
		logger.Info("refreshed access token")
	}

	classifier, resolver, err := p.prepare(ctx, logger, conn, prov.DefaultLabelKind())
	if err != nil {
		return err
	}

	messages, err := fetchAll(ctx, prov, opts.MaxEmails)
	if err != nil {
		return err
	}

	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	processed, err := p.store.ProcessedIDs(ctx, conn.ID, ids)
	if err != nil {
		return fmt.Errorf("loading processed messages: %w", storeFailure(err))
	}

	run := &messageRun{
		p:          p,
		logger:     logger,
		conn:       conn,
		prov:       prov,
		classifier: classifier,
		resolver:   resolver,
		opts:       opts,
		labels:     make(map[string]provider.LabelInfo),
	}

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}

		existed := processed[msg.ID]
		if existed && !opts.ForceReprocess {
			p.recorder.Message(metrics.MessageSkipped)
			continue
		}

		out, err := run.processSafely(ctx, msg, existed)
		if out.recorded {
			result.MessagesProcessed++
			if out.labeled {
				result.MessagesLabeled++
			}
			if out.review {
				result.MessagesReview++
			}
		}
		if err != nil {
			result.Errors = append(result.Errors, MessageError{MessageID: msg.ID, Error: err.Error()})
			p.recorder.Message(metrics.MessageError)
			logger.Warn("message failed", "message_id", msg.ID, "error", err)
			continue
		}
		switch {
		case out.labeled:
			p.recorder.Message(metrics.MessageLabeled)
		case out.review:
			p.recorder.Message(metrics.MessageReview)
		}
	}

	// Cancellation during the last message must not count as a full run.
	return ctx.Err()
}

// prepare loads the per-user classifier and label catalog for a run.
func (p *Processor) prepare(
	ctx context.Context,
	logger *slog.Logger,
	conn model.Connection,
	defaultKind model.LabelKind,
) (*classify.Unified, *LabelResolver, error) {
	if err := p.store.EnsureSystemCategories(ctx, conn.UserID); err != nil {
		return nil, nil, fmt.Errorf("seeding categories: %w", storeFailure(err))
	}

	categories, err := p.store.ListCategories(ctx, conn.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading categories: %w", storeFailure(err))
	}
	rules, err := p.store.ListActiveRules(ctx, conn.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading rules: %w", storeFailure(err))
	}

	record, err := p.store.GetLLMProvider(ctx, conn.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("loading LLM settings: %w", storeFailure(err))
	}

	var llmClassifier classify.Classifier
	allowOverride := false
	if settings := classify.ResolveLLMConfig(record, p.llmConfig); settings != nil {
		opts := []classify.LLMOption{
			classify.WithDecrypter(p.cipher.DecryptString),
			classify.WithRecorder(p.recorder),
			classify.WithLLMLogger(logger),
		}
		if p.llmClients != nil {
			opts = append(opts, classify.WithClientFactory(p.llmClients))
		}
		llmClassifier = classify.NewLLMClassifier(*settings, categories, opts...)
		allowOverride = settings.AllowOverride
		logger.Debug("LLM classifier enabled", "provider", settings.Provider, "source", settings.Source)
	}

	unified := classify.NewUnified(classify.NewRuleClassifier(rules, logger), llmClassifier, allowOverride, logger)
	return unified, NewLabelResolver(p.store, conn, defaultKind, categories), nil
}

// fetchAll pages through the mailbox until limit messages are collected.
func fetchAll(ctx context.Context, prov provider.Provider, limit int) ([]model.MailboxMessage, error) {
	var out []model.MailboxMessage
	token := ""
	for len(out) < limit {
		page, err := prov.FetchMessages(ctx, provider.FetchOptions{
			MaxResults: limit - len(out),
			PageToken:  token,
		})
		if err != nil {
			return nil, fmt.Errorf("fetching messages: %w", err)
		}
		out = append(out, page.Messages...)
		if !page.HasMore || page.NextPageToken == "" || len(page.Messages) == 0 {
			break
		}
		token = page.NextPageToken
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type messageRun struct {
	p          *Processor
	logger     *slog.Logger
	conn       model.Connection
	prov       provider.Provider
	classifier *classify.Unified
	resolver   *LabelResolver
	opts       Options

	// labels caches resolved labels by name for the run.
	labels map[string]provider.LabelInfo
}

type messageOutcome struct {
	recorded bool
	labeled  bool
	review   bool
}

func (r *messageRun) processSafely(
	ctx context.Context,
	msg model.MailboxMessage,
	existed bool,
) (out messageOutcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while processing message: %v", rec)
		}
	}()
	return r.process(ctx, msg, existed)
}

func (r *messageRun) process(
	ctx context.Context,
	msg model.MailboxMessage,
	existed bool,
) (messageOutcome, error) {
	var out messageOutcome

	cls := r.classifier.Classify(ctx, msg)
	out.review = cls.NeedsReview()

	// Without a resolved label the message is still recorded, unlabeled.
	target, labelErr := r.resolver.Resolve(ctx, cls.Category)

	var labelApplied *string
	if labelErr == nil && !r.opts.DryRun && (!out.review || r.p.labelReview) {
		labelApplied, labelErr = r.applyLabel(ctx, msg, target)
		out.labeled = labelApplied != nil
	}

	// Once the mailbox may have changed the record must be written, even
	// if the run is being cancelled.
	writeCtx := context.WithoutCancel(ctx)
	if existed {
		if err := r.p.store.DeleteProcessed(writeCtx, r.conn.ID, msg.ID); err != nil {
			return out, err
		}
	}

	pm := ledgerRow(r.conn.ID, msg, cls, labelApplied)
	if err := r.p.store.CreateProcessed(writeCtx, pm); err != nil {
		return out, err
	}
	out.recorded = true

	r.audit(writeCtx, pm, target)

	r.logger.Debug("message classified",
		"message_id", msg.ID,
		"category", cls.Category,
		"confidence", cls.Confidence,
		"origin", cls.Origin,
		"label", target.Name,
		"labeled", out.labeled)

	return out, labelErr
}

// applyLabel files msg under target. Failures are returned but leave the
// message recorded without a label.
func (r *messageRun) applyLabel(
	ctx context.Context,
	msg model.MailboxMessage,
	target LabelTarget,
) (*string, error) {
	info, ok := r.labels[target.Name]
	if !ok {
		var err error
		info, err = r.prov.GetOrCreateLabel(ctx, target.Name)
		if err != nil {
			return nil, fmt.Errorf("preparing label %q: %w", target.Name, err)
		}
		r.labels[target.Name] = info
	}

	res := r.prov.ApplyLabel(ctx, msg.ID, info.ID)
	if !res.Success {
		if res.Error == nil {
			res.Error = errors.New("provider reported failure")
		}
		return nil, fmt.Errorf("applying label %q: %w", target.Name, res.Error)
	}
	id := info.ID
	return &id, nil
}

func ledgerRow(
	connectionID string,
	msg model.MailboxMessage,
	cls model.Classification,
	labelApplied *string,
) *model.ProcessedMessage {
	category := cls.Category
	pm := &model.ProcessedMessage{
		ConnectionID: connectionID,
		MessageID:    msg.ID,
		RFCMessageID: msg.MessageID,
		ThreadID:     msg.ThreadID,
		Category:     &category,
		Confidence:   cls.Confidence,
		LabelApplied: labelApplied,
		Origin:       cls.Origin,
		Rationale:    cls.Rationale,
		MatchedRule:  cls.MatchedRule,
		NeedsReview:  cls.NeedsReview(),
		ReviewState:  model.ReviewApproved,
		Subject:      msg.Subject,
		Sender:       msg.From,
	}
	if cls.NeedsReview() {
		pm.ReviewState = model.ReviewPending
	}
	if cls.SuggestedCategory != "" {
		s := cls.SuggestedCategory
		pm.SuggestedCategory = &s
	}
	if !msg.Date.IsZero() {
		d := msg.Date.UTC()
		pm.MessageDate = &d
	}
	return pm
}

// audit records the classification. Failures are logged only.
func (r *messageRun) audit(ctx context.Context, pm *model.ProcessedMessage, target LabelTarget) {
	details, err := json.Marshal(map[string]any{
		"message_id":    pm.MessageID,
		"category":      pm.Category,
		"suggested":     pm.SuggestedCategory,
		"confidence":    pm.Confidence,
		"origin":        pm.Origin,
		"label":         target.Name,
		"label_kind":    target.Kind,
		"label_applied": pm.LabelApplied != nil,
		"dry_run":       r.opts.DryRun,
	})
	if err != nil {
		r.logger.Warn("encoding audit details failed", "error", err)
		return
	}

	entry := &model.AuditEntry{
		UserID:     r.conn.UserID,
		Action:     model.AuditEmailClassified,
		EntityType: "processed_message",
		EntityID:   pm.ID,
		Details:    string(details),
	}
	if err := r.p.store.RecordAudit(ctx, entry); err != nil {
		r.logger.Warn("recording audit entry failed", "message_id", pm.MessageID, "error", err)
	}
}
