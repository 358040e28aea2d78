package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/provider"
)

// fakeMailbox is a folder-style mailbox shared by every provider session
// built from the same factory.
type fakeMailbox struct {
	mu      sync.Mutex
	folders map[string][]model.MailboxMessage

	fetchErr  error
	applyErr  error
	panicOn   string
	refreshed *model.Credentials
	onApply   func(messageID string)
	pageSize  int

	// labelOnly keeps labeled messages in INBOX, like a Gmail label.
	labelOnly bool

	applyCalls int
	creates    int
	disconnect int
	sessions   int
}

func newFakeMailbox(msgs ...model.MailboxMessage) *fakeMailbox {
	return &fakeMailbox{
		folders:  map[string][]model.MailboxMessage{"INBOX": msgs},
		pageSize: 2,
	}
}

func (m *fakeMailbox) factory() provider.Factory {
	return provider.FactoryFunc(func(context.Context, model.Connection, model.Credentials) (provider.Provider, error) {
		m.mu.Lock()
		m.sessions++
		m.mu.Unlock()
		return &fakeProvider{box: m}, nil
	})
}

func (m *fakeMailbox) ids(folder string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.folders[folder] {
		out = append(out, msg.ID)
	}
	return out
}

type fakeProvider struct {
	box *fakeMailbox
}

func (p *fakeProvider) Type() model.ProviderType          { return model.ProviderIMAP }
func (p *fakeProvider) DefaultLabelKind() model.LabelKind { return model.LabelKindFolder }

func (p *fakeProvider) FetchMessages(_ context.Context, opts provider.FetchOptions) (*provider.FetchResult, error) {
	m := p.box
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	offset := 0
	if opts.PageToken != "" {
		offset, _ = strconv.Atoi(opts.PageToken)
	}
	inbox := m.folders["INBOX"]
	size := min(m.pageSize, opts.MaxResults)
	end := min(offset+size, len(inbox))

	res := &provider.FetchResult{Messages: append([]model.MailboxMessage(nil), inbox[offset:end]...)}
	if end < len(inbox) {
		res.HasMore = true
		res.NextPageToken = strconv.Itoa(end)
	}
	return res, nil
}

func (p *fakeProvider) GetLabels(context.Context) ([]provider.LabelInfo, error) {
	m := p.box
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []provider.LabelInfo
	for name := range m.folders {
		out = append(out, provider.LabelInfo{ID: name, Name: name, Kind: model.LabelKindFolder})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *fakeProvider) CreateLabel(_ context.Context, name string) (provider.LabelInfo, error) {
	m := p.box
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[name]; !ok {
		m.folders[name] = nil
		m.creates++
	}
	return provider.LabelInfo{ID: name, Name: name, Kind: model.LabelKindFolder}, nil
}

func (p *fakeProvider) GetOrCreateLabel(ctx context.Context, name string) (provider.LabelInfo, error) {
	labels, err := p.GetLabels(ctx)
	if err != nil {
		return provider.LabelInfo{}, err
	}
	if l, ok := provider.FindLabel(labels, name); ok {
		return l, nil
	}
	return p.CreateLabel(ctx, name)
}

func (p *fakeProvider) ApplyLabel(_ context.Context, messageID, labelID string) provider.ApplyResult {
	m := p.box
	if m.panicOn == messageID {
		panic("malformed message " + messageID)
	}

	m.mu.Lock()
	m.applyCalls++
	if m.applyErr != nil {
		m.mu.Unlock()
		return provider.ApplyResult{Error: m.applyErr}
	}
	inbox := m.folders["INBOX"]
	found := -1
	for i, msg := range inbox {
		if msg.ID == messageID {
			found = i
			break
		}
	}
	if found < 0 {
		m.mu.Unlock()
		return provider.ApplyResult{Error: fmt.Errorf("message %s not in INBOX", messageID)}
	}
	m.folders[labelID] = append(m.folders[labelID], inbox[found])
	if !m.labelOnly {
		m.folders["INBOX"] = append(inbox[:found:found], inbox[found+1:]...)
	}
	hook := m.onApply
	m.mu.Unlock()

	if hook != nil {
		hook(messageID)
	}
	return provider.ApplyResult{Success: true}
}

func (p *fakeProvider) RemoveLabel(context.Context, string, string) error {
	return errors.New("not supported")
}

func (p *fakeProvider) TestConnection(context.Context) (bool, error) { return true, nil }

func (p *fakeProvider) RefreshTokenIfNeeded(context.Context) (*model.Credentials, error) {
	return p.box.refreshed, nil
}

func (p *fakeProvider) Disconnect() error {
	p.box.mu.Lock()
	p.box.disconnect++
	p.box.mu.Unlock()
	return nil
}
