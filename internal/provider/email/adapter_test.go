package email

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsort/internal/logging"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/provider"
)

var testCreds = model.Credentials{Host: "mail.example", Username: "agent", Password: "secret", TLS: true}

func newTestAdapter(srv *fakeServer) *Adapter {
	return New(testCreds,
		WithLogger(logging.Discard()),
		withClientFactory(func(model.Credentials) (imapClient, error) {
			return srv.connect()
		}),
	)
}

func TestFetchMessagesNewestFirstWithPaging(t *testing.T) {
	srv := newFakeServer()
	for i := 1; i <= 5; i++ {
		srv.add("INBOX", fmt.Sprintf("Subject %d", i), plainBody(fmt.Sprintf("body %d", i)))
	}
	a := newTestAdapter(srv)
	defer a.Disconnect()

	first, err := a.FetchMessages(context.Background(), provider.FetchOptions{MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, "5", first.Messages[0].ID)
	assert.Equal(t, "4", first.Messages[1].ID)
	assert.True(t, first.HasMore)
	assert.Equal(t, "2", first.NextPageToken)

	second, err := a.FetchMessages(context.Background(), provider.FetchOptions{
		MaxResults: 2, PageToken: first.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Messages, 2)
	assert.Equal(t, "3", second.Messages[0].ID)

	last, err := a.FetchMessages(context.Background(), provider.FetchOptions{
		MaxResults: 2, PageToken: second.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, last.Messages, 1)
	assert.False(t, last.HasMore)
	assert.Empty(t, last.NextPageToken)
}

func TestFetchMessagesNormalizesFields(t *testing.T) {
	srv := newFakeServer()
	srv.add("INBOX", "Ihre Rechnung", plainBody("Bitte zahlen Sie   bis Freitag."))
	a := newTestAdapter(srv)
	defer a.Disconnect()

	res, err := a.FetchMessages(context.Background(), provider.FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)

	msg := res.Messages[0]
	assert.Equal(t, "billing@shop.example", msg.From)
	assert.Equal(t, []string{"agent@mail.example"}, msg.To)
	assert.Equal(t, "Ihre Rechnung", msg.Subject)
	assert.Equal(t, "Bitte zahlen Sie bis Freitag.", msg.Snippet)
	assert.Equal(t, "<1@shop.example>", msg.MessageID)
	assert.False(t, msg.IsRead)
}

func TestFetchMessagesInvalidPageToken(t *testing.T) {
	a := newTestAdapter(newFakeServer())
	defer a.Disconnect()

	_, err := a.FetchMessages(context.Background(), provider.FetchOptions{PageToken: "abc"})
	var fe *provider.FetchError
	require.ErrorAs(t, err, &fe)
}

func TestFetchMessagesSearchFailureIsFetchError(t *testing.T) {
	srv := newFakeServer()
	srv.searchErr = errors.New("connection reset")
	a := newTestAdapter(srv)
	defer a.Disconnect()

	_, err := a.FetchMessages(context.Background(), provider.FetchOptions{})
	var fe *provider.FetchError
	require.ErrorAs(t, err, &fe)
	assert.False(t, provider.IsAuthError(err))
}

func TestLoginFailureIsAuthError(t *testing.T) {
	srv := newFakeServer()
	srv.loginErr = errors.New("[AUTHENTICATIONFAILED] invalid credentials")
	a := newTestAdapter(srv)

	_, err := a.FetchMessages(context.Background(), provider.FetchOptions{})
	require.Error(t, err)
	assert.True(t, provider.IsAuthError(err))
	assert.Equal(t, 1, srv.closed)

	ok, err := a.TestConnection(context.Background())
	assert.False(t, ok)
	assert.True(t, provider.IsAuthError(err))
}

func TestApplyLabelMovesIntoExactlyOneFolder(t *testing.T) {
	srv := newFakeServer()
	srv.add("INBOX", "Invoice", plainBody("due"))
	a := newTestAdapter(srv)
	defer a.Disconnect()

	res := a.ApplyLabel(context.Background(), "1", "Rechnung")
	require.NoError(t, res.Error)
	assert.True(t, res.Success)

	assert.Empty(t, srv.subjects("INBOX"))
	assert.Equal(t, []string{"Invoice"}, srv.subjects("Rechnung"))

	// A second apply for the same UID fails: the message has moved.
	res = a.ApplyLabel(context.Background(), "1", "Rechnung")
	assert.False(t, res.Success)
	assert.Error(t, res.Error)
	assert.Equal(t, []string{"Invoice"}, srv.subjects("Rechnung"))
}

func TestApplyLabelRejectsBadUID(t *testing.T) {
	a := newTestAdapter(newFakeServer())
	res := a.ApplyLabel(context.Background(), "not-a-uid", "Rechnung")
	assert.False(t, res.Success)
	assert.Error(t, res.Error)
}

func TestGetOrCreateLabelConcurrentCallers(t *testing.T) {
	srv := newFakeServer()
	// Every session sees an empty LIST, forcing both to CREATE.
	srv.hideFolders = true

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := newTestAdapter(srv)
			defer a.Disconnect()
			l, err := a.GetOrCreateLabel(context.Background(), "Steuer")
			errs[i] = err
			if err == nil {
				assert.Equal(t, "Steuer", l.Name)
				assert.Equal(t, model.LabelKindFolder, l.Kind)
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, srv.folderCount("Steuer"))
	assert.Equal(t, 1, srv.creates)
}

func TestGetOrCreateLabelReturnsExisting(t *testing.T) {
	srv := newFakeServer()
	srv.folder("Bank")
	a := newTestAdapter(srv)
	defer a.Disconnect()

	l, err := a.GetOrCreateLabel(context.Background(), "Bank")
	require.NoError(t, err)
	assert.Equal(t, "Bank", l.ID)
	assert.Zero(t, srv.creates)
}

func TestRemoveLabelMovesBack(t *testing.T) {
	srv := newFakeServer()
	srv.add("Versand", "Parcel", plainBody("on its way"))
	a := newTestAdapter(srv)
	defer a.Disconnect()

	require.NoError(t, a.RemoveLabel(context.Background(), "1", "Versand"))
	assert.Equal(t, []string{"Parcel"}, srv.subjects("INBOX"))
}

func TestRefileFindsMessageByMessageIDNotInboxUID(t *testing.T) {
	srv := newFakeServer()
	srv.folder("Zu prüfen")
	srv.add("INBOX", "Filler 1", plainBody("x"))
	srv.add("INBOX", "Filler 2", plainBody("x"))
	inboxUID := srv.add("INBOX", "Target", plainBody("invoice"))
	a := newTestAdapter(srv)
	defer a.Disconnect()

	res, err := a.FetchMessages(context.Background(), provider.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, fmt.Sprint(inboxUID), res.Messages[0].ID)
	target := res.Messages[0].MessageID

	// UIDs 1 to 3 of the review folder belong to other mail, so the target
	// arrives there as UID 4 while its INBOX UID 3 names someone else.
	srv.add("Zu prüfen", "Other reviewed 1", plainBody("x"))
	srv.add("Zu prüfen", "Other reviewed 2", plainBody("x"))
	srv.add("Zu prüfen", "Other reviewed 3", plainBody("x"))
	apply := a.ApplyLabel(context.Background(), fmt.Sprint(inboxUID), "Zu prüfen")
	require.True(t, apply.Success, "%v", apply.Error)

	refile := a.Refile(context.Background(), target, "Zu prüfen", "Rechnung")
	require.NoError(t, refile.Error)
	assert.True(t, refile.Success)

	assert.Equal(t, []string{"Target"}, srv.subjects("Rechnung"))
	assert.Equal(t, []string{"Other reviewed 1", "Other reviewed 2", "Other reviewed 3"}, srv.subjects("Zu prüfen"))
	assert.Equal(t, []string{"Filler 1", "Filler 2"}, srv.subjects("INBOX"))
}

func TestRefileMissingMessageMovesNothing(t *testing.T) {
	srv := newFakeServer()
	srv.add("Zu prüfen", "Someone else", plainBody("x"))
	a := newTestAdapter(srv)
	defer a.Disconnect()

	res := a.Refile(context.Background(), "<gone@shop.example>", "Zu prüfen", "Rechnung")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, provider.ErrMessageNotFound)
	assert.Equal(t, []string{"Someone else"}, srv.subjects("Zu prüfen"))
	assert.Empty(t, srv.subjects("Rechnung"))

	res = a.Refile(context.Background(), "", "Zu prüfen", "Rechnung")
	assert.ErrorIs(t, res.Error, provider.ErrMessageNotFound)
}

func TestHungServerHonorsDeadline(t *testing.T) {
	srv := newFakeServer()
	srv.hang = true
	a := newTestAdapter(srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := a.FetchMessages(ctx, provider.FetchOptions{})
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("FetchMessages still blocked after its deadline")
	}

	// The torn-down session was dropped, so Disconnect neither blocks nor
	// closes it a second time.
	require.NoError(t, a.Disconnect())
	assert.Equal(t, 1, srv.closed)

	// A later call dials a fresh session.
	srv.mu.Lock()
	srv.hang = false
	srv.mu.Unlock()
	ok, err := a.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkReadStoresSeenFlag(t *testing.T) {
	srv := newFakeServer()
	srv.add("INBOX", "Hello", plainBody("hi"))
	a := newTestAdapter(srv)
	defer a.Disconnect()

	require.NoError(t, a.MarkRead(context.Background(), "1"))

	res, err := a.FetchMessages(context.Background(), provider.FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.True(t, res.Messages[0].IsRead)
}

func TestTestConnectionIsReadOnly(t *testing.T) {
	srv := newFakeServer()
	a := newTestAdapter(srv)
	defer a.Disconnect()

	ok, err := a.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, srv.lastSelectReadOnly)
}

func TestRefreshTokenIsNoop(t *testing.T) {
	a := newTestAdapter(newFakeServer())
	creds, err := a.RefreshTokenIfNeeded(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, creds)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv := newFakeServer()
	a := newTestAdapter(srv)

	require.NoError(t, a.Disconnect())

	_, err := a.GetLabels(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.Disconnect())
	require.NoError(t, a.Disconnect())
	assert.Equal(t, 1, srv.logouts)
	assert.Equal(t, 1, srv.closed)
}

func TestParseMIMEBodyHTMLFallback(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>Your <b>statement</b> is ready</p>"

	text, html, attached := parseMIMEBody([]byte(raw))
	assert.Empty(t, text)
	assert.False(t, attached)
	assert.Equal(t, "Your statement is ready", collapseSpace(stripHTML.Sanitize(html)))
}

func TestParseMIMEBodyDetectsAttachment(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Content-Type: multipart/mixed; boundary=XX\r\n" +
		"\r\n" +
		"--XX\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"see attached\r\n" +
		"--XX\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"invoice.pdf\"\r\n" +
		"\r\n" +
		"%PDF\r\n" +
		"--XX--\r\n"

	text, _, attached := parseMIMEBody([]byte(raw))
	assert.Equal(t, "see attached", collapseSpace(text))
	assert.True(t, attached)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "äöü", truncateRunes("äöüß", 3))
	assert.Equal(t, "ab", truncateRunes("ab", 3))
}

func plainBody(text string) []byte {
	return []byte("Content-Type: text/plain; charset=utf-8\r\n\r\n" + text)
}

// fakeServer is an in-memory IMAP server shared by every session created
// from it, so concurrent adapters observe each other's mutations.
type fakeServer struct {
	mu      sync.Mutex
	folders map[string][]*fakeMessage
	// UIDs are numbered per folder, as on a real server.
	uidNext map[string]imap.UID
	msgSeq  int

	loginErr    error
	searchErr   error
	hideFolders bool
	// hang makes SELECT block until the session is closed.
	hang bool

	creates            int
	logouts            int
	closed             int
	lastSelectReadOnly bool
}

type fakeMessage struct {
	uid       imap.UID
	messageID string
	subject   string
	body      []byte
	flags     []imap.Flag
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		folders: map[string][]*fakeMessage{"INBOX": nil},
		uidNext: map[string]imap.UID{},
	}
}

func (s *fakeServer) connect() (imapClient, error) {
	return &fakeClient{srv: s, closedCh: make(chan struct{})}, nil
}

// assignUID returns the next UID of folder. Callers must hold s.mu.
func (s *fakeServer) assignUID(folder string) imap.UID {
	s.uidNext[folder]++
	return s.uidNext[folder]
}

func (s *fakeServer) folder(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[name]; !ok {
		s.folders[name] = nil
	}
}

// add stores a message in folder and returns its UID there.
func (s *fakeServer) add(folder, subject string, body []byte) imap.UID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgSeq++
	m := &fakeMessage{
		uid:       s.assignUID(folder),
		messageID: fmt.Sprintf("<%d@shop.example>", s.msgSeq),
		subject:   subject,
		body:      body,
	}
	s.folders[folder] = append(s.folders[folder], m)
	return m.uid
}

func (s *fakeServer) subjects(folder string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.folders[folder] {
		out = append(out, m.subject)
	}
	return out
}

func (s *fakeServer) folderCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[name]; ok {
		return 1
	}
	return 0
}

type fakeClient struct {
	srv      *fakeServer
	selected string

	closeOnce sync.Once
	closedCh  chan struct{}
}

func (c *fakeClient) Login(_, _ string) commandWaiter { return fakeCommand{err: c.srv.loginErr} }

func (c *fakeClient) Logout() commandWaiter {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.logouts++
	return fakeCommand{}
}

func (c *fakeClient) Close() error {
	c.srv.mu.Lock()
	c.srv.closed++
	c.srv.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closedCh) })
	return nil
}

func (c *fakeClient) Noop() commandWaiter { return fakeCommand{} }

func (c *fakeClient) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hang {
		return fakeSelect{block: c.closedCh}
	}
	if _, ok := s.folders[mailbox]; !ok {
		return fakeSelect{err: fmt.Errorf("no such mailbox %s", mailbox)}
	}
	s.lastSelectReadOnly = options != nil && options.ReadOnly
	c.selected = mailbox
	return fakeSelect{data: &imap.SelectData{NumMessages: uint32(len(s.folders[mailbox]))}}
}

func (c *fakeClient) List(_, _ string, _ *imap.ListOptions) listWaiter {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*imap.ListData
	for name := range s.folders {
		if s.hideFolders && name != "INBOX" {
			continue
		}
		out = append(out, &imap.ListData{Mailbox: name, Delim: '/'})
	}
	return fakeList{data: out}
}

func (c *fakeClient) Create(mailbox string, _ *imap.CreateOptions) commandWaiter {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[mailbox]; ok {
		return fakeCommand{err: &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeAlreadyExists,
			Text: "Mailbox already exists",
		}}
	}
	s.folders[mailbox] = nil
	s.creates++
	return fakeCommand{}
}

func (c *fakeClient) UIDSearch(criteria *imap.SearchCriteria, _ *imap.SearchOptions) searchWaiter {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return fakeSearch{err: s.searchErr}
	}
	var uids []imap.UID
	for _, m := range s.folders[c.selected] {
		if matchesHeaders(m, criteria) {
			uids = append(uids, m.uid)
		}
	}
	return fakeSearch{data: &imap.SearchData{All: imap.UIDSetNum(uids...)}}
}

func (c *fakeClient) Fetch(numSet imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	want := map[imap.UID]bool{}
	if set, ok := numSet.(imap.UIDSet); ok {
		nums, _ := set.Nums()
		for _, n := range nums {
			want[n] = true
		}
	}

	var bufs []*imapclient.FetchMessageBuffer
	for _, m := range s.folders[c.selected] {
		if !want[m.uid] {
			continue
		}
		bufs = append(bufs, &imapclient.FetchMessageBuffer{
			UID:   m.uid,
			Flags: append([]imap.Flag(nil), m.flags...),
			Envelope: &imap.Envelope{
				Date:      time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
				Subject:   m.subject,
				From:      []imap.Address{{Name: "Shop", Mailbox: "billing", Host: "shop.example"}},
				To:        []imap.Address{{Mailbox: "agent", Host: "mail.example"}},
				MessageID: m.messageID,
			},
			BodySection: []imapclient.FetchBodySectionBuffer{{
				Section: &imap.FetchItemBodySection{},
				Bytes:   append([]byte(nil), m.body...),
			}},
		})
	}
	sort.Slice(bufs, func(i, j int) bool { return bufs[i].UID < bufs[j].UID })
	return fakeFetch{bufs: bufs}
}

func (c *fakeClient) Store(numSet imap.NumSet, store *imap.StoreFlags, _ *imap.StoreOptions) fetchWaiter {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	set, _ := numSet.(imap.UIDSet)
	for _, m := range s.folders[c.selected] {
		if set.Contains(m.uid) {
			m.flags = append(m.flags, store.Flags...)
		}
	}
	return fakeFetch{}
}

func (c *fakeClient) Move(numSet imap.NumSet, mailbox string) moveWaiter {
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[mailbox]; !ok {
		return fakeMove{err: fmt.Errorf("[TRYCREATE] no such mailbox %s", mailbox)}
	}
	set, _ := numSet.(imap.UIDSet)
	moved := 0
	var keep []*fakeMessage
	for _, m := range s.folders[c.selected] {
		if set.Contains(m.uid) {
			s.folders[mailbox] = append(s.folders[mailbox], &fakeMessage{
				uid: s.assignUID(mailbox), messageID: m.messageID,
				subject: m.subject, body: m.body, flags: m.flags,
			})
			moved++
			continue
		}
		keep = append(keep, m)
	}
	s.folders[c.selected] = keep
	if moved == 0 {
		return fakeMove{err: errors.New("no matching messages")}
	}
	return fakeMove{data: &imapclient.MoveData{}}
}

type fakeCommand struct{ err error }

func (c fakeCommand) Wait() error { return c.err }

type fakeSelect struct {
	data  *imap.SelectData
	err   error
	block <-chan struct{}
}

func (s fakeSelect) Wait() (*imap.SelectData, error) {
	if s.block != nil {
		<-s.block
		return nil, errors.New("imapclient: connection closed")
	}
	return s.data, s.err
}

type fakeSearch struct {
	data *imap.SearchData
	err  error
}

func (s fakeSearch) Wait() (*imap.SearchData, error) { return s.data, s.err }

type fakeList struct{ data []*imap.ListData }

func (l fakeList) Collect() ([]*imap.ListData, error) { return l.data, nil }

type fakeFetch struct {
	bufs []*imapclient.FetchMessageBuffer
	err  error
}

func (f fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f fakeFetch) Close() error                                       { return f.err }

type fakeMove struct {
	data *imapclient.MoveData
	err  error
}

func (m fakeMove) Wait() (*imapclient.MoveData, error) { return m.data, m.err }

func matchesHeaders(m *fakeMessage, criteria *imap.SearchCriteria) bool {
	if criteria == nil {
		return true
	}
	for _, h := range criteria.Header {
		if !strings.EqualFold(h.Key, "Message-ID") || h.Value != m.messageID {
			return false
		}
	}
	return true
}
