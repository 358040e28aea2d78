package email

import (
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailsort/internal/model"
)

// imapClient is the subset of *imapclient.Client the adapter uses. It
// exists so tests can substitute an in-memory mailbox.
type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Noop() commandWaiter
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	List(ref, pattern string, options *imap.ListOptions) listWaiter
	Create(mailbox string, options *imap.CreateOptions) commandWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
	Move(numSet imap.NumSet, mailbox string) moveWaiter
}

type commandWaiter interface{ Wait() error }

type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}

type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}

type listWaiter interface {
	Collect() ([]*imap.ListData, error)
}

type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

type moveWaiter interface {
	Wait() (*imapclient.MoveData, error)
}

// dial opens a TLS (or STARTTLS) session to the server named in creds.
func dial(creds model.Credentials, timeout time.Duration) (imapClient, error) {
	port := creds.Port
	if port == "" {
		if creds.TLS {
			port = "993"
		} else {
			port = "143"
		}
	}
	addr := net.JoinHostPort(creds.Host, port)
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: timeout}}

	var client *imapclient.Client
	var err error
	if creds.TLS {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Noop() commandWaiter   { return w.Client.Noop() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) List(ref, pattern string, options *imap.ListOptions) listWaiter {
	return w.Client.List(ref, pattern, options)
}
func (w *imapClientWrapper) Create(mailbox string, options *imap.CreateOptions) commandWaiter {
	return w.Client.Create(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}
func (w *imapClientWrapper) Move(numSet imap.NumSet, mailbox string) moveWaiter {
	return w.Client.Move(numSet, mailbox)
}
