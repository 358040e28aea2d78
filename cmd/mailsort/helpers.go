package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nhle/mailsort/internal/credential"
	"github.com/nhle/mailsort/internal/metrics"
	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/processor"
	"github.com/nhle/mailsort/internal/provider/registry"
	"github.com/nhle/mailsort/internal/store"
)

// deps are the collaborators a command works with.
type deps struct {
	store     *store.SQLStore
	cipher    *credential.Cipher
	recorder  *metrics.Recorder
	processor *processor.Processor
}

func (d *deps) Close() error {
	return d.store.Close()
}

func (c *cli) openStore() (*store.SQLStore, error) {
	db := c.cfg.Database
	if db.Driver == "" || db.Driver == "sqlite" {
		if dir := filepath.Dir(db.DSN); dir != "." && db.DSN != ":memory:" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}
	st, err := store.Open(db)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

func (c *cli) openCipher() (*credential.Cipher, error) {
	if c.cfg.Credentials.Key != "" {
		return credential.NewCipherFromBase64(c.cfg.Credentials.Key)
	}
	ring, err := credential.OpenKeyring()
	if err != nil {
		return nil, err
	}
	key, err := credential.MasterKey(ring)
	if err != nil {
		return nil, err
	}
	return credential.NewCipher(key)
}

// open builds the store, cipher and processor from the loaded config.
func (c *cli) open() (*deps, error) {
	st, err := c.openStore()
	if err != nil {
		return nil, err
	}
	cipher, err := c.openCipher()
	if err != nil {
		st.Close()
		return nil, err
	}

	recorder := metrics.New()
	proc := processor.New(st, registry.Default(c.cfg, c.logger), cipher,
		processor.WithLLMConfig(c.cfg.LLM),
		processor.WithLabelReview(c.cfg.Processing.LabelReview),
		processor.WithRecorder(recorder),
		processor.WithLogger(c.logger),
	)
	return &deps{store: st, cipher: cipher, recorder: recorder, processor: proc}, nil
}

// connectionFor resolves a connection argument, which may be omitted when
// the user has exactly one connection.
func connectionFor(conns []model.Connection, arg string) (model.Connection, error) {
	if arg == "" {
		if len(conns) == 1 {
			return conns[0], nil
		}
		return model.Connection{}, fmt.Errorf("%d connections found; pass a connection id", len(conns))
	}
	for _, conn := range conns {
		if conn.ID == arg || conn.Name == arg || conn.Email == arg {
			return conn, nil
		}
	}
	return model.Connection{}, fmt.Errorf("connection %q: %w", arg, store.ErrNotFound)
}
