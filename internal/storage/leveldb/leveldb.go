// Package leveldb persists the archive and the ledger in an embedded
// goleveldb database. Every write is synced before it returns.
package leveldb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"

	"contribledger/internal/ledger"
	"contribledger/internal/models"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

const (
	dbDirname = "leveldb"

	contributionPrefix = "contribution/"
	ledgerKey          = "ledger/state"
	versionKey         = "version"

	// Version is the on-disk layout version.
	Version = "1"
)

var ErrShutdown = errors.New("leveldb store is shut down")

// DB wraps a single goleveldb database that holds both the archive and the
// ledger under separate key prefixes.
type DB struct {
	sync.Mutex
	db       *leveldb.DB
	shutdown bool
	wo       *opt.WriteOptions
}

func Open(dataDir string) (*DB, error) {
	if dataDir == "" {
		return nil, errors.New("data dir not provided")
	}
	db, err := leveldb.OpenFile(filepath.Join(dataDir, dbDirname), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open leveldb")
	}
	d := &DB{db: db, wo: &opt.WriteOptions{Sync: true}}
	if err := d.checkVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) checkVersion() error {
	v, err := d.db.Get([]byte(versionKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return errors.WithStack(d.db.Put([]byte(versionKey), []byte(Version), d.wo))
	}
	if err != nil {
		return errors.WithStack(err)
	}
	if string(v) != Version {
		return errors.Errorf("unsupported leveldb layout version %q", v)
	}
	return nil
}

func (d *DB) Close() error {
	d.Lock()
	defer d.Unlock()
	if d.shutdown {
		return nil
	}
	d.shutdown = true
	return d.db.Close()
}

func (d *DB) put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode")
	}
	d.Lock()
	defer d.Unlock()
	if d.shutdown {
		return ErrShutdown
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(key), b)
	return errors.WithStack(d.db.Write(batch, d.wo))
}

// ArchiveStore returns the archive view of the database.
func (d *DB) ArchiveStore() *ArchiveStore {
	return &ArchiveStore{d: d}
}

// LedgerStore returns the ledger view of the database.
func (d *DB) LedgerStore() *LedgerStore {
	return &LedgerStore{d: d}
}

type ArchiveStore struct {
	d *DB
}

func (s *ArchiveStore) Put(_ context.Context, c models.Contribution) error {
	if err := s.d.put(contributionPrefix+c.SubmissionID, c); err != nil {
		return errors.Wrapf(err, "put contribution %s", c.SubmissionID)
	}
	return nil
}

func (s *ArchiveStore) LoadAll(ctx context.Context) ([]models.Contribution, error) {
	s.d.Lock()
	defer s.d.Unlock()
	if s.d.shutdown {
		return nil, ErrShutdown
	}

	iter := s.d.db.NewIterator(ldbutil.BytesPrefix([]byte(contributionPrefix)), nil)
	defer iter.Release()

	out := make([]models.Contribution, 0)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var c models.Contribution
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, errors.Wrapf(err, "decode %s", iter.Key())
		}
		out = append(out, c)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

type LedgerStore struct {
	d *DB
}

func (s *LedgerStore) Load(context.Context) (ledger.State, bool, error) {
	s.d.Lock()
	defer s.d.Unlock()
	if s.d.shutdown {
		return ledger.State{}, false, ErrShutdown
	}
	b, err := s.d.db.Get([]byte(ledgerKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return ledger.State{}, false, nil
	}
	if err != nil {
		return ledger.State{}, false, errors.WithStack(err)
	}
	var st ledger.State
	if err := json.Unmarshal(b, &st); err != nil {
		return ledger.State{}, false, errors.Wrap(err, "decode ledger")
	}
	return st, true, nil
}

func (s *LedgerStore) Save(_ context.Context, st ledger.State) error {
	return errors.Wrap(s.d.put(ledgerKey, st), "save ledger")
}
