// Package filestore persists the archive and the ledger as JSON files.
// Every write goes through a fsynced temp file and an atomic rename.
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"contribledger/internal/ledger"
	"contribledger/internal/models"
	"contribledger/internal/util"

	"github.com/pkg/errors"
)

const (
	contributionsDir = "contributions"
	ledgerFile       = "ledger.json"
)

// ArchiveStore keeps one file per contribution, named by the hash of its
// submission id so arbitrary ids are safe as file names.
type ArchiveStore struct {
	dir string
}

func NewArchiveStore(root string) (*ArchiveStore, error) {
	dir := filepath.Join(root, contributionsDir)
	if err := util.EnsureDir(dir); err != nil {
		return nil, errors.Wrap(err, "archive store")
	}
	return &ArchiveStore{dir: dir}, nil
}

func (s *ArchiveStore) path(id string) string {
	return filepath.Join(s.dir, util.SHA256Hex([]byte(id))+".json")
}

func (s *ArchiveStore) Put(_ context.Context, c models.Contribution) error {
	if err := util.WriteJSONAtomic(s.path(c.SubmissionID), c); err != nil {
		return errors.Wrapf(err, "put contribution %s", c.SubmissionID)
	}
	return nil
}

func (s *ArchiveStore) LoadAll(ctx context.Context) ([]models.Contribution, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "read archive dir")
	}
	out := make([]models.Contribution, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Leftover temp files from an interrupted write are ignored.
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", e.Name())
		}
		var c models.Contribution
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, errors.Wrapf(err, "decode %s", e.Name())
		}
		out = append(out, c)
	}
	return out, nil
}

type LedgerStore struct {
	path string
}

func NewLedgerStore(root string) (*LedgerStore, error) {
	if err := util.EnsureDir(root); err != nil {
		return nil, errors.Wrap(err, "ledger store")
	}
	return &LedgerStore{path: filepath.Join(root, ledgerFile)}, nil
}

func (s *LedgerStore) Load(context.Context) (ledger.State, bool, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return ledger.State{}, false, nil
	}
	if err != nil {
		return ledger.State{}, false, errors.Wrap(err, "read ledger")
	}
	var st ledger.State
	if err := json.Unmarshal(b, &st); err != nil {
		return ledger.State{}, false, errors.Wrap(err, "decode ledger")
	}
	return st, true, nil
}

func (s *LedgerStore) Save(_ context.Context, st ledger.State) error {
	if err := util.WriteJSONAtomic(s.path, st); err != nil {
		return errors.Wrap(err, "save ledger")
	}
	return nil
}
