// Package archive is the append-preserving record of every contribution.
// Nothing is ever deleted: rejection is a terminal status, and metals and
// metadata only accumulate. Every mutation is durably written to the Store
// before it becomes visible or is acknowledged.
package archive

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"contribledger/internal/errs"
	"contribledger/internal/fingerprint"
	"contribledger/internal/models"
	"contribledger/internal/util"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store persists contributions. Put must be durable when it returns nil.
type Store interface {
	LoadAll(ctx context.Context) ([]models.Contribution, error)
	Put(ctx context.Context, c models.Contribution) error
}

type NewContribution struct {
	SubmissionID string
	Title        string
	Contributor  string
	Text         string
	Category     string
}

// Patch describes an update. Nil/empty fields are left untouched. When
// Expect is set the update only applies if the current status equals it,
// which makes a status change a compare-and-swap.
type Patch struct {
	Status   *models.Status
	Expect   *models.Status
	Reason   string
	Metals   []models.Metal
	Metadata map[string]any
}

type Archive struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time

	// writeMu serializes mutations including the store write; mu guards the
	// in-memory view and is never held across I/O.
	writeMu sync.Mutex
	mu      sync.RWMutex
	items   map[string]*models.Contribution
	order   []string
	pos     map[string]int
	index   *Index
}

type Option func(*Archive)

func WithClock(now func() time.Time) Option {
	return func(a *Archive) { a.now = now }
}

// Open loads every contribution from the store and rebuilds the index.
func Open(ctx context.Context, store Store, log zerolog.Logger, opts ...Option) (*Archive, error) {
	a := &Archive{
		store: store,
		log:   log.With().Str("component", "archive").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
		items: map[string]*models.Contribution{},
		pos:   map[string]int{},
	}
	for _, o := range opts {
		o(a)
	}
	all, err := store.LoadAll(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "archive_open", "", err)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Sequence != all[j].Sequence {
			return all[i].Sequence < all[j].Sequence
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	for i := range all {
		c := all[i]
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		a.items[c.SubmissionID] = &c
		a.pos[c.SubmissionID] = len(a.order)
		a.order = append(a.order, c.SubmissionID)
	}
	a.index = buildIndex(a.order, a.items)
	a.log.Info().Int("contributions", len(a.order)).Msg("archive loaded")
	return a, nil
}

// Add archives a new contribution. It is created as DRAFT and advanced to
// SUBMITTED in the same call; the persisted record is already SUBMITTED.
func (a *Archive) Add(ctx context.Context, in NewContribution) (models.Contribution, error) {
	id := strings.TrimSpace(in.SubmissionID)
	if id == "" {
		id = uuid.NewString()
	}
	text := util.SanitizeText(in.Text)
	if text == "" {
		return models.Contribution{}, errs.Wrap(errs.KindInvalidInput, "add_contribution", id, util.ErrEmptyContent)
	}
	if strings.TrimSpace(in.Contributor) == "" {
		return models.Contribution{}, errs.New(errs.KindInvalidInput, "add_contribution", id, "", "contributor is required")
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.RLock()
	_, exists := a.items[id]
	seq := int64(len(a.order)) + 1
	a.mu.RUnlock()
	if exists {
		return models.Contribution{}, errs.New(errs.KindDuplicateID, "add_contribution", id, "", "submission id already archived")
	}

	now := a.now()
	c := models.Contribution{
		SubmissionID: id,
		Sequence:     seq,
		Title:        strings.TrimSpace(in.Title),
		Contributor:  strings.TrimSpace(in.Contributor),
		Category:     strings.TrimSpace(in.Category),
		Text:         text,
		Fingerprint:  fingerprint.Of(text),
		Metals:       []models.Metal{},
		Metadata:     map[string]any{},
		Status:       models.StatusDraft,
		History:      []models.Transition{{To: models.StatusDraft, At: now}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.History = append(c.History, models.Transition{From: models.StatusDraft, To: models.StatusSubmitted, At: now})
	c.Status = models.StatusSubmitted

	if err := a.store.Put(ctx, c); err != nil {
		return models.Contribution{}, errs.Wrap(errs.KindStorage, "add_contribution", id, err)
	}

	a.mu.Lock()
	stored := c.Clone()
	a.items[id] = &stored
	a.pos[id] = len(a.order)
	a.order = append(a.order, id)
	a.index.insert(&stored)
	a.mu.Unlock()

	a.log.Info().Str("submission_id", id).Str("contributor", c.Contributor).Str("fingerprint", c.Fingerprint).Msg("contribution archived")
	return c, nil
}

func (a *Archive) Get(id string) (models.Contribution, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.items[id]
	if !ok {
		return models.Contribution{}, errs.New(errs.KindNotFound, "get_contribution", id, "", "")
	}
	return c.Clone(), nil
}

// Update merges metadata (new keys overwrite), appends newly awarded metals
// and applies a legal status transition.
func (a *Archive) Update(ctx context.Context, id string, p Patch) (models.Contribution, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.RLock()
	cur, ok := a.items[id]
	var next models.Contribution
	if ok {
		next = cur.Clone()
	}
	a.mu.RUnlock()
	if !ok {
		return models.Contribution{}, errs.New(errs.KindNotFound, "update_contribution", id, "", "")
	}

	if p.Expect != nil && next.Status != *p.Expect {
		return models.Contribution{}, errs.New(errs.KindInvalidState, "update_contribution", id, string(next.Status), "expected "+string(*p.Expect))
	}
	now := a.now()
	if p.Status != nil && *p.Status != next.Status {
		if !next.Status.CanTransition(*p.Status) {
			return models.Contribution{}, errs.New(errs.KindIllegalTransition, "update_contribution", id, string(next.Status), "cannot move to "+string(*p.Status))
		}
		next.History = append(next.History, models.Transition{From: next.Status, To: *p.Status, At: now, Reason: p.Reason})
		next.Status = *p.Status
	} else if p.Status != nil && *p.Status == next.Status {
		return models.Contribution{}, errs.New(errs.KindIllegalTransition, "update_contribution", id, string(next.Status), "already in "+string(*p.Status))
	}
	for _, m := range p.Metals {
		if !next.HasMetal(m) {
			next.Metals = append(next.Metals, m)
		}
	}
	for k, v := range p.Metadata {
		next.Metadata[k] = v
	}
	next.UpdatedAt = now

	if err := a.store.Put(ctx, next); err != nil {
		return models.Contribution{}, errs.Wrap(errs.KindStorage, "update_contribution", id, err)
	}

	a.mu.Lock()
	prev := a.items[id]
	stored := next.Clone()
	a.items[id] = &stored
	a.index.update(prev, &stored)
	a.mu.Unlock()

	if p.Status != nil {
		a.log.Info().Str("submission_id", id).Str("status", string(next.Status)).Str("reason", p.Reason).Msg("status changed")
	}
	return next, nil
}

// AllForRedundancyCheck returns a point-in-time snapshot of the whole
// archive in every status. Redundancy is always judged against full history.
func (a *Archive) AllForRedundancyCheck() []models.Contribution {
	return a.All()
}

func (a *Archive) All() []models.Contribution {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Contribution, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.items[id].Clone())
	}
	return out
}

func (a *Archive) FingerprintHistory(fp string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sorted(a.index.fingerprint(fp))
}

func (a *Archive) ListByStatus(s models.Status) []models.Contribution {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resolve(a.index.status(s))
}

func (a *Archive) ListByContributor(contributor string) []models.Contribution {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resolve(a.index.contributor(contributor))
}

func (a *Archive) ListByMetal(m models.Metal) []models.Contribution {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resolve(a.index.metal(m))
}

func (a *Archive) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

// Reindex discards the derived index and rebuilds it from the contribution
// set.
func (a *Archive) Reindex() {
	a.mu.Lock()
	a.index = buildIndex(a.order, a.items)
	a.mu.Unlock()
	a.log.Info().Msg("archive index rebuilt")
}

// Must be called with mu held.
func (a *Archive) sorted(ids []string) []string {
	sort.Slice(ids, func(i, j int) bool { return a.pos[ids[i]] < a.pos[ids[j]] })
	return ids
}

// Must be called with mu held.
func (a *Archive) resolve(ids []string) []models.Contribution {
	ids = a.sorted(ids)
	out := make([]models.Contribution, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.items[id].Clone())
	}
	return out
}
