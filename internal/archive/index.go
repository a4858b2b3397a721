package archive

import (
	"contribledger/internal/models"
)

// Index is derived from the contribution set and can always be rebuilt from
// it. Id lists are in insertion order; callers sort by archive position.
type Index struct {
	byFingerprint map[string][]string
	byStatus      map[models.Status][]string
	byContributor map[string][]string
	byMetal       map[models.Metal][]string
}

func newIndex() *Index {
	return &Index{
		byFingerprint: map[string][]string{},
		byStatus:      map[models.Status][]string{},
		byContributor: map[string][]string{},
		byMetal:       map[models.Metal][]string{},
	}
}

func buildIndex(order []string, items map[string]*models.Contribution) *Index {
	idx := newIndex()
	for _, id := range order {
		idx.insert(items[id])
	}
	return idx
}

func (x *Index) insert(c *models.Contribution) {
	x.byFingerprint[c.Fingerprint] = append(x.byFingerprint[c.Fingerprint], c.SubmissionID)
	x.byStatus[c.Status] = append(x.byStatus[c.Status], c.SubmissionID)
	x.byContributor[c.Contributor] = append(x.byContributor[c.Contributor], c.SubmissionID)
	for _, m := range c.Metals {
		x.byMetal[m] = append(x.byMetal[m], c.SubmissionID)
	}
}

// update moves a contribution between status buckets and records newly
// awarded metals. Fingerprint and contributor never change.
func (x *Index) update(prev, next *models.Contribution) {
	if prev.Status != next.Status {
		x.byStatus[prev.Status] = remove(x.byStatus[prev.Status], prev.SubmissionID)
		x.byStatus[next.Status] = append(x.byStatus[next.Status], next.SubmissionID)
	}
	for _, m := range next.Metals {
		if !prev.HasMetal(m) {
			x.byMetal[m] = append(x.byMetal[m], next.SubmissionID)
		}
	}
}

func (x *Index) fingerprint(fp string) []string {
	return append([]string(nil), x.byFingerprint[fp]...)
}

func (x *Index) status(s models.Status) []string {
	return append([]string(nil), x.byStatus[s]...)
}

func (x *Index) contributor(id string) []string {
	return append([]string(nil), x.byContributor[id]...)
}

func (x *Index) metal(m models.Metal) []string {
	return append([]string(nil), x.byMetal[m]...)
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
