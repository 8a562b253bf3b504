package mapping

import (
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/services/names"
)

type pairKey struct {
	person, company string
}

func keyOf(person, company string) pairKey {
	return pairKey{names.Normalize(person), names.Normalize(company)}
}

// Index is a snapshot of the mapping table keyed by normalized person name.
// Mappings keep their creation order. It is not safe for concurrent use.
type Index struct {
	byPerson map[string][]models.PayerMapping
}

func NewIndex(all []models.PayerMapping) *Index {
	ix := &Index{byPerson: make(map[string][]models.PayerMapping)}
	for _, m := range all {
		key := names.Normalize(m.PersonName)
		if key == "" {
			continue
		}
		ix.byPerson[key] = append(ix.byPerson[key], m)
	}
	return ix
}

func (ix *Index) For(person string) []models.PayerMapping {
	if ix == nil {
		return nil
	}
	return ix.byPerson[names.Normalize(person)]
}

func (ix *Index) Has(person string) bool {
	return len(ix.For(person)) > 0
}

// Find returns the mapping for the normalized pair, if any.
func (ix *Index) Find(person, company string) *models.PayerMapping {
	want := names.Normalize(company)
	for _, m := range ix.For(person) {
		if names.Normalize(m.CompanyName) == want {
			found := m
			return &found
		}
	}
	return nil
}

// Links reports whether person is mapped to any of the given companies and
// returns that mapping.
func (ix *Index) Links(person string, companies ...string) (*models.PayerMapping, bool) {
	for _, c := range companies {
		if names.Normalize(c) == "" {
			continue
		}
		if m := ix.Find(person, c); m != nil {
			return m, true
		}
	}
	return nil, false
}

// Companies lists the distinct companies person is mapped to.
func (ix *Index) Companies(person string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range ix.For(person) {
		key := names.Normalize(m.CompanyName)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m.CompanyName)
	}
	return out
}

// Add records a mapping created after the snapshot was taken.
func (ix *Index) Add(m models.PayerMapping) {
	key := names.Normalize(m.PersonName)
	if key == "" {
		return
	}
	ix.byPerson[key] = append(ix.byPerson[key], m)
}
