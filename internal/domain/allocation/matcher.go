package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/carehome/bedengine/internal/domain/bed"
	"github.com/carehome/bedengine/internal/platform/metrics"
)

// Score rates one bed against the criteria. It is pure: the same inputs
// always produce the same value and reasons.
func Score(b *bed.Bed, c Criteria) (int, []string) {
	score := 0
	var reasons []string

	if holdsFor(b, c.ResidentID) {
		score += WeightAvailable
		if b.Status == bed.StatusReserved {
			reasons = append(reasons, "reserved for resident")
		} else {
			reasons = append(reasons, "available")
		}
	}

	for _, t := range c.PreferredBedTypes {
		if b.BedType == t {
			score += WeightBedType
			reasons = append(reasons, "preferred bed type "+t)
			break
		}
	}

	matched := make(map[string]bool, len(c.SpecialRequirements))
	for _, req := range c.SpecialRequirements {
		if matched[req] {
			continue
		}
		if b.HasFeature(req) {
			matched[req] = true
			score += WeightRequirement
			reasons = append(reasons, "has "+req)
		}
	}

	if c.PreferredFloor != nil && b.Floor == *c.PreferredFloor {
		score += WeightFloor
		reasons = append(reasons, fmt.Sprintf("floor %d", b.Floor))
	}
	if c.PreferredWing != "" && b.Wing == c.PreferredWing {
		score += WeightWing
		reasons = append(reasons, "wing "+b.Wing)
	}
	return score, reasons
}

// holdsFor reports whether b can take the resident right now: it is
// Available, or Reserved for that resident outside a transfer.
func holdsFor(b *bed.Bed, residentID string) bool {
	switch b.Status {
	case bed.StatusAvailable:
		return true
	case bed.StatusReserved:
		r := b.Reservation
		return residentID != "" && r != nil && r.ResidentID == residentID && r.TransferID == nil
	}
	return false
}

// Eligible applies the hard filters: status, facility, care level and
// weight capacity.
func Eligible(b *bed.Bed, c Criteria) bool {
	if !holdsFor(b, c.ResidentID) {
		return false
	}
	if c.FacilityID != "" && b.FacilityID != c.FacilityID {
		return false
	}
	if !b.SupportsCareLevel(c.CareLevel) {
		return false
	}
	if c.WeightKg > 0 && b.MaxWeightKg > 0 && c.WeightKg > b.MaxWeightKg {
		return false
	}
	return true
}

// Rank scores every eligible bed in pool, best first. Equal scores are
// ordered by bed id.
func Rank(pool []*bed.Bed, c Criteria) []Match {
	var out []Match
	for _, b := range pool {
		if !Eligible(b, c) {
			continue
		}
		score, reasons := Score(b, c)
		out = append(out, Match{Bed: b, Score: score, Reasons: reasons})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Bed.ID < out[j].Bed.ID
	})
	return out
}

// FindOptimalBed returns the best candidate in pool. ok is false when no
// eligible bed scores above zero.
func FindOptimalBed(pool []*bed.Bed, c Criteria) (m Match, ok bool) {
	ranked := Rank(pool, c)
	if len(ranked) == 0 || ranked[0].Score <= 0 {
		return Match{}, false
	}
	return ranked[0], true
}

// BedSource lists beds. *bed.Service satisfies it.
type BedSource interface {
	List(ctx context.Context, f bed.ListFilter) ([]*bed.Bed, int, error)
}

// Matcher runs the pure scoring functions against the live bed pool.
type Matcher struct {
	beds    BedSource
	metrics *metrics.Metrics
}

func NewMatcher(beds BedSource) *Matcher {
	return &Matcher{beds: beds}
}

func (m *Matcher) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

// Candidates reads the current pool: Available beds plus Reserved beds,
// which Eligible narrows to those held for the resident.
func (m *Matcher) Candidates(ctx context.Context, c Criteria) ([]*bed.Bed, error) {
	f := bed.ListFilter{
		Statuses:   []bed.Status{bed.StatusAvailable, bed.StatusReserved},
		FacilityID: c.FacilityID,
	}
	pool, _, err := m.beds.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list candidate beds: %w", err)
	}
	return pool, nil
}

func (m *Matcher) Rank(ctx context.Context, c Criteria) ([]Match, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	pool, err := m.Candidates(ctx, c)
	if err != nil {
		return nil, err
	}
	return Rank(pool, c), nil
}

// FindOptimalBed reports no match with ok=false and a nil error.
func (m *Matcher) FindOptimalBed(ctx context.Context, c Criteria) (Match, bool, error) {
	defer m.metrics.ObserveSince("find_optimal_bed", time.Now())

	if err := c.Validate(); err != nil {
		return Match{}, false, err
	}
	pool, err := m.Candidates(ctx, c)
	if err != nil {
		return Match{}, false, err
	}
	match, ok := FindOptimalBed(pool, c)
	return match, ok, nil
}
