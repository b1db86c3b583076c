// Package economy provides resource piles, the per-cell ownership stacks they
// live in, and production events that turn input resources into outputs.
package economy

import (
	"fmt"
	"sort"

	"github.com/talgya/socialgrid/internal/world"
)

// Kind is the static definition shared by every pile of one resource name.
type Kind struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	UnitScore    float64        `json:"score"`                  // Value of one unit
	Requirements map[string]int `json:"requirements,omitempty"` // Inventory needed to see a pile
}

// Catalog maps resource names to their definitions.
type Catalog map[string]Kind

// Lookup returns the kind for name.
func (c Catalog) Lookup(name string) (Kind, error) {
	k, ok := c[name]
	if !ok {
		return Kind{}, fmt.Errorf("economy: unknown resource %q", name)
	}
	return k, nil
}

// Names returns the catalog's resource names in sorted order.
func (c Catalog) Names() []string {
	return sortedKeys(c)
}

// Holder is anything whose inventory gates visibility.
type Holder interface {
	Has(name string, n int) bool
}

// Resource is a pile of one resource name. A pile is either on the ground,
// linked into its cell's stack, or detached (carried or in transit).
type Resource struct {
	Name         string
	Type         string
	Pos          world.Pos // meaningful only while on the ground
	Amount       int
	Infinite     bool // event output pools never run dry
	Requirements map[string]int
	UnitScore    float64

	baseScore float64
	below     *Resource // next pile down the cell stack
}

// NewResource creates a detached pile of amount units.
func NewResource(k Kind, amount int) *Resource {
	return &Resource{
		Name:         k.Name,
		Type:         k.Type,
		Amount:       amount,
		Requirements: k.Requirements,
		UnitScore:    k.UnitScore,
		baseScore:    k.UnitScore,
	}
}

// NewPool creates an inexhaustible pile.
func NewPool(k Kind) *Resource {
	r := NewResource(k, 0)
	r.Infinite = true
	return r
}

// Provide splits min(n, Amount) units off into a new detached pile.
// Pools provide n units and stay full.
func (r *Resource) Provide(n int) *Resource {
	if n < 0 {
		n = 0
	}
	take := n
	if !r.Infinite {
		take = min(n, r.Amount)
		r.Amount -= take
	}
	return &Resource{
		Name:         r.Name,
		Type:         r.Type,
		Amount:       take,
		Requirements: r.Requirements,
		UnitScore:    r.UnitScore,
		baseScore:    r.baseScore,
	}
}

// Add puts n more units on the pile.
func (r *Resource) Add(n int) {
	if !r.Infinite {
		r.Amount += n
	}
}

// Consume removes up to n units and returns how many could not be taken.
func (r *Resource) Consume(n int) int {
	if r.Infinite {
		return 0
	}
	take := min(n, r.Amount)
	r.Amount -= take
	return n - take
}

// Available reports whether the pile still holds anything.
func (r *Resource) Available() bool {
	return r.Infinite || r.Amount > 0
}

// Score is the pile's value at its current unit score.
func (r *Resource) Score() float64 {
	return r.UnitScore * float64(r.Amount)
}

// SetUnitScore overrides the unit score, e.g. with a carrier's preference.
func (r *Resource) SetUnitScore(s float64) {
	r.UnitScore = s
}

// ResetUnitScore restores the kind's unit score.
func (r *Resource) ResetUnitScore() {
	r.UnitScore = r.baseScore
}

// CheckVisible reports whether h satisfies every requirement of the pile.
func (r *Resource) CheckVisible(h Holder) bool {
	return meets(h, r.Requirements)
}

func meets(h Holder, reqs map[string]int) bool {
	for name, n := range reqs {
		if !h.Has(name, n) {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
