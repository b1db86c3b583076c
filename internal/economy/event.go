package economy

import (
	"fmt"

	"github.com/talgya/socialgrid/internal/world"
)

// Recipe is the static definition of a production event.
type Recipe struct {
	Name          string         `json:"name"`
	Inputs        map[string]int `json:"in"`
	Outputs       map[string]int `json:"out"`
	Requirements  map[string]int `json:"requirements,omitempty"`
	AvailInterval int            `json:"avail_interval"` // Ticks of cooldown after each production
}

// Event is a production site fixed to one cell.
type Event struct {
	Recipe
	Pos      world.Pos
	Cooldown int

	pool map[string]*Resource
}

// NewEvent places recipe at p. Every output must be in kinds.
func NewEvent(recipe Recipe, p world.Pos, kinds Catalog) (*Event, error) {
	pool := make(map[string]*Resource, len(recipe.Outputs))
	for name := range recipe.Outputs {
		k, err := kinds.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", recipe.Name, err)
		}
		pool[name] = NewPool(k)
	}
	return &Event{Recipe: recipe, Pos: p, pool: pool}, nil
}

// Update counts the cooldown down by one tick.
func (e *Event) Update() {
	if e.Cooldown > 0 {
		e.Cooldown--
	}
}

// Available reports whether the event can produce this tick.
func (e *Event) Available() bool {
	return e.Cooldown == 0
}

// StartCooldown blocks the event for AvailInterval ticks.
func (e *Event) StartCooldown() {
	e.Cooldown = e.AvailInterval
}

// Provide draws one batch of outputs, in output-name order. It consumes no
// inputs and leaves the cooldown alone; both are the caller's job.
func (e *Event) Provide() []*Resource {
	out := make([]*Resource, 0, len(e.Outputs))
	for _, name := range sortedKeys(e.Outputs) {
		out = append(out, e.pool[name].Provide(e.Outputs[name]))
	}
	return out
}

// InputNames returns the input resource names in sorted order.
func (e *Event) InputNames() []string {
	return sortedKeys(e.Inputs)
}

// CheckVisible reports whether h satisfies every requirement of the event.
func (e *Event) CheckVisible(h Holder) bool {
	return meets(h, e.Requirements)
}
