package agents

import (
	"math"

	"github.com/talgya/socialgrid/internal/economy"
)

// Inventory holds carried piles in pick order, grouped by resource name.
// Size caps the total units (0 for no cap); Max caps units per resource.
type Inventory struct {
	Size       int
	Max        map[string]int
	Preference map[string]float64 // unit score of a resource while carried

	items map[string][]*economy.Resource
	order []string // resource names in first-pick order
}

// ItemCount is one carried batch as shown in observations.
type ItemCount struct {
	Name   string `json:"name"`
	Amount int    `json:"amount"`
}

// NewInventory creates an empty inventory.
func NewInventory(size int, caps map[string]int, pref map[string]float64) *Inventory {
	return &Inventory{
		Size:       size,
		Max:        caps,
		Preference: pref,
		items:      make(map[string][]*economy.Resource),
	}
}

// Count returns the carried units of name.
func (inv *Inventory) Count(name string) int {
	n := 0
	for _, r := range inv.items[name] {
		n += r.Amount
	}
	return n
}

// Total returns every carried unit.
func (inv *Inventory) Total() int {
	n := 0
	for _, name := range inv.order {
		n += inv.Count(name)
	}
	return n
}

// Has reports whether at least n units of name are carried.
func (inv *Inventory) Has(name string, n int) bool {
	return inv.Count(name) >= n
}

// Room returns how many more units of name fit.
func (inv *Inventory) Room(name string) int {
	room := -1
	if inv.Size > 0 {
		room = max(inv.Size-inv.Total(), 0)
	}
	if limit, ok := inv.Max[name]; ok {
		r := max(limit-inv.Count(name), 0)
		if room < 0 || r < room {
			room = r
		}
	}
	if room < 0 {
		return math.MaxInt
	}
	return room
}

// Fits reports whether every amount in batch can be stored at once.
func (inv *Inventory) Fits(batch map[string]int) bool {
	total := 0
	for name, n := range batch {
		if n > inv.Room(name) {
			return false
		}
		total += n
	}
	return inv.Size <= 0 || inv.Total()+total <= inv.Size
}

// PickUp stores r, truncated to the room available, and returns the units
// kept. A carried pile takes the preference score for its name.
func (inv *Inventory) PickUp(r *economy.Resource) int {
	if r == nil {
		return 0
	}
	if room := inv.Room(r.Name); r.Amount > room {
		r.Amount = room
	}
	if r.Amount <= 0 {
		return 0
	}
	if s, ok := inv.Preference[r.Name]; ok {
		r.SetUnitScore(s)
	}
	if _, ok := inv.items[r.Name]; !ok {
		inv.order = append(inv.order, r.Name)
	}
	inv.items[r.Name] = append(inv.items[r.Name], r)
	return r.Amount
}

// Consume removes up to n units of name, oldest batch first, and returns
// the units that could not be taken.
func (inv *Inventory) Consume(name string, n int) int {
	batches := inv.items[name]
	for len(batches) > 0 && n > 0 {
		n = batches[0].Consume(n)
		if !batches[0].Available() {
			batches = batches[1:]
		}
	}
	inv.set(name, batches)
	return n
}

// Dump splits up to n units of name off the oldest batches as detached piles
// at their base unit score, ready to be laid on the ground.
func (inv *Inventory) Dump(name string, n int) []*economy.Resource {
	var out []*economy.Resource
	batches := inv.items[name]
	for len(batches) > 0 && n > 0 {
		d := batches[0].Provide(n)
		d.ResetUnitScore()
		n -= d.Amount
		out = append(out, d)
		if !batches[0].Available() {
			batches = batches[1:]
		}
	}
	inv.set(name, batches)
	return out
}

func (inv *Inventory) set(name string, batches []*economy.Resource) {
	if len(batches) > 0 {
		inv.items[name] = batches
		return
	}
	if _, ok := inv.items[name]; !ok {
		return
	}
	delete(inv.items, name)
	for i, o := range inv.order {
		if o == name {
			inv.order = append(inv.order[:i], inv.order[i+1:]...)
			break
		}
	}
}

// Score sums the carried value.
func (inv *Inventory) Score() float64 {
	s := 0.0
	for _, name := range inv.order {
		for _, r := range inv.items[name] {
			s += r.Score()
		}
	}
	return s
}

// Names returns carried resource names in first-pick order.
func (inv *Inventory) Names() []string {
	return append([]string(nil), inv.order...)
}

// Items lists every batch in first-pick order.
func (inv *Inventory) Items() []ItemCount {
	var out []ItemCount
	for _, name := range inv.order {
		for _, r := range inv.items[name] {
			out = append(out, ItemCount{Name: r.Name, Amount: r.Amount})
		}
	}
	return out
}
