// Social schedules: declarative graph snapshots loaded at fixed ticks.
package social

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schedule.schema.json
var scheduleSchemaJSON string

var scheduleSchema = jsonschema.MustCompileString("mem://socialgrid/schedule.schema.json", scheduleSchemaJSON)

// Link is one directed agent pair.
type Link struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// RelationSpec adds the same attributes on every listed pair.
type RelationSpec struct {
	Name       string `json:"name,omitempty"`
	Players    []Link `json:"players"`
	Attributes *Attrs `json:"attributes,omitempty"`
}

// GroupMembers lists member IDs and, per attribute, one value per member.
type GroupMembers struct {
	IDs        []int              `json:"ids"`
	Attributes map[string][]Value `json:"attributes,omitempty"`
}

// GroupSpec creates one group.
type GroupSpec struct {
	Name    string       `json:"name,omitempty"`
	Players GroupMembers `json:"players"`
}

// Snapshot is a full set of relations and groups.
type Snapshot struct {
	Relations []RelationSpec `json:"relations,omitempty"`
	Groups    []GroupSpec    `json:"groups,omitempty"`
}

// Schedule maps milestone ticks to the snapshot loaded at that tick.
type Schedule map[int]Snapshot

// ParseSchedule validates data against the schedule schema and decodes it.
func ParseSchedule(data []byte) (Schedule, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	if err := scheduleSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate schedule: %w", err)
	}
	var s Schedule
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	return s, nil
}

// ParseSnapshot validates and decodes a single snapshot, as used for the
// initial graph of a task.
func ParseSnapshot(data []byte) (Snapshot, error) {
	wrapped := append(append([]byte(`{"0":`), data...), '}')
	s, err := ParseSchedule(wrapped)
	if err != nil {
		return Snapshot{}, err
	}
	return s[0], nil
}

// Milestones returns the scheduled ticks in ascending order.
func (s Schedule) Milestones() []int {
	out := make([]int, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// Load adds a snapshot's relations and groups to the graph.
func (s *Graph) Load(snap Snapshot) error {
	for i, rel := range snap.Relations {
		attrs := &Attrs{}
		if rel.Name != "" {
			attrs.Set("name", Text(rel.Name))
		}
		attrs.Merge(rel.Attributes)
		for _, l := range rel.Players {
			if err := s.AddRelationAttrs(l.From, l.To, attrs.Clone()); err != nil {
				return fmt.Errorf("relation %d: %w", i, err)
			}
		}
	}
	for i, gs := range snap.Groups {
		names := sortedNames(gs.Players.Attributes)
		for _, n := range names {
			if got := len(gs.Players.Attributes[n]); got != len(gs.Players.IDs) {
				return fmt.Errorf("group %d: attribute %s has %d values for %d members", i, n, got, len(gs.Players.IDs))
			}
		}
		for _, id := range gs.Players.IDs {
			if !s.HasAgent(id) {
				return fmt.Errorf("group %d: %w: %d", i, ErrUnknownAgent, id)
			}
		}
		g := s.CreateGroup(gs.Name)
		for j, id := range gs.Players.IDs {
			attrs := &Attrs{}
			for _, n := range names {
				attrs.Set(n, gs.Players.Attributes[n][j])
			}
			if err := s.JoinGroupAttrs(id, g.ID, attrs); err != nil {
				return fmt.Errorf("group %d: %w", i, err)
			}
		}
	}
	return nil
}

// Scheduler walks a schedule as ticks advance.
type Scheduler struct {
	plan    Schedule
	pending []int
}

// NewScheduler starts at tick 0 with every milestone pending.
func NewScheduler(plan Schedule) *Scheduler {
	return &Scheduler{plan: plan, pending: plan.Milestones()}
}

// Due consumes every milestone reached by tick. It returns the snapshot when
// the last one consumed is exactly tick; milestones skipped over are dropped.
func (sc *Scheduler) Due(tick int) (Snapshot, bool) {
	last := -1
	for len(sc.pending) > 0 && sc.pending[0] <= tick {
		last = sc.pending[0]
		sc.pending = sc.pending[1:]
	}
	if last != tick {
		return Snapshot{}, false
	}
	return sc.plan[last], true
}

// Pending returns the milestones still ahead.
func (sc *Scheduler) Pending() []int {
	return append([]int(nil), sc.pending...)
}

// Reload clears the graph and loads snap.
func (s *Graph) Reload(snap Snapshot, tick int) error {
	s.Clear()
	if err := s.Load(snap); err != nil {
		return err
	}
	slog.Debug("social graph reloaded", "tick", tick, "edges", s.EdgeCount(), "groups", len(s.groups))
	return nil
}
