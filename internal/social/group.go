// Groups: coalitions of agents held together by membership edges.
package social

import "sort"

// Group is a coalition node in the social graph. Membership itself lives on
// the group→agent edges; the member list only fixes an iteration order.
type Group struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`

	members []int   // agent IDs in join order
	pool    float64 // shares contributed this tick, awaiting redistribution
}

// Members returns the member agent IDs in join order.
func (g *Group) Members() []int {
	return append([]int(nil), g.members...)
}

// Size returns the number of members.
func (g *Group) Size() int {
	return len(g.members)
}

// Has reports whether agent is a member.
func (g *Group) Has(agent int) bool {
	for _, m := range g.members {
		if m == agent {
			return true
		}
	}
	return false
}

// Pool returns the undistributed shares.
func (g *Group) Pool() float64 {
	return g.pool
}

func (g *Group) earn(score float64) {
	g.pool += score
}

func (g *Group) add(agent int) {
	if !g.Has(agent) {
		g.members = append(g.members, agent)
	}
}

func (g *Group) remove(agent int) {
	for i, m := range g.members {
		if m == agent {
			g.members = append(g.members[:i], g.members[i+1:]...)
			return
		}
	}
}

func sortedNames[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
