// Package social provides the attributed directed graph over agents and
// groups: relation and membership CRUD, the rule pipeline that rewrites the
// graph every tick, the bilateral negotiation protocol expressed as edge
// attributes, and scheduled graph reloads.
package social

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// Errors returned for graph-state desynchronization. Callers treat these as
// contract violations.
var (
	ErrUnknownAgent     = errors.New("social: unknown agent")
	ErrUnknownGroup     = errors.New("social: unknown group")
	ErrNoEdge           = errors.New("social: no such edge")
	ErrMissingAttribute = errors.New("social: attribute not on edge")
	ErrSelfRelation     = errors.New("social: relation to self")
)

// NodeKind discriminates graph nodes.
type NodeKind uint8

const (
	NodeAgent NodeKind = iota
	NodeGroup
)

func (k NodeKind) String() string {
	if k == NodeGroup {
		return "group"
	}
	return "agent"
}

// NodeRef identifies a node by kind and domain ID (agent ID or group ID).
type NodeRef struct {
	Kind NodeKind
	ID   int
}

// NodeRecord is the flattened form of a node used in observations.
type NodeRecord struct {
	Type string `json:"type"`
	ID   int    `json:"id"`
}

// EdgeRecord is the flattened form of an edge used in observations.
type EdgeRecord struct {
	From       NodeRecord `json:"from"`
	To         NodeRecord `json:"to"`
	Attributes *Attrs     `json:"attributes"`
}

type edgeKey struct {
	from, to int64
}

// Graph is the social graph. Topology is held in a gonum directed graph keyed
// by opaque node IDs; a side table maps each node ID to its agent or group,
// and edge attributes are kept per (from, to) pair.
type Graph struct {
	g         *simple.DirectedGraph
	nodes     map[int64]NodeRef
	agentNode map[int]int64
	groupNode map[int]int64
	groups    map[int]*Group
	attrs     map[edgeKey]*Attrs

	nextNode  int64
	nextGroup int
}

// New creates a graph holding the given agents.
func New(agents ...int) *Graph {
	s := &Graph{
		g:         simple.NewDirectedGraph(),
		nodes:     make(map[int64]NodeRef),
		agentNode: make(map[int]int64),
		groupNode: make(map[int]int64),
		groups:    make(map[int]*Group),
		attrs:     make(map[edgeKey]*Attrs),
	}
	for _, id := range agents {
		s.AddAgent(id)
	}
	return s
}

// AddAgent adds an agent node. Adding an existing agent is a no-op.
func (s *Graph) AddAgent(id int) {
	if _, ok := s.agentNode[id]; ok {
		return
	}
	nid := s.newNode(NodeRef{Kind: NodeAgent, ID: id})
	s.agentNode[id] = nid
}

// HasAgent reports whether id is an agent node.
func (s *Graph) HasAgent(id int) bool {
	_, ok := s.agentNode[id]
	return ok
}

// Agents returns every agent ID in ascending order.
func (s *Graph) Agents() []int {
	out := make([]int, 0, len(s.agentNode))
	for id := range s.agentNode {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (s *Graph) newNode(ref NodeRef) int64 {
	nid := s.nextNode
	s.nextNode++
	s.g.AddNode(simple.Node(nid))
	s.nodes[nid] = ref
	return nid
}

func (s *Graph) agent(id int) (int64, error) {
	nid, ok := s.agentNode[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownAgent, id)
	}
	return nid, nil
}

func (s *Graph) group(id int) (int64, *Group, error) {
	nid, ok := s.groupNode[id]
	if !ok {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownGroup, id)
	}
	return nid, s.groups[id], nil
}

// ── Edges ──

// relate is setEdge for agent→agent edges. A relation exists only while it
// carries an attribute, so an empty set never creates one.
func (s *Graph) relate(u, v int64, attrs *Attrs) error {
	if attrs.Len() == 0 {
		if u == v {
			return ErrSelfRelation
		}
		return nil
	}
	return s.setEdge(u, v, attrs)
}

func (s *Graph) setEdge(u, v int64, attrs *Attrs) error {
	if u == v {
		return ErrSelfRelation
	}
	k := edgeKey{u, v}
	if a, ok := s.attrs[k]; ok {
		a.Merge(attrs)
		return nil
	}
	s.g.SetEdge(s.g.NewEdge(s.g.Node(u), s.g.Node(v)))
	a := &Attrs{}
	a.Merge(attrs)
	s.attrs[k] = a
	return nil
}

func (s *Graph) dropEdge(u, v int64) {
	s.g.RemoveEdge(u, v)
	delete(s.attrs, edgeKey{u, v})
}

// deleteAttr removes name from the edge, dropping the edge once it is empty.
func (s *Graph) deleteAttr(u, v int64, name string) error {
	a, ok := s.attrs[edgeKey{u, v}]
	if !ok {
		return ErrNoEdge
	}
	if !a.Delete(name) {
		return fmt.Errorf("%w: %s", ErrMissingAttribute, name)
	}
	if a.Len() == 0 {
		s.dropEdge(u, v)
	}
	return nil
}

func (s *Graph) edgeAttrs(u, v int64) (*Attrs, bool) {
	a, ok := s.attrs[edgeKey{u, v}]
	return a, ok
}

func (s *Graph) sortedEdges() []edgeKey {
	keys := make([]edgeKey, 0, len(s.attrs))
	for k := range s.attrs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})
	return keys
}

func (s *Graph) successors(u int64) []int64 {
	return sortedNodeIDs(s.g.From(u))
}

func (s *Graph) predecessors(v int64) []int64 {
	return sortedNodeIDs(s.g.To(v))
}

func sortedNodeIDs(it graph.Nodes) []int64 {
	nodes := graph.NodesOf(it)
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ── Relations ──

// AddRelation creates the agent→agent edge if needed and sets attrs on it.
func (s *Graph) AddRelation(from, to int, attrs ...Attr) error {
	return s.AddRelationAttrs(from, to, NewAttrs(attrs...))
}

// AddRelationAttrs is AddRelation with a prepared attribute map.
func (s *Graph) AddRelationAttrs(from, to int, attrs *Attrs) error {
	u, err := s.agent(from)
	if err != nil {
		return err
	}
	v, err := s.agent(to)
	if err != nil {
		return err
	}
	if err := s.relate(u, v, attrs); err != nil {
		return fmt.Errorf("relation %d→%d: %w", from, to, err)
	}
	return nil
}

// RemoveRelation deletes one attribute from the from→to edge. The edge goes
// away with its last attribute. A missing edge or attribute is an error.
func (s *Graph) RemoveRelation(from, to int, name string) error {
	u, err := s.agent(from)
	if err != nil {
		return err
	}
	v, err := s.agent(to)
	if err != nil {
		return err
	}
	if err := s.deleteAttr(u, v, name); err != nil {
		return fmt.Errorf("relation %d→%d: %w", from, to, err)
	}
	return nil
}

// ClearRelation deletes whichever of names are present on the from→to edge.
func (s *Graph) ClearRelation(from, to int, names ...string) {
	u, ok1 := s.agentNode[from]
	v, ok2 := s.agentNode[to]
	if !ok1 || !ok2 {
		return
	}
	a, ok := s.edgeAttrs(u, v)
	if !ok {
		return
	}
	for _, name := range names {
		a.Delete(name)
	}
	if a.Len() == 0 {
		s.dropEdge(u, v)
	}
}

// Relation returns a copy of the from→to edge attributes.
func (s *Graph) Relation(from, to int) (*Attrs, bool) {
	u, ok1 := s.agentNode[from]
	v, ok2 := s.agentNode[to]
	if !ok1 || !ok2 {
		return nil, false
	}
	a, ok := s.edgeAttrs(u, v)
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// RelationValue returns one attribute of the from→to edge.
func (s *Graph) RelationValue(from, to int, name string) (Value, bool) {
	u, ok1 := s.agentNode[from]
	v, ok2 := s.agentNode[to]
	if !ok1 || !ok2 {
		return Value{}, false
	}
	a, ok := s.edgeAttrs(u, v)
	if !ok {
		return Value{}, false
	}
	return a.Get(name)
}

// HasRelation reports whether a from→to edge exists.
func (s *Graph) HasRelation(from, to int) bool {
	u, ok1 := s.agentNode[from]
	v, ok2 := s.agentNode[to]
	return ok1 && ok2 && s.g.HasEdgeFromTo(u, v)
}

// CheckRelation reports whether the from→to edge carries name with value want.
func (s *Graph) CheckRelation(from, to int, name string, want Value) bool {
	got, ok := s.RelationValue(from, to, name)
	return ok && got.Equal(want)
}

// InRelations returns the agents with an edge to this agent.
func (s *Graph) InRelations(agent int) []int {
	v, ok := s.agentNode[agent]
	if !ok {
		return nil
	}
	return s.agentIDs(s.predecessors(v))
}

func (s *Graph) agentIDs(nids []int64) []int {
	var out []int
	for _, nid := range nids {
		if ref := s.nodes[nid]; ref.Kind == NodeAgent {
			out = append(out, ref.ID)
		}
	}
	return out
}

// ── Groups ──

// CreateGroup adds an empty group node.
func (s *Graph) CreateGroup(name string) *Group {
	g := &Group{ID: s.nextGroup, Name: name}
	s.nextGroup++
	s.groups[g.ID] = g
	s.groupNode[g.ID] = s.newNode(NodeRef{Kind: NodeGroup, ID: g.ID})
	slog.Debug("group created", "group", g.ID, "name", name)
	return g
}

// Group returns the group with the given ID.
func (s *Graph) Group(id int) (*Group, error) {
	_, g, err := s.group(id)
	return g, err
}

// Groups returns every group in ID order.
func (s *Graph) Groups() []*Group {
	ids := make([]int, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*Group, len(ids))
	for i, id := range ids {
		out[i] = s.groups[id]
	}
	return out
}

// RemoveGroup makes every member quit, then deletes the group node.
func (s *Graph) RemoveGroup(id int) error {
	nid, g, err := s.group(id)
	if err != nil {
		return err
	}
	for _, m := range g.Members() {
		s.dropEdge(nid, s.agentNode[m])
		g.remove(m)
	}
	for k := range s.attrs {
		if k.from == nid || k.to == nid {
			delete(s.attrs, k)
		}
	}
	s.g.RemoveNode(nid)
	delete(s.nodes, nid)
	delete(s.groupNode, id)
	delete(s.groups, id)
	slog.Debug("group removed", "group", id)
	return nil
}

// JoinGroup adds agent to group, setting attrs on the membership edge.
// Joining again under further attribute keys extends the same edge.
func (s *Graph) JoinGroup(agent, group int, attrs ...Attr) error {
	return s.JoinGroupAttrs(agent, group, NewAttrs(attrs...))
}

// JoinGroupAttrs is JoinGroup with a prepared attribute map.
func (s *Graph) JoinGroupAttrs(agent, group int, attrs *Attrs) error {
	v, err := s.agent(agent)
	if err != nil {
		return err
	}
	u, g, err := s.group(group)
	if err != nil {
		return err
	}
	if err := s.setEdge(u, v, attrs); err != nil {
		return err
	}
	g.add(agent)
	return nil
}

// QuitGroup removes the named membership attributes; the agent leaves the
// group when its membership edge runs out of attributes. With no names the
// membership is dropped outright.
func (s *Graph) QuitGroup(agent, group int, names ...string) error {
	v, err := s.agent(agent)
	if err != nil {
		return err
	}
	u, g, err := s.group(group)
	if err != nil {
		return err
	}
	if _, ok := s.edgeAttrs(u, v); !ok {
		return fmt.Errorf("group %d member %d: %w", group, agent, ErrNoEdge)
	}
	if len(names) == 0 {
		s.dropEdge(u, v)
		g.remove(agent)
		return nil
	}
	for _, name := range names {
		if err := s.deleteAttr(u, v, name); err != nil {
			return fmt.Errorf("group %d member %d: %w", group, agent, err)
		}
	}
	if !s.g.HasEdgeFromTo(u, v) {
		g.remove(agent)
	}
	return nil
}

// Membership returns a copy of the group→agent edge attributes.
func (s *Graph) Membership(group, agent int) (*Attrs, bool) {
	u, ok1 := s.groupNode[group]
	v, ok2 := s.agentNode[agent]
	if !ok1 || !ok2 {
		return nil, false
	}
	a, ok := s.edgeAttrs(u, v)
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// GroupsOf returns the IDs of every group the agent belongs to, ascending.
func (s *Graph) GroupsOf(agent int) []int {
	v, ok := s.agentNode[agent]
	if !ok {
		return nil
	}
	var out []int
	for _, nid := range s.predecessors(v) {
		if ref := s.nodes[nid]; ref.Kind == NodeGroup {
			out = append(out, ref.ID)
		}
	}
	sort.Ints(out)
	return out
}

// GroupsWith returns the groups whose membership edge to agent carries attr.
func (s *Graph) GroupsWith(agent int, attr string) []int {
	v, ok := s.agentNode[agent]
	if !ok {
		return nil
	}
	var out []int
	for _, gid := range s.GroupsOf(agent) {
		if a, ok := s.edgeAttrs(s.groupNode[gid], v); ok && a.Has(attr) {
			out = append(out, gid)
		}
	}
	return out
}

// SharesGroup reports whether a and b have a group in common.
func (s *Graph) SharesGroup(a, b int) bool {
	mine := make(map[int]bool)
	for _, g := range s.GroupsOf(a) {
		mine[g] = true
	}
	for _, g := range s.GroupsOf(b) {
		if mine[g] {
			return true
		}
	}
	return false
}

// MergeGroups moves every member of g2 into g1 and removes g2. A member of
// both whose membership attributes differ makes the merge fail; the graph is
// then left untouched and false is returned.
func (s *Graph) MergeGroups(g1, g2 int) (bool, error) {
	u1, dst, err := s.group(g1)
	if err != nil {
		return false, err
	}
	u2, src, err := s.group(g2)
	if err != nil {
		return false, err
	}
	if g1 == g2 {
		return true, nil
	}
	if m, ok := s.conflict(u1, u2, src); ok {
		slog.Debug("group merge conflict", "into", g1, "from", g2, "member", m)
		return false, nil
	}
	for _, m := range src.Members() {
		v := s.agentNode[m]
		if _, ok := s.edgeAttrs(u1, v); ok {
			continue
		}
		a, _ := s.edgeAttrs(u2, v)
		if err := s.setEdge(u1, v, a); err != nil {
			return false, err
		}
		dst.add(m)
	}
	if err := s.RemoveGroup(g2); err != nil {
		return false, err
	}
	slog.Debug("groups merged", "into", g1, "from", g2)
	return true, nil
}

// conflict finds a member of src whose membership attributes toward the
// groups at u1 and u2 differ.
func (s *Graph) conflict(u1, u2 int64, src *Group) (int, bool) {
	for _, m := range src.members {
		v := s.agentNode[m]
		a1, ok := s.edgeAttrs(u1, v)
		if !ok {
			continue
		}
		a2, _ := s.edgeAttrs(u2, v)
		if !a1.Equal(a2) {
			return m, true
		}
	}
	return 0, false
}

// Clear drops every edge and group. Agents stay and group IDs restart at 0.
func (s *Graph) Clear() {
	agents := s.Agents()
	s.g = simple.NewDirectedGraph()
	s.nodes = make(map[int64]NodeRef)
	s.groupNode = make(map[int]int64)
	s.groups = make(map[int]*Group)
	s.attrs = make(map[edgeKey]*Attrs)
	s.nextGroup = 0
	for _, id := range agents {
		nid := s.agentNode[id]
		s.g.AddNode(simple.Node(nid))
		s.nodes[nid] = NodeRef{Kind: NodeAgent, ID: id}
	}
}

// ── Views ──

// Nodes returns flattened node records in creation order.
func (s *Graph) Nodes() []NodeRecord {
	ids := make([]int64, 0, len(s.nodes))
	for nid := range s.nodes {
		ids = append(ids, nid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]NodeRecord, len(ids))
	for i, nid := range ids {
		out[i] = s.record(nid)
	}
	return out
}

// Edges returns flattened edge records ordered by endpoint creation order.
func (s *Graph) Edges() []EdgeRecord {
	keys := s.sortedEdges()
	out := make([]EdgeRecord, len(keys))
	for i, k := range keys {
		out[i] = EdgeRecord{
			From:       s.record(k.from),
			To:         s.record(k.to),
			Attributes: s.attrs[k].Clone(),
		}
	}
	return out
}

// EdgeCount returns the number of edges.
func (s *Graph) EdgeCount() int {
	return len(s.attrs)
}

func (s *Graph) record(nid int64) NodeRecord {
	ref := s.nodes[nid]
	return NodeRecord{Type: ref.Kind.String(), ID: ref.ID}
}
