package agents

import (
	"errors"
	"fmt"
	"sort"

	"github.com/talgya/socialgrid/internal/social"
)

// Errors returned for malformed actions. Both are contract violations.
var (
	ErrUnknownCommand = errors.New("agents: unknown command")
	ErrBadArguments   = errors.New("agents: bad command arguments")
)

// Command is one action an agent submits for a tick. The set is closed: the
// orchestrator dispatches with an exhaustive type switch.
type Command interface {
	Tag() string
	command()
}

// NoAct does nothing.
type NoAct struct{}

// Move shifts the pending position by (DX, DY).
type Move struct{ DX, DY int }

// Pick takes one unit from the top pile on the agent's cell.
type Pick struct{}

// PickByName brings the first pile named Resource to the top and takes one unit.
type PickByName struct{ Resource string }

// DumpByName lays one carried unit of Resource on the agent's cell.
type DumpByName struct{ Resource string }

// Produce runs the event on the agent's cell.
type Produce struct{}

// RequestMatching invites To to bargain.
type RequestMatching struct{ To AgentID }

// Propose offers To a split in which the proposer keeps Score.
type Propose struct {
	To    AgentID
	Score float64
}

// AcceptProposal takes To's offer. Scale, when set, overrides the
// accepter's share.
type AcceptProposal struct {
	To    AgentID
	Scale *float64
}

// EndBargaining walks away from the session with To.
type EndBargaining struct{ To AgentID }

// CheckRelation tests the edge to To for Attrs.
type CheckRelation struct {
	To    AgentID
	Attrs *social.Attrs
}

// AddRelation sets Attrs on the edge to To.
type AddRelation struct {
	To    AgentID
	Attrs *social.Attrs
}

// RemoveRelation deletes Attr from the edge to To.
type RemoveRelation struct {
	To   AgentID
	Attr string
}

// JoinGroup joins Group with Attrs on the membership edge.
type JoinGroup struct {
	Group int
	Attrs *social.Attrs
}

// QuitGroup removes Attr from the membership edge to Group.
type QuitGroup struct {
	Group int
	Attr  string
}

func (NoAct) Tag() string           { return "no_act" }
func (Move) Tag() string            { return "move" }
func (Pick) Tag() string            { return "pick" }
func (PickByName) Tag() string      { return "pick_by_name" }
func (DumpByName) Tag() string      { return "dump_by_name" }
func (Produce) Tag() string         { return "produce" }
func (RequestMatching) Tag() string { return "request_matching" }
func (Propose) Tag() string         { return "propose" }
func (AcceptProposal) Tag() string  { return "accept_proposal" }
func (EndBargaining) Tag() string   { return "end_bargaining" }
func (CheckRelation) Tag() string   { return "check_relation" }
func (AddRelation) Tag() string     { return "add_relation" }
func (RemoveRelation) Tag() string  { return "remove_relation" }
func (JoinGroup) Tag() string       { return "join_group" }
func (QuitGroup) Tag() string       { return "quit_group" }

func (NoAct) command()           {}
func (Move) command()            {}
func (Pick) command()            {}
func (PickByName) command()      {}
func (DumpByName) command()      {}
func (Produce) command()         {}
func (RequestMatching) command() {}
func (Propose) command()         {}
func (AcceptProposal) command()  {}
func (EndBargaining) command()   {}
func (CheckRelation) command()   {}
func (AddRelation) command()     {}
func (RemoveRelation) command()  {}
func (JoinGroup) command()       {}
func (QuitGroup) command()       {}

type parser func(kw social.Kwargs) (Command, error)

var parsers = map[string]parser{
	"no_act":     func(social.Kwargs) (Command, error) { return NoAct{}, nil },
	"move_up":    func(social.Kwargs) (Command, error) { return Move{0, -1}, nil },
	"move_down":  func(social.Kwargs) (Command, error) { return Move{0, 1}, nil },
	"move_left":  func(social.Kwargs) (Command, error) { return Move{-1, 0}, nil },
	"move_right": func(social.Kwargs) (Command, error) { return Move{1, 0}, nil },
	"pick":       func(social.Kwargs) (Command, error) { return Pick{}, nil },
	"produce":    func(social.Kwargs) (Command, error) { return Produce{}, nil },
	"move": func(kw social.Kwargs) (Command, error) {
		dx, err := kw.Int("dx")
		if err != nil {
			return nil, err
		}
		dy, err := kw.Int("dy")
		return Move{dx, dy}, err
	},
	"pick_by_name": func(kw social.Kwargs) (Command, error) {
		name, err := kw.Str("resource_name")
		return PickByName{name}, err
	},
	"dump_by_name": func(kw social.Kwargs) (Command, error) {
		name, err := kw.Str("resource_name")
		return DumpByName{name}, err
	},
	"request_matching": func(kw social.Kwargs) (Command, error) {
		to, err := kw.Int("to_player_id")
		return RequestMatching{to}, err
	},
	"propose": func(kw social.Kwargs) (Command, error) {
		to, err := kw.Int("to_player_id")
		if err != nil {
			return nil, err
		}
		score, err := kw.Float("score")
		return Propose{to, score}, err
	},
	"accept_proposal": func(kw social.Kwargs) (Command, error) {
		to, err := kw.Int("to_player_id")
		if err != nil {
			return nil, err
		}
		c := AcceptProposal{To: to}
		if kw.Has("scale") && kw["scale"] != nil {
			s, err := kw.Float("scale")
			if err != nil {
				return nil, err
			}
			c.Scale = &s
		}
		return c, nil
	},
	"end_bargaining": func(kw social.Kwargs) (Command, error) {
		to, err := kw.Int("to_player_id")
		return EndBargaining{to}, err
	},
	"check_relation": func(kw social.Kwargs) (Command, error) {
		to, err := kw.Int("to_player_id")
		if err != nil {
			return nil, err
		}
		a, err := kw.Attrs("attribute_dict")
		return CheckRelation{to, a}, err
	},
	"add_relation": func(kw social.Kwargs) (Command, error) {
		to, err := kw.Int("to_player_id")
		if err != nil {
			return nil, err
		}
		a, err := kw.Attrs("attributes_dict")
		return AddRelation{to, a}, err
	},
	"remove_relation": func(kw social.Kwargs) (Command, error) {
		to, err := kw.Int("to_player_id")
		if err != nil {
			return nil, err
		}
		name, err := kw.Str("attribute_name")
		return RemoveRelation{to, name}, err
	},
	"join_group": func(kw social.Kwargs) (Command, error) {
		g, err := kw.Int("group_id")
		if err != nil {
			return nil, err
		}
		a, err := kw.Attrs("attribute_dict")
		return JoinGroup{g, a}, err
	},
	"quit_group": func(kw social.Kwargs) (Command, error) {
		g, err := kw.Int("group_id")
		if err != nil {
			return nil, err
		}
		name, err := kw.Str("attribute_name")
		return QuitGroup{g, name}, err
	},
}

// Tags lists every accepted command tag.
func Tags() []string {
	out := make([]string, 0, len(parsers))
	for t := range parsers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ParseCommand reads one action in any of its wire forms: a bare tag,
// a [tag, kwargs] pair, or an {"action": tag, "kwargs": {...}} object.
func ParseCommand(raw any) (Command, error) {
	tag, kwargs, err := split(raw)
	if err != nil {
		return nil, err
	}
	p, ok := parsers[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, tag)
	}
	c, err := p(social.Kwargs(kwargs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", tag, ErrBadArguments, err)
	}
	return c, nil
}

// ParseCommands reads a single action or a list of actions. A two-element
// list of a tag and a kwargs object is one action.
func ParseCommands(raw any) ([]Command, error) {
	list, ok := raw.([]any)
	if !ok || isPair(list) {
		c, err := ParseCommand(raw)
		if err != nil {
			return nil, err
		}
		return []Command{c}, nil
	}
	out := make([]Command, 0, len(list))
	for i, item := range list {
		c, err := ParseCommand(item)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func isPair(list []any) bool {
	if len(list) != 2 {
		return false
	}
	if _, ok := list[0].(string); !ok {
		return false
	}
	m, ok := list[1].(map[string]any)
	if !ok {
		return false
	}
	_, isAction := m["action"]
	return !isAction
}

func split(raw any) (string, map[string]any, error) {
	switch x := raw.(type) {
	case string:
		return x, nil, nil
	case map[string]any:
		tag, ok := x["action"].(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: object without action tag", ErrBadArguments)
		}
		kw, err := kwargsOf(x["kwargs"])
		return tag, kw, err
	case []any:
		if len(x) != 2 {
			return "", nil, fmt.Errorf("%w: action pair has %d elements", ErrBadArguments, len(x))
		}
		tag, ok := x[0].(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: action tag is %T", ErrBadArguments, x[0])
		}
		kw, err := kwargsOf(x[1])
		return tag, kw, err
	case Command:
		return "", nil, fmt.Errorf("%w: already parsed", ErrBadArguments)
	}
	return "", nil, fmt.Errorf("%w: action is %T", ErrBadArguments, raw)
}

func kwargsOf(raw any) (map[string]any, error) {
	switch x := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return x, nil
	}
	return nil, fmt.Errorf("%w: kwargs is %T", ErrBadArguments, raw)
}

// Encode returns the {"action", "kwargs"} wire form of c.
func Encode(c Command) map[string]any {
	kw := map[string]any{}
	tag := c.Tag()
	switch x := c.(type) {
	case Move:
		kw["dx"], kw["dy"] = x.DX, x.DY
	case PickByName:
		kw["resource_name"] = x.Resource
	case DumpByName:
		kw["resource_name"] = x.Resource
	case RequestMatching:
		kw["to_player_id"] = x.To
	case Propose:
		kw["to_player_id"], kw["score"] = x.To, x.Score
	case AcceptProposal:
		kw["to_player_id"] = x.To
		if x.Scale != nil {
			kw["scale"] = *x.Scale
		}
	case EndBargaining:
		kw["to_player_id"] = x.To
	case CheckRelation:
		kw["to_player_id"], kw["attribute_dict"] = x.To, x.Attrs
	case AddRelation:
		kw["to_player_id"], kw["attributes_dict"] = x.To, x.Attrs
	case RemoveRelation:
		kw["to_player_id"], kw["attribute_name"] = x.To, x.Attr
	case JoinGroup:
		kw["group_id"], kw["attribute_dict"] = x.Group, x.Attrs
	case QuitGroup:
		kw["group_id"], kw["attribute_name"] = x.Group, x.Attr
	}
	return map[string]any{"action": tag, "kwargs": kw}
}
