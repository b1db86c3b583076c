package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/talgya/socialgrid/internal/social"
	"github.com/talgya/socialgrid/internal/world"
)

// Positions accepts one [x, y] pair or a list of them.
type Positions []world.Pos

func (ps *Positions) UnmarshalYAML(n *yaml.Node) error {
	var one []int
	if err := n.Decode(&one); err == nil {
		if len(one) != 2 {
			return fmt.Errorf("line %d: position needs 2 coordinates, got %d", n.Line, len(one))
		}
		*ps = Positions{{X: one[0], Y: one[1]}}
		return nil
	}
	var many [][]int
	if err := n.Decode(&many); err != nil {
		return fmt.Errorf("line %d: positions: %w", n.Line, err)
	}
	out := make(Positions, len(many))
	for i, p := range many {
		if len(p) != 2 {
			return fmt.Errorf("line %d: position %d needs 2 coordinates, got %d", n.Line, i, len(p))
		}
		out[i] = world.Pos{X: p[0], Y: p[1]}
	}
	*ps = out
	return nil
}

// Names accepts one name or a list.
type Names []string

func (ns *Names) UnmarshalYAML(n *yaml.Node) error {
	var one string
	if err := n.Decode(&one); err == nil {
		*ns = Names{one}
		return nil
	}
	var many []string
	if err := n.Decode(&many); err != nil {
		return fmt.Errorf("line %d: names: %w", n.Line, err)
	}
	*ns = many
	return nil
}

// Ints accepts one integer or a list.
type Ints []int

func (is *Ints) UnmarshalYAML(n *yaml.Node) error {
	var one int
	if err := n.Decode(&one); err == nil {
		*is = Ints{one}
		return nil
	}
	var many []int
	if err := n.Decode(&many); err != nil {
		return fmt.Errorf("line %d: numbers: %w", n.Line, err)
	}
	*is = many
	return nil
}

// Number generator rules.
const (
	NumStatic = "static"
	NumRandom = "random"
)

// NumGen draws a pile amount: a fixed Num, or a uniform integer in
// [Min, Max]. A bare integer is shorthand for a static rule.
type NumGen struct {
	Rule string `yaml:"rule"`
	Num  int    `yaml:"num"`
	Min  int    `yaml:"min"`
	Max  int    `yaml:"max"`
}

func (g *NumGen) UnmarshalYAML(n *yaml.Node) error {
	var num int
	if err := n.Decode(&num); err == nil {
		*g = NumGen{Rule: NumStatic, Num: num}
		return nil
	}
	type plain NumGen
	var p plain
	if err := n.Decode(&p); err != nil {
		return fmt.Errorf("line %d: num: %w", n.Line, err)
	}
	*g = NumGen(p)
	return nil
}

// Validate checks the rule and bounds.
func (g NumGen) Validate() error {
	switch g.Rule {
	case NumStatic:
		if g.Num < 0 {
			return fmt.Errorf("static num %d is negative", g.Num)
		}
	case NumRandom:
		if g.Min < 0 || g.Max < g.Min {
			return fmt.Errorf("random num range [%d, %d] is invalid", g.Min, g.Max)
		}
	default:
		return fmt.Errorf("unknown num rule %q", g.Rule)
	}
	return nil
}

// Rule is one pipeline entry: a bare rule name, a [name, kwargs] pair or a
// {function, kwargs} object.
type Rule social.RuleSpec

func (r *Rule) UnmarshalYAML(n *yaml.Node) error {
	var name string
	if err := n.Decode(&name); err == nil {
		*r = Rule{Function: name}
		return nil
	}
	if n.Kind == yaml.SequenceNode {
		if len(n.Content) != 2 {
			return fmt.Errorf("line %d: rule pair needs 2 elements", n.Line)
		}
		if err := n.Content[0].Decode(&r.Function); err != nil {
			return fmt.Errorf("line %d: rule name: %w", n.Line, err)
		}
		var kw map[string]any
		if err := n.Content[1].Decode(&kw); err != nil {
			return fmt.Errorf("line %d: rule kwargs: %w", n.Line, err)
		}
		r.Kwargs = kw
		return nil
	}
	var spec social.RuleSpec
	if err := n.Decode(&spec); err != nil {
		return fmt.Errorf("line %d: rule: %w", n.Line, err)
	}
	*r = Rule(spec)
	return nil
}

// Specs converts a rule list into pipeline specs.
func Specs(rules []Rule) []social.RuleSpec {
	out := make([]social.RuleSpec, len(rules))
	for i, r := range rules {
		out[i] = social.RuleSpec(r)
	}
	return out
}

// jsonable rewrites YAML-decoded maps with non-string keys so the value can
// be re-encoded as JSON.
func jsonable(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonable(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = jsonable(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonable(e)
		}
		return out
	}
	return v
}
