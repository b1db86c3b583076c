// Package world provides the toroidal token grid agents move on.
// Cells are either blank or blocked; every coordinate wraps modulo the grid
// size, so there is no out-of-bounds position.
package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/talgya/socialgrid/internal/entropy"
)

// Cell is the walkability class of a grid cell.
type Cell uint8

const (
	Blank Cell = iota
	Block
)

// Default map tokens. Any other non-space token read from a map file is a block.
const (
	TokenSpace = " "
	TokenTree  = "T"
	TokenRock  = "R"
	TokenWater = "W"
)

// DefaultTokens is the lookup table used by generated maps.
func DefaultTokens() map[string]Cell {
	return map[string]Cell{
		TokenSpace: Blank,
		TokenTree:  Block,
		TokenRock:  Block,
		TokenWater: Block,
	}
}

var (
	ErrEmptyGrid    = errors.New("world: empty token array")
	ErrRaggedGrid   = errors.New("world: rows have different lengths")
	ErrUnknownToken = errors.New("world: token missing from lookup table")
)

// Pos is a grid coordinate. X is the column, Y the row.
type Pos struct {
	X, Y int
}

// Add returns p shifted by (dx, dy). The result is not wrapped.
func (p Pos) Add(dx, dy int) Pos {
	return Pos{X: p.X + dx, Y: p.Y + dy}
}

func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// MarshalJSON encodes a position as a two-element array [x, y].
func (p Pos) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%d]", p.X, p.Y)), nil
}

// UnmarshalJSON accepts the [x, y] form written by MarshalJSON.
func (p *Pos) UnmarshalJSON(data []byte) error {
	var xy []int
	if err := json.Unmarshal(data, &xy); err != nil {
		return err
	}
	if len(xy) != 2 {
		return fmt.Errorf("world: position needs 2 coordinates, got %d", len(xy))
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// neighbours in the order the block-token vote scans them.
var neighbours = [8][2]int{
	{0, -1}, {0, 1}, {-1, 0}, {1, 0},
	{-1, -1}, {1, -1}, {-1, 1}, {1, 1},
}

// Grid holds the token array and its walkability view.
type Grid struct {
	width, height int
	tokens        [][]string // [y][x]
	cells         [][]Cell   // [y][x]
	lookup        map[string]Cell
	blank         map[Pos]struct{}
}

// NewGrid builds a grid from rows of tokens. A nil lookup treats every token
// except a single space as a block.
func NewGrid(tokens [][]string, lookup map[string]Cell) (*Grid, error) {
	if len(tokens) == 0 || len(tokens[0]) == 0 {
		return nil, ErrEmptyGrid
	}
	width := len(tokens[0])
	if lookup == nil {
		lookup = map[string]Cell{TokenSpace: Blank}
		for _, row := range tokens {
			for _, t := range row {
				if t != TokenSpace {
					lookup[t] = Block
				}
			}
		}
	}

	g := &Grid{
		width:  width,
		height: len(tokens),
		tokens: make([][]string, len(tokens)),
		cells:  make([][]Cell, len(tokens)),
		lookup: lookup,
		blank:  make(map[Pos]struct{}),
	}
	for y, row := range tokens {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d tokens, want %d", ErrRaggedGrid, y, len(row), width)
		}
		g.tokens[y] = append([]string(nil), row...)
		g.cells[y] = make([]Cell, width)
		for x, t := range row {
			c, ok := lookup[t]
			if !ok {
				return nil, fmt.Errorf("%w: %q at (%d,%d)", ErrUnknownToken, t, x, y)
			}
			g.cells[y][x] = c
			if c == Blank {
				g.blank[Pos{x, y}] = struct{}{}
			}
		}
	}
	return g, nil
}

// Shape returns (width, height).
func (g *Grid) Shape() (int, int) {
	return g.width, g.height
}

// Wrap normalizes p onto the torus.
func (g *Grid) Wrap(p Pos) Pos {
	return Pos{X: mod(p.X, g.width), Y: mod(p.Y, g.height)}
}

// At returns the cell class at p.
func (g *Grid) At(p Pos) Cell {
	p = g.Wrap(p)
	return g.cells[p.Y][p.X]
}

// Token returns the raw token at p.
func (g *Grid) Token(p Pos) string {
	p = g.Wrap(p)
	return g.tokens[p.Y][p.X]
}

// IsBlocked reports whether p is a block cell.
func (g *Grid) IsBlocked(p Pos) bool {
	return g.At(p) == Block
}

// AddBlock turns p into a block. The token is drawn from the blocked
// neighbours' tokens, or from every known block token when no neighbour is
// blocked, so new blocks blend into the terrain around them.
func (g *Grid) AddBlock(p Pos, rng *entropy.Source) {
	p = g.Wrap(p)
	seen := make(map[string]bool)
	var choices []string
	for _, d := range neighbours {
		n := g.Wrap(p.Add(d[0], d[1]))
		if g.cells[n.Y][n.X] != Block {
			continue
		}
		if t := g.tokens[n.Y][n.X]; !seen[t] {
			seen[t] = true
			choices = append(choices, t)
		}
	}
	if len(choices) == 0 {
		choices = g.BlockTokens()
	}
	sort.Strings(choices)

	token := TokenTree
	if len(choices) > 0 {
		token = choices[rng.Intn(len(choices))]
	}
	if _, ok := g.lookup[token]; !ok {
		g.lookup[token] = Block
	}
	g.tokens[p.Y][p.X] = token
	g.cells[p.Y][p.X] = Block
	delete(g.blank, p)
}

// AddBlocks places a block at each position in order.
func (g *Grid) AddBlocks(ps []Pos, rng *entropy.Source) {
	for _, p := range ps {
		g.AddBlock(p, rng)
	}
}

// BlockTokens returns the sorted tokens that map to Block.
func (g *Grid) BlockTokens() []string {
	var out []string
	for t, c := range g.lookup {
		if c == Block {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Window extracts the cells in [x0,x1) × [y0,y1), wrapping around the edges.
// The result is indexed [row][col].
func (g *Grid) Window(x0, x1, y0, y1 int) [][]Cell {
	if x1 < x0 || y1 < y0 {
		return nil
	}
	out := make([][]Cell, 0, y1-y0)
	for y := y0; y < y1; y++ {
		row := make([]Cell, 0, x1-x0)
		wy := mod(y, g.height)
		for x := x0; x < x1; x++ {
			row = append(row, g.cells[wy][mod(x, g.width)])
		}
		out = append(out, row)
	}
	return out
}

// BlankPositions returns every blank cell in row-major order.
func (g *Grid) BlankPositions() []Pos {
	out := make([]Pos, 0, len(g.blank))
	for p := range g.blank {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

// BlankCount returns the number of blank cells.
func (g *Grid) BlankCount() int {
	return len(g.blank)
}

// String renders the token array one row per line.
func (g *Grid) String() string {
	var b strings.Builder
	for y, row := range g.tokens {
		if y > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(row, ""))
	}
	return b.String()
}

// Offset maps d onto the shortest signed toroidal distance for size n.
func Offset(d, n int) int {
	d %= n
	if d > n/2 {
		d -= n
	} else if d < -n/2 {
		d += n
	}
	return d
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
