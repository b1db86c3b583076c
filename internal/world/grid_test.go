package world

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/talgya/socialgrid/internal/entropy"
)

func TestWrapNegative(t *testing.T) {
	g, err := Generate(GenConfig{InitRule: RuleBlank, Width: 5, Height: 4})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		in, want Pos
	}{
		{Pos{0, 0}, Pos{0, 0}},
		{Pos{-1, 0}, Pos{4, 0}},
		{Pos{5, 4}, Pos{0, 0}},
		{Pos{-6, -9}, Pos{4, 3}},
	}
	for _, c := range cases {
		if got := g.Wrap(c.in); got != c.want {
			t.Errorf("Wrap(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestOffsetShortestWay(t *testing.T) {
	cases := []struct{ d, n, want int }{
		{0, 5, 0},
		{2, 5, 2},
		{3, 5, -2},
		{-3, 5, 2},
		{4, 8, 4},
		{-4, 8, -4},
		{11, 10, 1},
	}
	for _, c := range cases {
		if got := Offset(c.d, c.n); got != c.want {
			t.Errorf("Offset(%d, %d) = %d, want %d", c.d, c.n, got, c.want)
		}
	}
}

func TestBoxBorder(t *testing.T) {
	g, err := Generate(GenConfig{InitRule: RuleBox, Width: 4, Height: 3})
	if err != nil {
		t.Fatal(err)
	}
	want := "TTTT\nT  T\nTTTT"
	if g.String() != want {
		t.Fatalf("box map:\n%s\nwant:\n%s", g, want)
	}
	if g.BlankCount() != 2 {
		t.Errorf("blank count = %d, want 2", g.BlankCount())
	}
	if !g.IsBlocked(Pos{-1, 1}) {
		t.Error("(-1,1) should wrap onto the right border")
	}
}

func TestWindowWraps(t *testing.T) {
	g, err := ParseMap(strings.NewReader("# comment\nT  \n R \n  W\n"))
	if err != nil {
		t.Fatal(err)
	}
	win := g.Window(-1, 2, -1, 2)
	want := [][]Cell{
		{Block, Blank, Blank},
		{Blank, Block, Blank},
		{Blank, Blank, Block},
	}
	for y := range want {
		for x := range want[y] {
			if win[y][x] != want[y][x] {
				t.Fatalf("window[%d][%d] = %d, want %d (window %v)", y, x, win[y][x], want[y][x], win)
			}
		}
	}
}

func TestAddBlockUsesNeighbourToken(t *testing.T) {
	g, err := ParseMap(strings.NewReader("WWW\nW  \n   \n"))
	if err != nil {
		t.Fatal(err)
	}
	rng := entropy.New(7)
	g.AddBlock(Pos{1, 1}, rng)
	if got := g.Token(Pos{1, 1}); got != "W" {
		t.Errorf("token = %q, want W", got)
	}
	if !g.IsBlocked(Pos{1, 1}) {
		t.Error("cell not blocked")
	}
	for _, p := range g.BlankPositions() {
		if p == (Pos{1, 1}) {
			t.Error("blocked cell still listed as blank")
		}
	}
}

func TestAddBlockFallback(t *testing.T) {
	g, err := Generate(GenConfig{InitRule: RuleBlank, Width: 5, Height: 5})
	if err != nil {
		t.Fatal(err)
	}
	g.AddBlock(Pos{2, 2}, entropy.New(3))
	tok := g.Token(Pos{2, 2})
	switch tok {
	case TokenTree, TokenRock, TokenWater:
	default:
		t.Errorf("unexpected token %q", tok)
	}
}

func TestUnknownToken(t *testing.T) {
	_, err := NewGrid([][]string{{"x"}}, DefaultTokens())
	if !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("err = %v, want ErrUnknownToken", err)
	}
	_, err = NewGrid([][]string{{" ", " "}, {" "}}, nil)
	if !errors.Is(err, ErrRaggedGrid) {
		t.Fatalf("err = %v, want ErrRaggedGrid", err)
	}
}

func TestNoiseDeterministic(t *testing.T) {
	cfg := DefaultGenConfig()
	cfg.InitRule = RuleNoise
	cfg.Width, cfg.Height = 16, 12
	cfg.Seed = 99
	a, err := Generate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Fatal("same seed produced different maps")
	}
	w, h := a.Shape()
	if w != 16 || h != 12 {
		t.Errorf("shape = %dx%d", w, h)
	}
}

func TestSampleBlank(t *testing.T) {
	g, err := Generate(GenConfig{InitRule: RuleBox, Width: 5, Height: 5})
	if err != nil {
		t.Fatal(err)
	}
	exclude := map[Pos]bool{{1, 1}: true}
	ps, err := SampleBlank(g, exclude, 8, entropy.New(11))
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[Pos]bool)
	for _, p := range ps {
		if g.IsBlocked(p) || exclude[p] || seen[p] {
			t.Fatalf("bad sample %v in %v", p, ps)
		}
		seen[p] = true
	}
	if _, err := SampleBlank(g, exclude, 9, entropy.New(11)); !errors.Is(err, ErrNoRoom) {
		t.Fatalf("err = %v, want ErrNoRoom", err)
	}
}

func TestPosJSON(t *testing.T) {
	data, err := json.Marshal(Pos{3, -2})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[3,-2]" {
		t.Fatalf("marshal = %s", data)
	}
	var p Pos
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	if p != (Pos{3, -2}) {
		t.Fatalf("unmarshal = %v", p)
	}
}
