package world

import (
	"errors"
	"fmt"

	"github.com/talgya/socialgrid/internal/entropy"
)

// ErrNoRoom is returned when fewer blank cells remain than were requested.
var ErrNoRoom = errors.New("world: not enough blank cells")

// SampleBlank draws n distinct blank cells not present in exclude.
// Candidates are taken in row-major order before sampling, so the result
// depends only on the grid and the random stream.
func SampleBlank(g *Grid, exclude map[Pos]bool, n int, rng *entropy.Source) ([]Pos, error) {
	if n <= 0 {
		return nil, nil
	}
	var candidates []Pos
	for _, p := range g.BlankPositions() {
		if !exclude[p] {
			candidates = append(candidates, p)
		}
	}
	if n > len(candidates) {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrNoRoom, n, len(candidates))
	}
	idx := rng.Sample(len(candidates), n)
	out := make([]Pos, n)
	for i, j := range idx {
		out[i] = candidates[j]
	}
	return out, nil
}
