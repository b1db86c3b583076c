// Base map generation. A map starts from one init rule and is then
// decorated with random blocks by the game editor.
package world

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Init rules understood by Generate.
const (
	RuleBlank   = "blank"
	RuleBox     = "box"
	RuleMapFile = "map_file"
	RuleNoise   = "noise"
)

// GenConfig holds base map parameters.
type GenConfig struct {
	InitRule string
	Width    int
	Height   int
	File     string // map_file only

	// noise only
	Seed      int64
	Threshold float64 // cells whose noise exceeds this become blocks (0.0–1.0)
	Frequency float64
	Octaves   int
}

// DefaultGenConfig returns a small open map.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		InitRule:  RuleBlank,
		Width:     8,
		Height:    8,
		Threshold: 0.72,
		Frequency: 0.15,
		Octaves:   3,
	}
}

// Generate builds the base grid for cfg.
func Generate(cfg GenConfig) (*Grid, error) {
	switch cfg.InitRule {
	case RuleBlank, "":
		if err := checkSize(cfg); err != nil {
			return nil, err
		}
		return NewGrid(fill(cfg.Width, cfg.Height, func(x, y int) string { return TokenSpace }), DefaultTokens())
	case RuleBox:
		if err := checkSize(cfg); err != nil {
			return nil, err
		}
		w, h := cfg.Width, cfg.Height
		return NewGrid(fill(w, h, func(x, y int) string {
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				return TokenTree
			}
			return TokenSpace
		}), DefaultTokens())
	case RuleMapFile:
		f, err := os.Open(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("open map file: %w", err)
		}
		defer f.Close()
		return ParseMap(f)
	case RuleNoise:
		if err := checkSize(cfg); err != nil {
			return nil, err
		}
		return noiseMap(cfg)
	default:
		return nil, fmt.Errorf("world: unknown init rule %q", cfg.InitRule)
	}
}

// ParseMap reads a map file: one row per line, one character per token.
// Empty lines and lines starting with '#' are skipped. Short rows are padded
// with open ground.
func ParseMap(r io.Reader) (*Grid, error) {
	var tokens [][]string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		row := make([]string, 0, len(line))
		for _, ch := range line {
			row = append(row, string(ch))
		}
		tokens = append(tokens, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read map: %w", err)
	}
	width := 0
	for _, row := range tokens {
		if len(row) > width {
			width = len(row)
		}
	}
	for i, row := range tokens {
		for len(row) < width {
			row = append(row, TokenSpace)
		}
		tokens[i] = row
	}
	return NewGrid(tokens, nil)
}

// noiseMap places rock where layered simplex noise is high and water where
// it is very low, leaving the middle band open.
func noiseMap(cfg GenConfig) (*Grid, error) {
	noise := opensimplex.NewNormalized(cfg.Seed)
	octaves := cfg.Octaves
	if octaves <= 0 {
		octaves = 3
	}
	freq := cfg.Frequency
	if freq <= 0 {
		freq = 0.15
	}
	low := 1 - cfg.Threshold

	return NewGrid(fill(cfg.Width, cfg.Height, func(x, y int) string {
		v := octaveNoise(noise, float64(x), float64(y), octaves, freq, 0.5)
		switch {
		case v > cfg.Threshold:
			return TokenRock
		case v < low:
			return TokenWater
		default:
			return TokenSpace
		}
	}), DefaultTokens())
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func fill(w, h int, tok func(x, y int) string) [][]string {
	rows := make([][]string, h)
	for y := range rows {
		rows[y] = make([]string, w)
		for x := range rows[y] {
			rows[y][x] = tok(x, y)
		}
	}
	return rows
}

func checkSize(cfg GenConfig) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("world: %s map needs a positive size, got %dx%d", cfg.InitRule, cfg.Width, cfg.Height)
	}
	return nil
}
