package ladder

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed levels.yaml
var defaultLevelsYAML []byte

// TestCase is one row of a level's truth table.
type TestCase struct {
	Inputs   []bool `yaml:"inputs" json:"inputs"`
	Expected bool   `yaml:"expected" json:"expected"`
}

// Level is a statically defined puzzle.
type Level struct {
	ID              int        `yaml:"id"`
	Title           string     `yaml:"title"`
	Description     string     `yaml:"description"`
	Objective       string     `yaml:"objective"`
	TestCases       []TestCase `yaml:"test_cases"`
	Hints           []string   `yaml:"hints"`
	AvailableBlocks []Kind     `yaml:"available_blocks"`
	RequiredBlocks  int        `yaml:"required_blocks"`
}

// Offers reports whether the level's palette contains k.
func (l Level) Offers(k Kind) bool {
	return slices.Contains(l.AvailableBlocks, k)
}

// InputWidth is the widest input vector among the level's test cases.
func (l Level) InputWidth() int {
	width := 0
	for _, tc := range l.TestCases {
		width = max(width, len(tc.Inputs))
	}
	return width
}

// LevelView is the part of a level shown to players. Test cases stay hidden.
type LevelView struct {
	ID              int      `json:"id"`
	Number          int      `json:"number"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Objective       string   `json:"objective"`
	Hints           []string `json:"hints"`
	AvailableBlocks []Block  `json:"available_blocks"`
	RequiredBlocks  int      `json:"required_blocks"`
}

// View returns the public projection of the level at index i.
func (l Level) View(i int) LevelView {
	blocks := make([]Block, 0, len(l.AvailableBlocks))
	for _, k := range l.AvailableBlocks {
		if b, ok := Lookup(k); ok {
			blocks = append(blocks, b)
		}
	}
	return LevelView{
		ID:              l.ID,
		Number:          i + 1,
		Title:           l.Title,
		Description:     l.Description,
		Objective:       l.Objective,
		Hints:           append([]string(nil), l.Hints...),
		AvailableBlocks: blocks,
		RequiredBlocks:  l.RequiredBlocks,
	}
}

// ParseLevels decodes and validates an ordered level list.
func ParseLevels(data []byte) ([]Level, error) {
	var levels []Level
	if err := yaml.Unmarshal(data, &levels); err != nil {
		return nil, fmt.Errorf("decode levels: %w", err)
	}
	if len(levels) == 0 {
		return nil, errors.New("levels: none defined")
	}
	for i, l := range levels {
		if err := l.validate(); err != nil {
			return nil, fmt.Errorf("level %d (%q): %w", i+1, l.Title, err)
		}
	}
	return levels, nil
}

// DefaultLevels returns the embedded level list.
func DefaultLevels() ([]Level, error) {
	return ParseLevels(defaultLevelsYAML)
}

func (l Level) validate() error {
	if l.RequiredBlocks <= 0 {
		return errors.New("required_blocks must be positive")
	}
	if len(l.TestCases) == 0 {
		return errors.New("no test cases")
	}
	for _, k := range l.AvailableBlocks {
		if _, ok := Lookup(k); !ok {
			return fmt.Errorf("unknown block kind %q", k)
		}
	}
	if !l.Offers(Coil) {
		return errors.New("palette has no COIL")
	}
	contacts := l.RequiredBlocks - 1
	for i, tc := range l.TestCases {
		if len(tc.Inputs) < contacts {
			return fmt.Errorf("test case %d has %d inputs, rung has %d contacts", i, len(tc.Inputs), contacts)
		}
	}
	return nil
}
