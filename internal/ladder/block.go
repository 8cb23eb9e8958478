// Package ladder evaluates single-rung series ladder circuits and runs the
// PLC puzzle game built on them.
package ladder

import "fmt"

// Kind identifies a logic block type.
type Kind string

const (
	NormallyOpen   Kind = "NO"
	NormallyClosed Kind = "NC"
	Coil           Kind = "COIL"
	TimerOnDelay   Kind = "TIMER"
)

// Block is an immutable catalog entry.
type Block struct {
	Kind        Kind   `json:"kind"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

var catalog = []Block{
	{Kind: NormallyOpen, Label: "NO", Description: "Normally Open Contact - Passes signal when input is ON"},
	{Kind: NormallyClosed, Label: "NC", Description: "Normally Closed Contact - Passes signal when input is OFF"},
	{Kind: Coil, Label: "COIL", Description: "Output Coil - Activates when logic is complete"},
	{Kind: TimerOnDelay, Label: "TON", Description: "Timer On-Delay - Delays signal by set time"},
}

// Catalog returns every block type in palette order.
func Catalog() []Block {
	return append([]Block(nil), catalog...)
}

// Lookup returns the catalog entry for k.
func Lookup(k Kind) (Block, bool) {
	for _, b := range catalog {
		if b.Kind == k {
			return b, true
		}
	}
	return Block{}, false
}

// ParseKind accepts a kind or its palette label, e.g. "NO" or "TON".
func ParseKind(s string) (Kind, error) {
	for _, b := range catalog {
		if string(b.Kind) == s || b.Label == s {
			return b.Kind, nil
		}
	}
	return "", fmt.Errorf("unknown block kind %q", s)
}

// IsContact reports whether blocks of this kind read an input.
func (k Kind) IsContact() bool {
	return k == NormallyOpen || k == NormallyClosed
}

// PlacedBlock is a block bound to a rung slot.
type PlacedBlock struct {
	ID       string `json:"id"`
	Block    Block  `json:"block"`
	Position int    `json:"position"`
}
