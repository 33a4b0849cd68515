package program

import (
	"errors"
	"fmt"
	"sort"
)

// ID identifies a distribution program. Codes are case-sensitive.
type ID string

const (
	Agency ID = "AGENCY"
	BP     ID = "BP"
	MP     ID = "MP"
	PP     ID = "PP"
	SP     ID = "SP"
)

// ErrUnknownProgram is returned when a code is outside the known enumeration.
var ErrUnknownProgram = errors.New("unknown program")

// KnownIDs returns the program enumeration in code order.
func KnownIDs() []ID {
	return []ID{Agency, BP, MP, PP, SP}
}

// ParseID validates raw against the known enumeration.
func ParseID(raw string) (ID, error) {
	for _, id := range KnownIDs() {
		if string(id) == raw {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProgram, raw)
}

// Composition is the lbs-per-household allocation of a program.
// A nil channel is not part of the program, which differs from a zero.
type Composition struct {
	Produce   *float64 `json:"produce" yaml:"produce"`
	Purchased *float64 `json:"purchased" yaml:"purchased"`
	Donated   *float64 `json:"donated" yaml:"donated"`
}

// Units builds a Composition with all three channels present.
func Units(produce, purchased, donated float64) Composition {
	return Composition{Produce: &produce, Purchased: &purchased, Donated: &donated}
}

// Total sums the present channels.
func (c Composition) Total() float64 {
	total := 0.0
	for _, v := range []*float64{c.Produce, c.Purchased, c.Donated} {
		if v != nil {
			total += *v
		}
	}
	return total
}

// ChannelRatios are channel shares of a composition in [0, 1].
type ChannelRatios struct {
	Produce   float64 `json:"produce_ratio"`
	Purchased float64 `json:"purchased_ratio"`
	Donated   float64 `json:"donated_ratio"`
}

// Ratios normalizes c. A composition with no positive total yields all zeros.
func Ratios(c Composition) ChannelRatios {
	total := c.Total()
	if total == 0 {
		return ChannelRatios{}
	}
	return ChannelRatios{
		Produce:   valueOrZero(c.Produce) / total,
		Purchased: valueOrZero(c.Purchased) / total,
		Donated:   valueOrZero(c.Donated) / total,
	}
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Program is the static metadata of one program.
type Program struct {
	ID          ID
	Composition Composition
	Ratios      ChannelRatios
	// FixedPurchasePrice marks a program whose purchased price is set by
	// contract rather than inferred from history.
	FixedPurchasePrice bool
}

// Model is the immutable set of known programs.
type Model struct {
	programs map[ID]Program
}

// NewModel computes ratios for every composition. fixed lists programs
// whose purchased price is contractually fixed.
func NewModel(compositions map[ID]Composition, fixed ...ID) Model {
	fixedSet := make(map[ID]bool, len(fixed))
	for _, id := range fixed {
		fixedSet[id] = true
	}

	programs := make(map[ID]Program, len(compositions))
	for id, c := range compositions {
		programs[id] = Program{
			ID:                 id,
			Composition:        c,
			Ratios:             Ratios(c),
			FixedPurchasePrice: fixedSet[id],
		}
	}
	return Model{programs: programs}
}

// DefaultCompositions returns the standard household models.
func DefaultCompositions() map[ID]Composition {
	return map[ID]Composition{
		Agency: Units(16, 5, 2),
		BP:     Units(4, 4, 4),
		MP:     Units(16, 5, 2),
		PP:     Units(24, 0, 0),
		SP:     Units(16, 5, 2),
	}
}

// DefaultModel is the standard composition model with BP on a fixed
// purchased price.
func DefaultModel() Model {
	return NewModel(DefaultCompositions(), BP)
}

// Get returns the program for id.
func (m Model) Get(id ID) (Program, bool) {
	p, ok := m.programs[id]
	return p, ok
}

// RatiosFor returns the ratios for id, or zeros when id is not modelled.
func (m Model) RatiosFor(id ID) ChannelRatios {
	return m.programs[id].Ratios
}

// CompositionFor returns the composition for id; unknown programs have no
// channels.
func (m Model) CompositionFor(id ID) Composition {
	return m.programs[id].Composition
}

// IDs returns the modelled program IDs sorted by code.
func (m Model) IDs() []ID {
	ids := make([]ID, 0, len(m.programs))
	for id := range m.programs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Programs returns all programs sorted by code.
func (m Model) Programs() []Program {
	ids := m.IDs()
	out := make([]Program, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.programs[id])
	}
	return out
}
