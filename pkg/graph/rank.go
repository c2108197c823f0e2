package graph

// RankTranslator converts a daemon-local process slot index into the rank
// that identifies the process across the whole job.
type RankTranslator interface {
	Rank(slot int) int
}

// IdentityRanks maps each slot to itself. It is used when no launcher
// provided a rank table.
type IdentityRanks struct{}

func (IdentityRanks) Rank(slot int) int {
	return slot
}

// TableRanks looks ranks up by slot. Slots outside the table map to the
// slot itself.
type TableRanks []int

func (t TableRanks) Rank(slot int) int {
	if slot < 0 || slot >= len(t) {
		return slot
	}
	return t[slot]
}
