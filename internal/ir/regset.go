package ir

import "math/bits"

// RegSet is a bitmap of up to 64 host registers.
type RegSet uint64

func RegMask(reg int) RegSet {
	return RegSet(1) << uint(reg)
}

func RegSetOf(regs ...int) RegSet {
	var s RegSet
	for _, r := range regs {
		s |= RegMask(r)
	}
	return s
}

func (s RegSet) Union(o RegSet) RegSet     { return s | o }
func (s RegSet) Intersect(o RegSet) RegSet { return s & o }
func (s RegSet) Subtract(o RegSet) RegSet  { return s &^ o }
func (s RegSet) Has(reg int) bool          { return s&RegMask(reg) != 0 }
func (s RegSet) Empty() bool               { return s == 0 }
func (s RegSet) Count() int                { return bits.OnesCount64(uint64(s)) }

// First returns the lowest-numbered set register and true, or (0,
// false) if the set is empty.
func (s RegSet) First() (int, bool) {
	if s == 0 {
		return 0, false
	}
	return bits.TrailingZeros64(uint64(s)), true
}

func (s RegSet) With(reg int) RegSet    { return s | RegMask(reg) }
func (s RegSet) Without(reg int) RegSet { return s &^ RegMask(reg) }
