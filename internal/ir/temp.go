package ir

import "fmt"

// TempIdx identifies a Temp within a Context's temps vector.
type TempIdx int

const noTemp TempIdx = -1

// TempKind classifies how a Temp's lifetime and storage are managed.
type TempKind int

const (
	KindEbb    TempKind = iota // local to one extended basic block
	KindTb                     // local to one translation block
	KindGlobal                 // lives in guest CPU state memory
	KindFixed                  // permanently bound to a host register
	KindConst                  // deduped per (type, value)
)

func (k TempKind) String() string {
	switch k {
	case KindEbb:
		return "ebb"
	case KindTb:
		return "tb"
	case KindGlobal:
		return "global"
	case KindFixed:
		return "fixed"
	case KindConst:
		return "const"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TempVal is a Temp's current residence.
type TempVal int

const (
	Dead TempVal = iota
	Reg
	Mem
	ConstVal
)

func (v TempVal) String() string {
	switch v {
	case Dead:
		return "dead"
	case Reg:
		return "reg"
	case Mem:
		return "mem"
	case ConstVal:
		return "const"
	default:
		return fmt.Sprintf("val(%d)", int(v))
	}
}

// Temp is an IR value slot: a declared type, a lifecycle kind, and a
// mutable residence that the allocator rewrites as the value moves
// between register, memory, and constant.
type Temp struct {
	Idx  TempIdx
	Type Type
	Kind TempKind
	Name string

	ValType TempVal

	Reg int // valid when ValType == Reg

	Val uint64 // valid when ValType == ConstVal

	MemBase      TempIdx // base temp whose register holds the address
	MemOffset    int64
	MemCoherent  bool // memory copy is up to date
	MemAllocated bool // a frame slot has been assigned
}

func newTemp(idx TempIdx, ty Type, kind TempKind, name string) Temp {
	t := Temp{Idx: idx, Type: ty, Kind: kind, Name: name, MemBase: noTemp}
	switch kind {
	case KindGlobal:
		t.ValType = Mem
		t.MemCoherent = true
	case KindFixed:
		t.ValType = Reg
	case KindConst:
		t.ValType = ConstVal
	default:
		t.ValType = Dead
	}
	return t
}

func (t *Temp) IsDead() bool { return t.ValType == Dead }

func (t *Temp) setDead() {
	t.ValType = Dead
	t.MemCoherent = t.Kind == KindGlobal && t.MemCoherent
}
