package ir

// MaxOpArgs bounds the args array of every Op. The richest opcode in
// the table, Call, uses 9 slots.
const MaxOpArgs = 10

// OpIdx identifies an Op within a Context's ops vector.
type OpIdx int

// Life is a packed per-argument-slot bitmap: bit 2*i is "dead after
// this op" for slot i, bit 2*i+1 is "sync before/after this op".
type Life uint32

func (l Life) IsDead(slot int) bool { return l&(1<<uint(2*slot)) != 0 }
func (l Life) IsSync(slot int) bool { return l&(1<<uint(2*slot+1)) != 0 }

func (l Life) WithDead(slot int) Life { return l | 1<<uint(2*slot) }
func (l Life) WithSync(slot int) Life { return l | 1<<uint(2*slot+1) }

// Op is a single IR instruction: an opcode, its polymorphic operating
// type, a flat argument array partitioned [oargs | iargs | cargs] per
// the opcode's OpDef, per-argument liveness, and register hints for
// alias reuse.
type Op struct {
	Idx    OpIdx
	Opcode Opcode
	OpType Type

	Args  [MaxOpArgs]TempIdx
	Nargs int

	Life Life

	// OutputPref[k] is a RegSet hint for output k, used by the
	// allocator to prefer registers that let an alias reuse avoid a
	// copy.
	OutputPref [MaxOpArgs]RegSet
}

func (op *Op) Def() OpDef { return op.Opcode.Def() }

func (op *Op) OArgs() []TempIdx {
	d := op.Def()
	return op.Args[:d.NbOArgs]
}

func (op *Op) IArgs() []TempIdx {
	d := op.Def()
	return op.Args[d.NbOArgs : d.NbOArgs+d.NbIArgs]
}

// CArgs returns the constant-argument tail, reinterpreted by callers
// as raw uint32 payloads (labels, condition codes, shift counts,
// immediates).
func (op *Op) CArgs() []TempIdx {
	d := op.Def()
	return op.Args[d.NbOArgs+d.NbIArgs : d.NbOArgs+d.NbIArgs+d.NbCArgs]
}

func (op *Op) OArg(k int) TempIdx { return op.Args[k] }
func (op *Op) IArg(k int) TempIdx { d := op.Def(); return op.Args[d.NbOArgs+k] }
func (op *Op) CArg(k int) uint32  { d := op.Def(); return uint32(op.Args[d.NbOArgs+d.NbIArgs+k]) }

func (op *Op) SetIArg(k int, t TempIdx) { d := op.Def(); op.Args[d.NbOArgs+k] = t }
func (op *Op) SetOArg(k int, t TempIdx) { op.Args[k] = t }
func (op *Op) SetCArg(k int, v uint32)  { d := op.Def(); op.Args[d.NbOArgs+d.NbIArgs+k] = TempIdx(v) }
