package ir

// OpFlags is a bitset of per-opcode properties consulted by the
// optimizer, the allocator, and the emitter.
type OpFlags uint16

const (
	FlagNone OpFlags = 0
	// BB_EXIT marks an op that can exit the translation block.
	BBExit OpFlags = 1 << iota
	// BB_END marks an op that ends a basic block.
	BBEnd
	// CALL_CLOBBER marks an op that clobbers the full call-clobbered
	// register set.
	CallClobber
	// SIDE_EFFECTS marks an op the optimizer must not fold away.
	SideEffects
	// INT marks an op polymorphic over I32/I64.
	Int
	// NOT_PRESENT marks an op outside the backend's generic per-op
	// emission. Nothing in this module reads the flag, and Neg, Not
	// and Mb carry it yet are emitted through TcgOutOp.
	NotPresent
	// VECTOR marks a vector op (unreachable: vector IR lowering is
	// out of scope).
	Vector
	// COND_BRANCH marks a conditional-branch op.
	CondBranch
	// CARRY_OUT marks an op that produces a carry/borrow flag output.
	CarryOut
	// CARRY_IN marks an op that consumes a carry/borrow flag input.
	CarryIn
)

func (f OpFlags) Has(o OpFlags) bool { return f&o == o }

// OpDef describes one opcode's printable name, argument-count shape,
// and flags. Indexed by Opcode via the OpcodeDefs table.
type OpDef struct {
	Name     string
	NbOArgs  int
	NbIArgs  int
	NbCArgs  int
	Flags    OpFlags
}

func (d OpDef) NbArgs() int { return d.NbOArgs + d.NbIArgs + d.NbCArgs }

// Opcode is the IR instruction selector. The enum order and every
// argument count below follows the canonical opcode table; entries
// nothing in this core emits (vector forms, the carry-chain variants,
// the two-word division/multiplication helpers) are retained for table
// completeness.
type Opcode int

const (
	Mov Opcode = iota
	SetCond
	NegSetCond
	MovCond
	Add
	Sub
	Mul
	Neg
	DivS
	DivU
	RemS
	RemU
	DivS2
	DivU2
	MulSH
	MulUH
	MulS2
	MulU2
	AddCO
	AddCI
	AddCIO
	AddC1O
	SubBO
	SubBI
	SubBIO
	SubB1O
	And
	Or
	Xor
	Not
	AndC
	OrC
	Eqv
	Nand
	Nor
	Shl
	Shr
	Sar
	RotL
	RotR
	Extract
	SExtract
	Deposit
	Extract2
	Bswap16
	Bswap32
	Bswap64
	Clz
	Ctz
	CtPop
	BrCond2I32
	SetCond2I32
	ExtI32I64
	ExtUI32I64
	ExtrlI64I32
	ExtrhI64I32
	Ld8U
	Ld8S
	Ld16U
	Ld16S
	Ld32U
	Ld32S
	Ld
	St8
	St16
	St32
	St
	QemuLd
	QemuSt
	QemuLd2
	QemuSt2
	Br
	BrCond
	SetLabel
	GotoTb
	ExitTb
	GotoPtr
	Mb
	Call
	PluginCb
	PluginMemCb
	Nop
	Discard
	InsnStart
	MovVec
	DupVec
	Dup2Vec
	LdVec
	StVec
	DupmVec
	AddVec
	SubVec
	MulVec
	NegVec
	AbsVec
	SsaddVec
	UsaddVec
	SssubVec
	UssubVec
	SminVec
	UminVec
	SmaxVec
	UmaxVec
	AndVec
	OrVec
	XorVec
	AndcVec
	OrcVec
	NandVec
	NorVec
	EqvVec
	NotVec
	ShliVec
	ShriVec
	SariVec
	RotliVec
	ShlsVec
	ShrsVec
	SarsVec
	RotlsVec
	ShlvVec
	ShrvVec
	SarvVec
	RotlvVec
	RotrvVec
	CmpVec
	BitselVec
	CmpselVec
	opcodeCount
)

// OpcodeCount bounds valid Opcode values, for callers (the .tcgir
// loader) that must reject an out-of-range byte before indexing
// opcodeDefs with it.
const OpcodeCount = int(opcodeCount)

var opcodeDefs = [opcodeCount]OpDef{
	Mov:          {"mov", 1, 1, 0, Int | NotPresent},
	SetCond:      {"setcond", 1, 2, 1, Int},
	NegSetCond:   {"negsetcond", 1, 2, 1, Int},
	MovCond:      {"movcond", 1, 4, 1, Int},
	Add:          {"add", 1, 2, 0, Int},
	Sub:          {"sub", 1, 2, 0, Int},
	Mul:          {"mul", 1, 2, 0, Int},
	Neg:          {"neg", 1, 1, 0, Int | NotPresent},
	DivS:         {"div", 1, 2, 0, Int},
	DivU:         {"divu", 1, 2, 0, Int},
	RemS:         {"rem", 1, 2, 0, Int},
	RemU:         {"remu", 1, 2, 0, Int},
	DivS2:        {"div2", 2, 3, 0, Int},
	DivU2:        {"divu2", 2, 3, 0, Int},
	MulSH:        {"mulsh", 1, 2, 0, Int},
	MulUH:        {"muluh", 1, 2, 0, Int},
	MulS2:        {"muls2", 2, 2, 0, Int},
	MulU2:        {"mulu2", 2, 2, 0, Int},
	AddCO:        {"add_co", 1, 2, 0, Int | CarryOut},
	AddCI:        {"add_ci", 1, 2, 0, Int | CarryIn},
	AddCIO:       {"add_cio", 1, 2, 0, Int | CarryIn | CarryOut},
	AddC1O:       {"add_c1o", 1, 2, 0, Int | CarryOut},
	SubBO:        {"sub_bo", 1, 2, 0, Int | CarryOut},
	SubBI:        {"sub_bi", 1, 2, 0, Int | CarryIn},
	SubBIO:       {"sub_bio", 1, 2, 0, Int | CarryIn | CarryOut},
	SubB1O:       {"sub_b1o", 1, 2, 0, Int | CarryOut},
	And:          {"and", 1, 2, 0, Int},
	Or:           {"or", 1, 2, 0, Int},
	Xor:          {"xor", 1, 2, 0, Int},
	Not:          {"not", 1, 1, 0, Int | NotPresent},
	AndC:         {"andc", 1, 2, 0, Int},
	OrC:          {"orc", 1, 2, 0, Int},
	Eqv:          {"eqv", 1, 2, 0, Int},
	Nand:         {"nand", 1, 2, 0, Int},
	Nor:          {"nor", 1, 2, 0, Int},
	Shl:          {"shl", 1, 2, 0, Int},
	Shr:          {"shr", 1, 2, 0, Int},
	Sar:          {"sar", 1, 2, 0, Int},
	RotL:         {"rotl", 1, 2, 0, Int},
	RotR:         {"rotr", 1, 2, 0, Int},
	Extract:      {"extract", 1, 1, 2, Int},
	SExtract:     {"sextract", 1, 1, 2, Int},
	Deposit:      {"deposit", 1, 2, 2, Int},
	Extract2:     {"extract2", 1, 2, 1, Int},
	Bswap16:      {"bswap16", 1, 1, 1, Int},
	Bswap32:      {"bswap32", 1, 1, 1, Int},
	Bswap64:      {"bswap64", 1, 1, 0, Int},
	Clz:          {"clz", 1, 2, 0, Int},
	Ctz:          {"ctz", 1, 2, 0, Int},
	CtPop:        {"ctpop", 1, 1, 0, Int},
	BrCond2I32:   {"brcond2_i32", 0, 4, 2, BBEnd | CondBranch | NotPresent},
	SetCond2I32:  {"setcond2_i32", 1, 4, 1, NotPresent},
	ExtI32I64:    {"ext_i32_i64", 1, 1, 0, 0},
	ExtUI32I64:   {"extu_i32_i64", 1, 1, 0, 0},
	ExtrlI64I32:  {"extrl_i64_i32", 1, 1, 0, 0},
	ExtrhI64I32:  {"extrh_i64_i32", 1, 1, 0, 0},
	Ld8U:         {"ld8u", 1, 1, 1, 0},
	Ld8S:         {"ld8s", 1, 1, 1, 0},
	Ld16U:        {"ld16u", 1, 1, 1, 0},
	Ld16S:        {"ld16s", 1, 1, 1, 0},
	Ld32U:        {"ld32u", 1, 1, 1, 0},
	Ld32S:        {"ld32s", 1, 1, 1, 0},
	Ld:           {"ld", 1, 1, 1, Int},
	St8:          {"st8", 0, 2, 1, 0},
	St16:         {"st16", 0, 2, 1, 0},
	St32:         {"st32", 0, 2, 1, 0},
	St:           {"st", 0, 2, 1, Int},
	QemuLd:       {"qemu_ld", 1, 1, 1, SideEffects},
	QemuSt:       {"qemu_st", 0, 2, 1, SideEffects},
	QemuLd2:      {"qemu_ld2", 2, 1, 1, SideEffects},
	QemuSt2:      {"qemu_st2", 0, 3, 1, SideEffects},
	Br:           {"br", 0, 0, 1, BBEnd},
	BrCond:       {"brcond", 0, 2, 2, BBEnd | CondBranch | Int},
	SetLabel:     {"set_label", 0, 0, 1, BBEnd | NotPresent},
	GotoTb:       {"goto_tb", 0, 0, 1, BBExit | BBEnd | NotPresent},
	ExitTb:       {"exit_tb", 0, 0, 1, BBExit | BBEnd | NotPresent},
	GotoPtr:      {"goto_ptr", 0, 1, 0, BBExit | BBEnd},
	Mb:           {"mb", 0, 0, 1, NotPresent},
	Call:         {"call", 1, 6, 2, CallClobber | SideEffects | NotPresent},
	PluginCb:     {"plugin_cb", 0, 0, 1, NotPresent},
	PluginMemCb:  {"plugin_mem_cb", 0, 1, 1, NotPresent},
	Nop:          {"nop", 0, 0, 0, 0},
	Discard:      {"discard", 1, 0, 0, NotPresent},
	InsnStart:    {"insn_start", 0, 0, 2, NotPresent},
	MovVec:       {"mov_vec", 1, 1, 0, Vector | NotPresent},
	DupVec:       {"dup_vec", 1, 1, 0, Vector},
	Dup2Vec:      {"dup2_vec", 1, 2, 0, Vector},
	LdVec:        {"ld_vec", 1, 1, 1, Vector},
	StVec:        {"st_vec", 0, 2, 1, Vector},
	DupmVec:      {"dupm_vec", 1, 1, 1, Vector},
	AddVec:       {"add_vec", 1, 2, 0, Vector},
	SubVec:       {"sub_vec", 1, 2, 0, Vector},
	MulVec:       {"mul_vec", 1, 2, 0, Vector},
	NegVec:       {"neg_vec", 1, 1, 0, Vector},
	AbsVec:       {"abs_vec", 1, 1, 0, Vector},
	SsaddVec:     {"ssadd_vec", 1, 2, 0, Vector},
	UsaddVec:     {"usadd_vec", 1, 2, 0, Vector},
	SssubVec:     {"sssub_vec", 1, 2, 0, Vector},
	UssubVec:     {"ussub_vec", 1, 2, 0, Vector},
	SminVec:      {"smin_vec", 1, 2, 0, Vector},
	UminVec:      {"umin_vec", 1, 2, 0, Vector},
	SmaxVec:      {"smax_vec", 1, 2, 0, Vector},
	UmaxVec:      {"umax_vec", 1, 2, 0, Vector},
	AndVec:       {"and_vec", 1, 2, 0, Vector},
	OrVec:        {"or_vec", 1, 2, 0, Vector},
	XorVec:       {"xor_vec", 1, 2, 0, Vector},
	AndcVec:      {"andc_vec", 1, 2, 0, Vector},
	OrcVec:       {"orc_vec", 1, 2, 0, Vector},
	NandVec:      {"nand_vec", 1, 2, 0, Vector},
	NorVec:       {"nor_vec", 1, 2, 0, Vector},
	EqvVec:       {"eqv_vec", 1, 2, 0, Vector},
	NotVec:       {"not_vec", 1, 1, 0, Vector},
	ShliVec:      {"shli_vec", 1, 1, 1, Vector},
	ShriVec:      {"shri_vec", 1, 1, 1, Vector},
	SariVec:      {"sari_vec", 1, 1, 1, Vector},
	RotliVec:     {"rotli_vec", 1, 1, 1, Vector},
	ShlsVec:      {"shls_vec", 1, 2, 0, Vector},
	ShrsVec:      {"shrs_vec", 1, 2, 0, Vector},
	SarsVec:      {"sars_vec", 1, 2, 0, Vector},
	RotlsVec:     {"rotls_vec", 1, 2, 0, Vector},
	ShlvVec:      {"shlv_vec", 1, 2, 0, Vector},
	ShrvVec:      {"shrv_vec", 1, 2, 0, Vector},
	SarvVec:      {"sarv_vec", 1, 2, 0, Vector},
	RotlvVec:     {"rotlv_vec", 1, 2, 0, Vector},
	RotrvVec:     {"rotrv_vec", 1, 2, 0, Vector},
	CmpVec:       {"cmp_vec", 1, 2, 1, Vector},
	BitselVec:    {"bitsel_vec", 1, 3, 0, Vector},
	CmpselVec:    {"cmpsel_vec", 1, 4, 1, Vector},
}

func (op Opcode) Def() OpDef { return opcodeDefs[op] }

func (op Opcode) String() string { return opcodeDefs[op].Name }

// FixedType returns the operating type an opcode is hard-wired to,
// for the handful of ops whose type isn't taken from OpType (the
// 32<->64 conversions and the deprecated I32-pair forms).
func (op Opcode) FixedType() (Type, bool) {
	switch op {
	case ExtI32I64, ExtUI32I64:
		return I64, true
	case ExtrlI64I32, ExtrhI64I32, BrCond2I32, SetCond2I32:
		return I32, true
	default:
		return 0, false
	}
}

func (op Opcode) IsIntPolymorphic() bool { return op.Def().Flags.Has(Int) }
func (op Opcode) IsVector() bool         { return op.Def().Flags.Has(Vector) }
