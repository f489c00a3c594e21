// Package serialize implements the .tcgir binary IR format: a
// per-TB header, an interned string table, and flat temp/op sections,
// all little-endian. A file may concatenate multiple TBs; the reader
// loops on the header magic and treats a clean EOF as termination.
package serialize

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/tcg-go/tcg/internal/ir"
)

var magic = [4]byte{'T', 'C', 'I', 'R'}

const version = 1

const noIdx32 = 0xffffffff
const noReg8 = 0xff

// stringTable interns names for a single TB's temps, so a name shared
// by several temps (rare, but the format allows it) is written once.
type stringTable struct {
	strings []string
	index   map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{index: make(map[string]uint32)}
}

func (t *stringTable) intern(s string) uint32 {
	if idx, ok := t.index[s]; ok {
		return idx
	}
	idx := uint32(len(t.strings))
	t.strings = append(t.strings, s)
	t.index[s] = idx
	return idx
}

func (t *stringTable) writeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(t.strings))); err != nil {
		return err
	}
	for _, s := range t.strings {
		if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(s)); err != nil {
			return err
		}
	}
	return nil
}

func readStringTable(r io.Reader) ([]string, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	table := make([]string, count)
	for i := range table {
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		table[i] = string(buf)
	}
	return table, nil
}

// Serialize writes a single TB's Context to w in .tcgir format.
func Serialize(ctx *ir.Context, w io.Writer) error {
	if _, err := w.Write(magic[:]); err != nil {
		return errors.Wrap(err, "serialize: magic")
	}
	hdr := struct {
		Version   uint16
		Flags     uint16
		NbGlobals uint32
		NbLabels  uint32
		TbCount   uint32
	}{version, 0, uint32(ctx.NbGlobals()), uint32(len(ctx.Labels())), 1}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return errors.Wrap(err, "serialize: header")
	}

	temps := ctx.Temps()
	strtab := newStringTable()
	nameIdx := make([]uint32, len(temps))
	for i, t := range temps {
		if t.Name != "" {
			nameIdx[i] = strtab.intern(t.Name)
		} else {
			nameIdx[i] = noIdx32
		}
	}
	if err := strtab.writeTo(w); err != nil {
		return errors.Wrap(err, "serialize: string table")
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(temps))); err != nil {
		return errors.Wrap(err, "serialize: temp count")
	}
	for i, t := range temps {
		reg := byte(noReg8)
		if t.ValType == ir.Reg {
			reg = byte(t.Reg)
		}
		memBase := uint32(noIdx32)
		if t.MemBase >= 0 {
			memBase = uint32(t.MemBase)
		}
		rec := struct {
			Kind      uint8
			Ty        uint8
			BaseType  uint8
			Reg       uint8
			Val       uint64
			MemBase   uint32
			MemOffset int64
			NameIdx   uint32
		}{
			Kind: uint8(t.Kind), Ty: uint8(t.Type), BaseType: uint8(t.Type),
			Reg: reg, Val: t.Val, MemBase: memBase, MemOffset: t.MemOffset,
			NameIdx: nameIdx[i],
		}
		if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
			return errors.Wrap(err, "serialize: temp record")
		}
	}

	ops := ctx.Ops()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ops))); err != nil {
		return errors.Wrap(err, "serialize: op count")
	}
	for i := range ops {
		op := &ops[i]
		d := op.Def()
		nargs := d.NbArgs()
		head := struct {
			Opc    uint8
			Ty     uint8
			Param1 uint8
			Param2 uint8
			Nargs  uint8
			Pad    [3]uint8
		}{uint8(op.Opcode), uint8(op.OpType), 0, 0, uint8(nargs), [3]uint8{}}
		if err := binary.Write(w, binary.LittleEndian, head); err != nil {
			return errors.Wrap(err, "serialize: op header")
		}
		for k := 0; k < nargs; k++ {
			if err := binary.Write(w, binary.LittleEndian, uint32(op.Args[k])); err != nil {
				return errors.Wrap(err, "serialize: op arg")
			}
		}
	}
	return nil
}

// Deserialize reads every concatenated TB in r, returning one Context
// per TB. A clean EOF where the next header's magic would start ends
// the stream normally; any other error is returned wrapped.
func Deserialize(r io.Reader) ([]*ir.Context, error) {
	var contexts []*ir.Context
	for {
		var gotMagic [4]byte
		n, err := io.ReadFull(r, gotMagic[:])
		if err == io.EOF && n == 0 {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "serialize: read magic")
		}
		if gotMagic != magic {
			return nil, errors.New("serialize: bad magic")
		}

		var hdr struct {
			Version   uint16
			Flags     uint16
			NbGlobals uint32
			NbLabels  uint32
			TbCount   uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
			return nil, errors.Wrap(err, "serialize: read header")
		}
		if hdr.Version != version {
			return nil, errors.Errorf("serialize: unsupported version %d", hdr.Version)
		}

		for i := uint32(0); i < hdr.TbCount; i++ {
			ctx, err := deserializeOneTb(r, hdr.NbGlobals)
			if err != nil {
				return nil, err
			}
			contexts = append(contexts, ctx)
		}
	}
	return contexts, nil
}

func deserializeOneTb(r io.Reader, nbGlobals uint32) (*ir.Context, error) {
	strtab, err := readStringTable(r)
	if err != nil {
		return nil, errors.Wrap(err, "serialize: string table")
	}

	var tempCount uint32
	if err := binary.Read(r, binary.LittleEndian, &tempCount); err != nil {
		return nil, errors.Wrap(err, "serialize: temp count")
	}
	temps := make([]ir.Temp, tempCount)
	for i := range temps {
		var rec struct {
			Kind      uint8
			Ty        uint8
			BaseType  uint8
			Reg       uint8
			Val       uint64
			MemBase   uint32
			MemOffset int64
			NameIdx   uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, errors.Wrap(err, "serialize: temp record")
		}
		kind := ir.TempKind(rec.Kind)
		if kind < ir.KindEbb || kind > ir.KindConst {
			return nil, errors.Errorf("serialize: invalid temp kind %d", rec.Kind)
		}
		t := ir.Temp{
			Idx:  ir.TempIdx(i),
			Type: ir.Type(rec.Ty),
			Kind: kind,
		}
		switch kind {
		case ir.KindConst:
			t.ValType = ir.ConstVal
		case ir.KindFixed:
			t.ValType = ir.Reg
		case ir.KindGlobal:
			t.ValType = ir.Mem
			t.MemCoherent = true
			t.MemAllocated = true
		default:
			t.ValType = ir.Dead
		}
		if rec.Reg != noReg8 {
			t.Reg = int(rec.Reg)
		}
		t.Val = rec.Val
		if rec.MemBase == noIdx32 {
			t.MemBase = -1
		} else {
			t.MemBase = ir.TempIdx(rec.MemBase)
		}
		t.MemOffset = rec.MemOffset
		if rec.NameIdx != noIdx32 {
			if int(rec.NameIdx) >= len(strtab) {
				return nil, errors.New("serialize: name index out of range")
			}
			t.Name = strtab[rec.NameIdx]
		}
		temps[i] = t
	}

	var opCount uint32
	if err := binary.Read(r, binary.LittleEndian, &opCount); err != nil {
		return nil, errors.Wrap(err, "serialize: op count")
	}
	ops := make([]ir.Op, opCount)
	for i := range ops {
		var head struct {
			Opc    uint8
			Ty     uint8
			Param1 uint8
			Param2 uint8
			Nargs  uint8
			Pad    [3]uint8
		}
		if err := binary.Read(r, binary.LittleEndian, &head); err != nil {
			return nil, errors.Wrap(err, "serialize: op header")
		}
		if int(head.Opc) >= ir.OpcodeCount {
			return nil, errors.Errorf("serialize: invalid opcode %d", head.Opc)
		}
		op := ir.Op{Idx: ir.OpIdx(i), Opcode: ir.Opcode(head.Opc), OpType: ir.Type(head.Ty), Nargs: int(head.Nargs)}
		for k := 0; k < int(head.Nargs); k++ {
			var v uint32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, errors.Wrap(err, "serialize: op arg")
			}
			op.Args[k] = ir.TempIdx(v)
		}
		ops[i] = op
	}

	labels := rebuildLabels(ops)
	return ir.ContextFromRawParts(temps, ops, labels, int(nbGlobals)), nil
}

// rebuildLabels recovers label placeholders from SetLabel/Br/BrCond op
// arguments: the binary format doesn't carry Label records directly,
// since a label is fully determined by which ops reference its index.
func rebuildLabels(ops []ir.Op) []ir.Label {
	var labels []ir.Label
	ensure := func(id ir.LabelIdx) {
		for ir.LabelIdx(len(labels)) <= id {
			labels = append(labels, ir.NewLabel(ir.LabelIdx(len(labels))))
		}
	}
	for i := range ops {
		op := &ops[i]
		switch op.Opcode {
		case ir.SetLabel:
			ensure(ir.LabelIdx(op.Args[0]))
		case ir.Br:
			d := op.Def()
			ensure(ir.LabelIdx(op.Args[d.NbOArgs+d.NbIArgs+d.NbCArgs-1]))
		case ir.BrCond:
			d := op.Def()
			ensure(ir.LabelIdx(op.Args[d.NbOArgs+d.NbIArgs+d.NbCArgs-1]))
		}
	}
	return labels
}

// ReadAll is a convenience wrapper reading every TB from an in-memory
// buffer, for callers (the CLI's dump subcommand) operating on a
// whole file already loaded into memory.
func ReadAll(data []byte) ([]*ir.Context, error) {
	return Deserialize(bytes.NewReader(data))
}
