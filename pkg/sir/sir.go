// Package sir implements the scheduled intermediate representation
// (spec component I): a typed CFG of basic blocks with φ-like
// parameters, nine instruction forms, and four terminator forms, over a
// fixed Region-qualified memory address space.
package sir

import (
	"fmt"
	"math/big"

	"github.com/oisee/hdlsim/pkg/addr"
	"github.com/oisee/hdlsim/pkg/hdlir"
)

// RegisterId names an SSA register within one Unit.
type RegisterId int

// RegKind distinguishes four-state-capable registers from two-state
// ones, per spec.md §3 "Register".
type RegKind uint8

const (
	RegLogic RegKind = iota // Logic<W>: four-state
	RegBit                  // Bit<W,signed>: two-state
)

// RegType is a register's static type.
type RegType struct {
	Kind   RegKind
	Width  int
	Signed bool
}

func (t RegType) String() string {
	if t.Kind == RegLogic {
		return fmt.Sprintf("Logic<%d>", t.Width)
	}
	sign := "u"
	if t.Signed {
		sign = "s"
	}
	return fmt.Sprintf("Bit<%d,%s>", t.Width, sign)
}

// Offset is a bit offset into a variable: either a compile-time
// constant or a register holding a dynamically computed offset.
type Offset struct {
	Dynamic bool
	Static  int
	Reg     RegisterId
}

func StaticOffset(bit int) Offset       { return Offset{Static: bit} }
func DynamicOffset(r RegisterId) Offset { return Offset{Dynamic: true, Reg: r} }

// TriggerId densely numbers a canonical clock/reset net for edge
// detection, assigned during flattening (spec.md §4.D step 8).
type TriggerId int

// InstrOp tags which Instruction fields are meaningful.
type InstrOp uint8

const (
	OpImm InstrOp = iota
	OpUnary
	OpBinary
	OpConcat
	OpSlice
	OpSelect
	OpLoad
	OpStore
	OpCommit
)

// ConcatOperand is one element of an OpConcat instruction, MSB-first.
type ConcatOperand struct {
	Reg   RegisterId
	Width int
}

// Instruction is one linear SIR instruction.
type Instruction struct {
	Op InstrOp

	Dst RegisterId // OpImm, OpUnary, OpBinary, OpConcat, OpSlice, OpSelect, OpLoad

	// OpImm
	ImmVal  *big.Int
	ImmMask *big.Int // nil unless the destination is four-state and bits are X

	// OpUnary
	UnaryOp    hdlir.UnaryOp
	CastWidth  int
	CastSigned bool

	// OpUnary / OpBinary / OpSelect (Src1=cond, Src2=then, Src3=else)
	Src1, Src2, Src3 RegisterId

	// OpBinary
	BinaryOp hdlir.BinaryOp

	// OpConcat
	Elems []ConcatOperand

	// OpLoad / OpStore / OpCommit / OpSlice (Src1 is the sliced
	// register; Offset.Static/Width give the bit range taken from it)
	Addr   addr.RegionedAbsoluteAddr // OpLoad, OpStore source-addr side of OpCommit uses SrcAddr
	Offset Offset
	Width  int

	// OpStore
	Src      RegisterId
	Triggers []TriggerId

	// OpCommit
	SrcAddr addr.RegionedAbsoluteAddr
	DstAddr addr.RegionedAbsoluteAddr
}

// BlockId names a basic block within a Unit.
type BlockId int

// TermKind tags which Terminator fields are meaningful.
type TermKind uint8

const (
	TermJump TermKind = iota
	TermBranch
	TermReturn
	TermError
)

// Terminator ends a basic block.
type Terminator struct {
	Kind TermKind

	// TermJump
	Target BlockId
	Args   []RegisterId

	// TermBranch
	Cond     RegisterId
	ThenDst  BlockId
	ThenArgs []RegisterId
	ElseDst  BlockId
	ElseArgs []RegisterId

	// TermError
	Code int
}

// BasicBlock is a sequence of instructions ending in one terminator.
// Params receive the arguments of every predecessor Jump/Branch edge
// targeting this block, acting as SSA φ-nodes.
type BasicBlock struct {
	ID     BlockId
	Params []RegisterId
	Instrs []Instruction
	Term   Terminator
}

// Unit is a self-contained CFG compiled into one native function: a
// combinational body, a clock/reset event function, or a clock-apply
// function (spec.md §2 row M / §4.C).
type Unit struct {
	Name     string
	Blocks   []*BasicBlock
	Entry    BlockId
	regTypes []RegType
}

// NewUnit creates an empty unit with a single entry block (id 0).
func NewUnit(name string) *Unit {
	u := &Unit{Name: name}
	u.NewBlock()
	return u
}

// NewBlock appends and returns a fresh basic block.
func (u *Unit) NewBlock() *BasicBlock {
	b := &BasicBlock{ID: BlockId(len(u.Blocks))}
	u.Blocks = append(u.Blocks, b)
	return b
}

// Block returns the block with the given id.
func (u *Unit) Block(id BlockId) *BasicBlock { return u.Blocks[id] }

// NewReg allocates a fresh SSA register of the given type.
func (u *Unit) NewReg(t RegType) RegisterId {
	id := RegisterId(len(u.regTypes))
	u.regTypes = append(u.regTypes, t)
	return id
}

// RegType returns the static type of a previously allocated register.
func (u *Unit) RegType(r RegisterId) RegType { return u.regTypes[r] }

// NumRegs returns the number of registers allocated in this unit.
func (u *Unit) NumRegs() int { return len(u.regTypes) }

// Emit helpers mirror the corpus's Function.Emit family (pkg/ir/ir.go in
// the teacher repo), one constructor per instruction form.

func (b *BasicBlock) EmitImm(dst RegisterId, val *big.Int, mask *big.Int) {
	b.Instrs = append(b.Instrs, Instruction{Op: OpImm, Dst: dst, ImmVal: val, ImmMask: mask})
}

func (b *BasicBlock) EmitUnary(dst RegisterId, op hdlir.UnaryOp, src RegisterId, castWidth int, castSigned bool) {
	b.Instrs = append(b.Instrs, Instruction{Op: OpUnary, Dst: dst, UnaryOp: op, Src1: src, CastWidth: castWidth, CastSigned: castSigned})
}

func (b *BasicBlock) EmitBinary(dst RegisterId, op hdlir.BinaryOp, lhs, rhs RegisterId) {
	b.Instrs = append(b.Instrs, Instruction{Op: OpBinary, Dst: dst, BinaryOp: op, Src1: lhs, Src2: rhs})
}

func (b *BasicBlock) EmitConcat(dst RegisterId, elems []ConcatOperand) {
	b.Instrs = append(b.Instrs, Instruction{Op: OpConcat, Dst: dst, Elems: elems})
}

func (b *BasicBlock) EmitSlice(dst RegisterId, src RegisterId, lsb, width int) {
	b.Instrs = append(b.Instrs, Instruction{Op: OpSlice, Dst: dst, Src1: src, Offset: StaticOffset(lsb), Width: width})
}

// EmitSelect chooses then or else by cond (a 1-bit register), the SIR's
// only three-operand value op. The JIT translator is responsible for
// expanding it into the mask-and-combine bitwise identity spec.md §4.G
// describes; SIR itself keeps Select as a single typed primitive.
func (b *BasicBlock) EmitSelect(dst RegisterId, cond, then, els RegisterId) {
	b.Instrs = append(b.Instrs, Instruction{Op: OpSelect, Dst: dst, Src1: cond, Src2: then, Src3: els})
}

func (b *BasicBlock) EmitLoad(dst RegisterId, a addr.RegionedAbsoluteAddr, off Offset, width int) {
	b.Instrs = append(b.Instrs, Instruction{Op: OpLoad, Dst: dst, Addr: a, Offset: off, Width: width})
}

func (b *BasicBlock) EmitStore(a addr.RegionedAbsoluteAddr, off Offset, width int, src RegisterId, triggers []TriggerId) {
	b.Instrs = append(b.Instrs, Instruction{Op: OpStore, Addr: a, Offset: off, Width: width, Src: src, Triggers: triggers})
}

func (b *BasicBlock) EmitCommit(srcAddr, dstAddr addr.RegionedAbsoluteAddr, off Offset, width int, triggers []TriggerId) {
	b.Instrs = append(b.Instrs, Instruction{Op: OpCommit, SrcAddr: srcAddr, DstAddr: dstAddr, Offset: off, Width: width, Triggers: triggers})
}

func (b *BasicBlock) SetJump(target BlockId, args []RegisterId) {
	b.Term = Terminator{Kind: TermJump, Target: target, Args: args}
}

func (b *BasicBlock) SetBranch(cond RegisterId, thenDst BlockId, thenArgs []RegisterId, elseDst BlockId, elseArgs []RegisterId) {
	b.Term = Terminator{Kind: TermBranch, Cond: cond, ThenDst: thenDst, ThenArgs: thenArgs, ElseDst: elseDst, ElseArgs: elseArgs}
}

func (b *BasicBlock) SetReturn() { b.Term = Terminator{Kind: TermReturn} }

func (b *BasicBlock) SetError(code int) { b.Term = Terminator{Kind: TermError, Code: code} }

// IsBarrier reports whether an instruction is a scheduling barrier for
// the SIR optimizer (spec.md §4.F: "barriers: Commit instructions split
// schedulable windows").
func (i Instruction) IsBarrier() bool { return i.Op == OpCommit }
