// Package hdlir defines the analyzer's output contract: the tree of
// modules, variables, and statements that the rest of the core consumes.
// Nothing in this package parses source text — it is pure data, built by
// a frontend that is out of scope for this module (see SPEC_FULL.md §1).
package hdlir

// VarID interns a variable within a single module.
type VarID int

// Program is the whole design: every parsed module, keyed by name, plus
// the name of the top-level module to instantiate.
type Program struct {
	Modules map[string]*Module `json:"modules"`
	Top     string             `json:"top"`
}

// Module is one post-analysis module: its variables, its declarations
// (comb blocks, FF blocks, and instances of other modules), and any
// inlinable functions its bodies call.
type Module struct {
	Name      string
	Variables []*Variable
	Decls     []Declaration
	Funcs     map[string]*FuncDef
}

// FuncParam is one parameter of an inlinable function; IsOutput marks an
// out-argument whose assignment is propagated into the call site as a
// side effect (spec.md §4.B "Function calls in expressions").
type FuncParam struct {
	Name     string `json:"name"`
	Width    int    `json:"width"`
	Signed   bool   `json:"signed"`
	IsOutput bool   `json:"is_output"`
}

// FuncDef is a function body the comb/FF parsers inline at every call
// site rather than compiling as a separate callable unit.
type FuncDef struct {
	Name   string
	Params []FuncParam
	Body   []Statement
}

// Variable describes one declared signal: its width, array dimensions
// (outermost first), signedness, and 4-state-ness.
type Variable struct {
	ID        VarID  `json:"id"`
	Path      string `json:"path"` // e.g. "q", "mem" (unqualified within the module)
	Width     int    `json:"width"`
	Dims      []int  `json:"dims"` // empty for a scalar
	Signed    bool   `json:"signed"`
	FourState bool   `json:"four_state"`
}

// ElementCount returns the number of scalar elements an array variable
// holds (1 for a scalar).
func (v *Variable) ElementCount() int {
	n := 1
	for _, d := range v.Dims {
		n *= d
	}
	return n
}

// Declaration is the sum type of module-level declarations.
type Declaration interface{ declTag() }

// Comb is an `always_comb` block.
type Comb struct {
	Body []Statement
}

func (*Comb) declTag() {}

// ResetKind selects the polarity and synchrony of an Ff's reset.
type ResetKind int

const (
	ResetNone ResetKind = iota
	ResetAsyncHigh
	ResetAsyncLow
	ResetSyncHigh
	ResetSyncLow
)

// Ff is an `always_ff` block.
type Ff struct {
	Clock     VarID
	PosEdge   bool // true: rising edge; false: falling edge
	Reset     VarID
	ResetKind ResetKind
	Body      []Statement
}

func (*Ff) declTag() {}

// PortBinding connects a port of an instantiated module to an expression
// (for inputs) or a destination variable (for outputs) in the parent.
type PortBinding struct {
	Port VarID // port variable id within the target module
	Expr Expression
}

// Inst is an instance of another module.
type Inst struct {
	InstName string
	Target   string // target module name
	Inputs   []PortBinding
	Outputs  []PortBinding
}

func (*Inst) declTag() {}

// Statement is the sum type of statements inside Comb/Ff bodies.
type Statement interface{ stmtTag() }

// Destination is one assignment target: a variable plus an optional
// static bit access and/or dynamic index expressions (outermost dim
// first).
type Destination struct {
	Var     VarID
	Access  *BitAccess // nil: whole variable
	Indices []Expression
}

type Assign struct {
	Dests []Destination // len > 1 for concat-destination assigns
	Value Expression
}

func (*Assign) stmtTag() {}

type If struct {
	Cond Expression
	Then []Statement
	Else []Statement // nil if no else
}

func (*If) stmtTag() {}

// IfReset represents `if_reset { T } else { F }` inside an Ff body.
type IfReset struct {
	Then []Statement
	Else []Statement
}

func (*IfReset) stmtTag() {}

type Null struct{}

func (*Null) stmtTag() {}

// Return ends an inlined function body, substituting Value for the call
// expression (spec.md §4.B: "return substitutes the final expression").
type Return struct {
	Value Expression
}

func (*Return) stmtTag() {}

// LocalAssign binds a local name (not a declared Variable) to an
// expression inside a function body, per spec.md §4.B's inliner, which
// "walks the callee body as a statement list, carrying a map
// {local -> expression}".
type LocalAssign struct {
	Name  string
	Value Expression
}

func (*LocalAssign) stmtTag() {}

type SystemCall struct {
	Name string
	Args []Expression
}

func (*SystemCall) stmtTag() {}

type Call struct {
	Func string
	Args []Expression
}

func (*Call) stmtTag() {}

// BitAccess is an inclusive [lsb, msb] bit range.
type BitAccess struct {
	Lsb int `json:"lsb"`
	Msb int `json:"msb"`
}

func (a BitAccess) Width() int { return a.Msb - a.Lsb + 1 }

// Expression is the sum type of RHS expressions.
type Expression interface{ exprTag() }

// Term is a leaf reference: a variable (with optional static/dynamic
// access) or an immediate constant.
type Term struct {
	IsConst  bool
	ConstVal uint64
	ConstW   int
	Signed   bool

	Var     VarID
	Access  *BitAccess
	Indices []Expression
}

func (*Term) exprTag() {}

type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpSar
	OpEq
	OpNe
	OpLtU
	OpLtS
	OpLeU
	OpLeS
	OpGtU
	OpGtS
	OpGeU
	OpGeS
	OpLogicAnd
	OpLogicOr
	OpEqWildcard
	OpNeWildcard
)

type Binary struct {
	Op       BinaryOp
	Lhs, Rhs Expression
}

func (*Binary) exprTag() {}

type UnaryOp int

const (
	OpIdent UnaryOp = iota
	OpMinus
	OpBitNot
	OpLogicNot
	OpReduceAnd
	OpReduceOr
	OpReduceXor
	OpReduceNand
	OpReduceNor
	OpReduceXnor
	OpCast // width adjust; CastWidth/CastSigned on Unary carry the target
)

type Unary struct {
	Op         UnaryOp
	Operand    Expression
	CastWidth  int
	CastSigned bool
}

func (*Unary) exprTag() {}

type Ternary struct {
	Cond, Then, Else Expression
}

func (*Ternary) exprTag() {}

// Concat concatenates elements MSB-first.
type Concat struct {
	Elems []Expression
}

func (*Concat) exprTag() {}

// ArrayLiteral is `'{[idx]: expr, ..., default: expr}`-style aggregate.
type ArrayLiteral struct {
	Keyed   map[int]Expression
	Default Expression // nil if no default slot
	Length  int
}

func (*ArrayLiteral) exprTag() {}

// CallExpr is an inlinable function call appearing inside an expression.
type CallExpr struct {
	Func string
	Args []Expression
}

func (*CallExpr) exprTag() {}

// LocalRef reads a name bound by a FuncDef's LocalAssign or parameter
// during inlining; it never appears outside a function body.
type LocalRef struct {
	Name string
}

func (*LocalRef) exprTag() {}

type StructCtor struct {
	FieldOrder []string
	Fields     map[string]Expression
}

func (*StructCtor) exprTag() {}
