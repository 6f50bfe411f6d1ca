package hir

// Opcode identifies an HIR instruction kind.
type Opcode uint8

const (
	// Terminators.
	OpBranch Opcode = iota
	OpCondBranch
	OpCondBranchCheckType
	OpCondBranchIterNotDone
	OpReturn
	OpDeopt
	OpUnreachable

	// Metadata; these emit no code.
	OpSnapshot
	OpRefineType
	OpHintType
	OpUseType
	OpAssign
	OpPhi

	// Values.
	OpLoadArg
	OpLoadConst
	OpLoadField
	OpStoreField
	OpLoadGlobalCached
	OpIncref
	OpDecref
	OpXIncref
	OpXDecref
	OpIntBinaryOp
	OpDoubleBinaryOp
	OpPrimitiveCompare
	OpPrimitiveUnaryOp
	OpIntConvert
	OpBoxBool

	// Guards and checks.
	OpGuard
	OpGuardIs
	OpGuardType
	OpCheckVar
	OpCheckExc
	OpCheckNeg
	OpCheckField
	OpDeoptPatchpoint

	// Runtime operations that may raise.
	OpCast
	OpPrimitiveBox
	OpPrimitiveUnbox
	OpBinaryOp
	OpCompareOp
	OpUnaryOp
	OpIsTruthy
	OpLoadAttr
	OpStoreAttr
	OpLoadGlobal
	OpStoreGlobal
	OpBinarySubscr
	OpStoreSubscr
	OpMakeTuple
	OpMakeList
	OpMakeDict
	OpGetIter
	OpInvokeIterNext
	OpVectorCall
	OpCallStatic
	OpRunPeriodicTasks
	OpRaise

	// Generators.
	OpInitialYield
	OpYieldValue

	numOpcodes
)

const (
	fTerminator uint16 = 1 << iota
	fDeoptBase
	fReplayable
	fPassthrough
	fHasOutput
	fNoCode
)

var opInfo = [numOpcodes]struct {
	name  string
	flags uint16
	succs int
}{
	OpBranch:                {"Branch", fTerminator, 1},
	OpCondBranch:            {"CondBranch", fTerminator, 2},
	OpCondBranchCheckType:   {"CondBranchCheckType", fTerminator, 2},
	OpCondBranchIterNotDone: {"CondBranchIterNotDone", fTerminator, 2},
	OpReturn:                {"Return", fTerminator, 0},
	OpDeopt:                 {"Deopt", fTerminator | fDeoptBase, 0},
	OpUnreachable:           {"Unreachable", fTerminator, 0},

	OpSnapshot:   {"Snapshot", fReplayable | fNoCode, 0},
	OpRefineType: {"RefineType", fReplayable | fPassthrough | fHasOutput | fNoCode, 0},
	OpHintType:   {"HintType", fReplayable | fNoCode, 0},
	OpUseType:    {"UseType", fReplayable | fNoCode, 0},
	OpAssign:     {"Assign", fReplayable | fPassthrough | fHasOutput | fNoCode, 0},
	OpPhi:        {"Phi", fReplayable | fHasOutput, 0},

	OpLoadArg:          {"LoadArg", fReplayable | fHasOutput, 0},
	OpLoadConst:        {"LoadConst", fReplayable | fHasOutput, 0},
	OpLoadField:        {"LoadField", fReplayable | fHasOutput, 0},
	OpStoreField:       {"StoreField", 0, 0},
	OpLoadGlobalCached: {"LoadGlobalCached", fReplayable | fHasOutput, 0},
	OpIncref:           {"Incref", 0, 0},
	OpDecref:           {"Decref", 0, 0},
	OpXIncref:          {"XIncref", 0, 0},
	OpXDecref:          {"XDecref", 0, 0},
	OpIntBinaryOp:      {"IntBinaryOp", fReplayable | fHasOutput, 0},
	OpDoubleBinaryOp:   {"DoubleBinaryOp", fReplayable | fHasOutput, 0},
	OpPrimitiveCompare: {"PrimitiveCompare", fReplayable | fHasOutput, 0},
	OpPrimitiveUnaryOp: {"PrimitiveUnaryOp", fReplayable | fHasOutput, 0},
	OpIntConvert:       {"IntConvert", fReplayable | fHasOutput, 0},
	OpBoxBool:          {"BoxBool", fReplayable | fHasOutput, 0},

	OpGuard:           {"Guard", fDeoptBase | fReplayable, 0},
	OpGuardIs:         {"GuardIs", fDeoptBase | fReplayable | fPassthrough | fHasOutput, 0},
	OpGuardType:       {"GuardType", fDeoptBase | fReplayable | fPassthrough | fHasOutput, 0},
	OpCheckVar:        {"CheckVar", fDeoptBase | fReplayable | fPassthrough | fHasOutput, 0},
	OpCheckExc:        {"CheckExc", fDeoptBase | fReplayable | fPassthrough | fHasOutput, 0},
	OpCheckNeg:        {"CheckNeg", fDeoptBase | fReplayable | fPassthrough | fHasOutput, 0},
	OpCheckField:      {"CheckField", fDeoptBase | fReplayable | fPassthrough | fHasOutput, 0},
	OpDeoptPatchpoint: {"DeoptPatchpoint", fDeoptBase | fReplayable, 0},

	OpCast:             {"Cast", fDeoptBase | fReplayable | fPassthrough | fHasOutput, 0},
	OpPrimitiveBox:     {"PrimitiveBox", fDeoptBase | fReplayable | fHasOutput, 0},
	OpPrimitiveUnbox:   {"PrimitiveUnbox", fDeoptBase | fReplayable | fHasOutput, 0},
	OpBinaryOp:         {"BinaryOp", fDeoptBase | fHasOutput, 0},
	OpCompareOp:        {"CompareOp", fDeoptBase | fHasOutput, 0},
	OpUnaryOp:          {"UnaryOp", fDeoptBase | fHasOutput, 0},
	OpIsTruthy:         {"IsTruthy", fDeoptBase | fHasOutput, 0},
	OpLoadAttr:         {"LoadAttr", fDeoptBase | fHasOutput, 0},
	OpStoreAttr:        {"StoreAttr", fDeoptBase | fHasOutput, 0},
	OpLoadGlobal:       {"LoadGlobal", fDeoptBase | fHasOutput, 0},
	OpStoreGlobal:      {"StoreGlobal", fDeoptBase | fHasOutput, 0},
	OpBinarySubscr:     {"BinarySubscr", fDeoptBase | fHasOutput, 0},
	OpStoreSubscr:      {"StoreSubscr", fDeoptBase | fHasOutput, 0},
	OpMakeTuple:        {"MakeTuple", fDeoptBase | fHasOutput, 0},
	OpMakeList:         {"MakeList", fDeoptBase | fHasOutput, 0},
	OpMakeDict:         {"MakeDict", fDeoptBase | fHasOutput, 0},
	OpGetIter:          {"GetIter", fDeoptBase | fHasOutput, 0},
	OpInvokeIterNext:   {"InvokeIterNext", fDeoptBase | fHasOutput, 0},
	OpVectorCall:       {"VectorCall", fDeoptBase | fHasOutput, 0},
	OpCallStatic:       {"CallStatic", fDeoptBase | fHasOutput, 0},
	OpRunPeriodicTasks: {"RunPeriodicTasks", fDeoptBase | fHasOutput, 0},
	OpRaise:            {"Raise", fDeoptBase | fHasOutput, 0},

	OpInitialYield: {"InitialYield", fDeoptBase | fHasOutput, 0},
	OpYieldValue:   {"YieldValue", fDeoptBase | fHasOutput, 0},
}

func (op Opcode) String() string {
	if op < numOpcodes {
		return opInfo[op].name
	}
	return "Opcode(?)"
}

// IsTerminator reports whether op ends a block.
func (op Opcode) IsTerminator() bool { return opInfo[op].flags&fTerminator != 0 }

// IsDeoptBase reports whether op carries deoptimization metadata.
func (op Opcode) IsDeoptBase() bool { return opInfo[op].flags&fDeoptBase != 0 }

// NumSuccessors returns the number of outgoing edges a terminator has.
func (op Opcode) NumSuccessors() int { return opInfo[op].succs }

// HasOutput reports whether instructions of this kind define a register.
func (op Opcode) HasOutput() bool { return opInfo[op].flags&fHasOutput != 0 }

// EmitsNoCode reports whether op is pure bookkeeping.
func (op Opcode) EmitsNoCode() bool { return opInfo[op].flags&fNoCode != 0 }

// BinaryOpKind selects the arithmetic performed by IntBinaryOp,
// DoubleBinaryOp and BinaryOp.
type BinaryOpKind uint8

const (
	BinAdd BinaryOpKind = iota
	BinSubtract
	BinMultiply
	BinTrueDivide
	BinFloorDivide
	BinModulo
	BinPower
	BinAnd
	BinOr
	BinXor
	BinLShift
	BinRShift
	BinMatrixMultiply
)

var binNames = [...]string{"Add", "Subtract", "Multiply", "TrueDivide", "FloorDivide",
	"Modulo", "Power", "And", "Or", "Xor", "LShift", "RShift", "MatrixMultiply"}

func (k BinaryOpKind) String() string { return binNames[k] }

// CompareKind selects the relation tested by CompareOp and
// PrimitiveCompare.
type CompareKind uint8

const (
	CmpLessThan CompareKind = iota
	CmpLessThanEqual
	CmpEqual
	CmpNotEqual
	CmpGreaterThan
	CmpGreaterThanEqual
)

var cmpNames = [...]string{"LessThan", "LessThanEqual", "Equal", "NotEqual", "GreaterThan", "GreaterThanEqual"}

func (k CompareKind) String() string { return cmpNames[k] }

// UnaryOpKind selects the operation of UnaryOp and PrimitiveUnaryOp.
type UnaryOpKind uint8

const (
	UnaryNegate UnaryOpKind = iota
	UnaryInvert
	UnaryNot
)

var unaryNames = [...]string{"Negate", "Invert", "Not"}

func (k UnaryOpKind) String() string { return unaryNames[k] }
