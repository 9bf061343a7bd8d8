package progs

import "fmt"

// Opcode is a statement operation.
type Opcode uint16

// Arithmetic.
const (
	OpDone Opcode = iota
	OpMulF
	OpMulV // dot product
	OpMulFV
	OpMulVF
	OpDivF
	OpAddF
	OpAddV
	OpSubF
	OpSubV
)

// Comparisons.
const (
	OpEqF Opcode = iota + 10
	OpEqV
	OpEqS
	OpEqE
	OpEqFnc
	OpNeF
	OpNeV
	OpNeS
	OpNeE
	OpNeFnc
	OpLe
	OpGe
	OpLt
	OpGt
)

// Indirect loads, address-of and stores.
const (
	OpLoadF Opcode = iota + 24
	OpLoadV
	OpLoadS
	OpLoadEnt
	OpLoadFld
	OpLoadFnc
	OpAddress
	OpStoreF
	OpStoreV
	OpStoreS
	OpStoreEnt
	OpStoreFld
	OpStoreFnc
	OpStorePF
	OpStorePV
	OpStorePS
	OpStorePEnt
	OpStorePFld
	OpStorePFnc
)

// Control flow and logic.
const (
	OpReturn Opcode = iota + 43
	OpNotF
	OpNotV
	OpNotS
	OpNotEnt
	OpNotFnc
	OpIf
	OpIfNot
	OpCall0
	OpCall1
	OpCall2
	OpCall3
	OpCall4
	OpCall5
	OpCall6
	OpCall7
	OpCall8
	OpState
	OpGoto
	OpAnd
	OpOr
	OpBitAnd
	OpBitOr

	// NumOpcodes is the number of defined opcodes.
	NumOpcodes
)

// mnemonics are the trace names. The six indirect loads share one name.
var mnemonics = [NumOpcodes]string{
	"DONE",
	"MUL_F", "MUL_V", "MUL_FV", "MUL_VF",
	"DIV",
	"ADD_F", "ADD_V",
	"SUB_F", "SUB_V",
	"EQ_F", "EQ_V", "EQ_S", "EQ_E", "EQ_FNC",
	"NE_F", "NE_V", "NE_S", "NE_E", "NE_FNC",
	"LE", "GE", "LT", "GT",
	"INDIRECT", "INDIRECT", "INDIRECT", "INDIRECT", "INDIRECT", "INDIRECT",
	"ADDRESS",
	"STORE_F", "STORE_V", "STORE_S", "STORE_ENT", "STORE_FLD", "STORE_FNC",
	"STOREP_F", "STOREP_V", "STOREP_S", "STOREP_ENT", "STOREP_FLD", "STOREP_FNC",
	"RETURN",
	"NOT_F", "NOT_V", "NOT_S", "NOT_ENT", "NOT_FNC",
	"IF", "IFNOT",
	"CALL0", "CALL1", "CALL2", "CALL3", "CALL4", "CALL5", "CALL6", "CALL7", "CALL8",
	"STATE",
	"GOTO",
	"AND", "OR",
	"BITAND", "BITOR",
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return op < NumOpcodes
}

// String returns the trace mnemonic.
func (op Opcode) String() string {
	if op.Valid() {
		return mnemonics[op]
	}
	return fmt.Sprintf("op(%d)", uint16(op))
}

// IsCall reports whether op is one of CALL0..CALL8.
func (op Opcode) IsCall() bool {
	return op >= OpCall0 && op <= OpCall8
}

// CallArgs returns the argument count of a CALLn opcode.
func (op Opcode) CallArgs() int {
	return int(op - OpCall0)
}

// IsStore reports whether op is one of the direct STORE_* opcodes.
func (op Opcode) IsStore() bool {
	return op >= OpStoreF && op <= OpStoreFnc
}

// Operand roles for validation and tracing.
const (
	operandGlobal = iota
	operandBranch
	operandUnused
)

// operandRoles returns how each of A, B and C is interpreted.
func (op Opcode) operandRoles() [3]int {
	switch {
	case op == OpGoto:
		return [3]int{operandBranch, operandUnused, operandUnused}
	case op == OpIf || op == OpIfNot:
		return [3]int{operandGlobal, operandBranch, operandUnused}
	case op.IsCall():
		return [3]int{operandGlobal, operandUnused, operandUnused}
	default:
		return [3]int{operandGlobal, operandGlobal, operandGlobal}
	}
}

// operandWidths returns the number of global cells each of A, B and C
// spans. Only operands whose role is operandGlobal are meaningful.
func (op Opcode) operandWidths() [3]int {
	switch op {
	case OpMulV, OpEqV, OpNeV:
		return [3]int{3, 3, 1}
	case OpMulFV:
		return [3]int{1, 3, 3}
	case OpMulVF:
		return [3]int{3, 1, 3}
	case OpAddV, OpSubV:
		return [3]int{3, 3, 3}
	case OpNotV:
		return [3]int{3, 1, 1}
	case OpStoreV:
		return [3]int{3, 3, 1}
	case OpStorePV:
		return [3]int{3, 1, 1}
	case OpLoadV:
		return [3]int{1, 1, 3}
	default:
		return [3]int{1, 1, 1}
	}
}
