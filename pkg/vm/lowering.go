package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"n2t.dev/toolchain/pkg/asm"
)

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a 'vm.Program' (one or more translation units/modules) and produces
// their combined 'asm.Program' counterpart, ready to be handed off to the Asm CodeGenerator.
//
// Unlike the Asm Lowerer (a pure 1:1 structural translation) the Vm Lowerer carries real
// state across the whole program: every module needs a unique identifier to qualify its
// 'static' variables, every label needs scoping to the function it was declared in, and
// every 'call' site needs a process-wide unique return label. Bootstrap code (if enabled)
// is only ever emitted once, ahead of every module.
type Lowerer struct {
	program   Program // Every module/file part of this translation
	bootstrap bool    // Whether to prepend the Sys.init bootstrap sequence
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument Program to be not nil (can be empty though).
func NewLowerer(p Program) Lowerer {
	return Lowerer{program: p}
}

// Enables (or disables) emission of the bootstrap code ('SP=256; call Sys.init 0')
// once, ahead of all translated modules. Returns the Lowerer itself to allow chaining.
func (l Lowerer) WithBootstrap(enabled bool) Lowerer {
	l.bootstrap = enabled
	return l
}

// Triggers the lowering process for every module in the Program, in deterministic
// (lexicographic) order by module name, so that repeated runs over the same input
// always produce byte-identical output.
func (l *Lowerer) Lower() (asm.Program, error) {
	out := asm.Program{}

	if l.bootstrap {
		out = append(out, bootstrapSequence()...)
	}

	names := make([]string, 0, len(l.program))
	for name := range l.program {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		lowered, err := newModuleLowerer(name).lower(l.program[name])
		if err != nil {
			return nil, fmt.Errorf("module '%s': %s", name, err)
		}
		out = append(out, lowered...)
	}

	return out, nil
}

// Emits the bootstrap sequence: initializes the Stack Pointer to the conventional
// base address (256) and then calls 'Sys.init' with zero arguments, exactly as if
// a regular (synthetic) 'call Sys.init 0' instruction had been the very first op.
func bootstrapSequence() asm.Program {
	out := asm.Program{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
	return append(out, newModuleLowerer("BOOTSTRAP").emitCall(FuncCallOp{Name: "Sys.init", NArgs: 0})...)
}

// ----------------------------------------------------------------------------
// Per-module lowering state

// moduleLowerer carries the per-file state needed to keep generated symbols unique:
// the file's own identifier (used to qualify 'static' variables), the name of the
// function currently being compiled (used to scope 'label'/'goto' targets) and a
// set of monotonic counters (one per kind of op that needs a disambiguating suffix).
type moduleLowerer struct {
	uid         string // Upper-cased module identifier, used for 'static' qualification
	currentFunc string // Fully qualified name of the function currently being lowered
	cmpCounter  int    // Disambiguates generated labels for eq/gt/lt comparisons
	callCounter int    // Disambiguates generated return-address labels for 'call'
}

func newModuleLowerer(name string) *moduleLowerer {
	return &moduleLowerer{uid: strings.ToUpper(name)}
}

func (ml *moduleLowerer) lower(mod Module) (asm.Program, error) {
	out := asm.Program{}

	for _, op := range mod {
		switch top := op.(type) {
		case MemoryOp:
			instrs, err := ml.emitMemoryOp(top)
			if err != nil {
				return nil, err
			}
			out = append(out, instrs...)

		case ArithmeticOp:
			instrs, err := ml.emitArithmeticOp(top)
			if err != nil {
				return nil, err
			}
			out = append(out, instrs...)

		case LabelDecl:
			out = append(out, asm.LabelDecl{Name: ml.qualifyLabel(top.Name)})

		case GotoOp:
			out = append(out, ml.emitGoto(top)...)

		case FuncDecl:
			ml.currentFunc = top.Name
			out = append(out, ml.emitFuncDecl(top)...)

		case FuncCallOp:
			out = append(out, ml.emitCall(top)...)

		case ReturnOp:
			out = append(out, emitReturn()...)

		default:
			return nil, fmt.Errorf("unrecognized operation '%T'", op)
		}
	}

	return out, nil
}

// Labels are scoped to the enclosing function: two 'while' loops in two different
// functions are free to both declare a 'WHILE_START' label without colliding.
func (ml *moduleLowerer) qualifyLabel(name string) string {
	if ml.currentFunc == "" {
		return name
	}
	return fmt.Sprintf("%s$%s", ml.currentFunc, name)
}

// ----------------------------------------------------------------------------
// Memory Op lowering

func (ml *moduleLowerer) emitMemoryOp(op MemoryOp) (asm.Program, error) {
	switch op.Segment {
	case Constant:
		if op.Operation != Push {
			return nil, fmt.Errorf("segment 'constant' does not support 'pop'")
		}
		out := asm.Program{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}
		return append(out, pushD()...), nil

	case Local, Argument, This, That:
		base := map[SegmentType]string{Local: "LCL", Argument: "ARG", This: "THIS", That: "THAT"}[op.Segment]
		return ml.emitIndirectSegment(op.Operation, base, op.Offset), nil

	case Temp:
		if op.Offset > 7 {
			return nil, fmt.Errorf("invalid 'temp' offset, got %d", op.Offset)
		}
		return ml.emitFixedAddress(op.Operation, fmt.Sprint(5+op.Offset)), nil

	case Pointer:
		if op.Offset > 1 {
			return nil, fmt.Errorf("invalid 'pointer' offset, got %d", op.Offset)
		}
		reg := "THIS"
		if op.Offset == 1 {
			reg = "THAT"
		}
		return ml.emitFixedAddress(op.Operation, reg), nil

	case Static:
		return ml.emitFixedAddress(op.Operation, fmt.Sprintf("%s.%d", ml.uid, op.Offset)), nil
	}

	return nil, fmt.Errorf("unrecognized segment '%s'", op.Segment)
}

// Segments addressed through a base register plus an offset (local/argument/this/that):
// the effective address is computed at run-time by dereferencing the base register.
func (ml *moduleLowerer) emitIndirectSegment(opType OperationType, base string, offset uint16) asm.Program {
	if opType == Push {
		return asm.Program{
			asm.AInstruction{Location: base}, asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(offset)}, asm.CInstruction{Dest: "A", Comp: "D+A"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "M+1"},
			asm.CInstruction{Dest: "A", Comp: "M-1"}, asm.CInstruction{Dest: "M", Comp: "D"},
		}
	}
	return asm.Program{
		asm.AInstruction{Location: base}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: fmt.Sprint(offset)}, asm.CInstruction{Dest: "D", Comp: "D+A"},
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

// Segments that resolve to a single, already-known memory cell: temp/pointer (a fixed
// RAM address) and static (a per-module label the assembler will allocate a cell for).
func (ml *moduleLowerer) emitFixedAddress(opType OperationType, location string) asm.Program {
	if opType == Push {
		return asm.Program{
			asm.AInstruction{Location: location}, asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "M+1"},
			asm.CInstruction{Dest: "A", Comp: "M-1"}, asm.CInstruction{Dest: "M", Comp: "D"},
		}
	}
	return asm.Program{
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: location}, asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

// Pushes the current value of the D register on top of the stack.
func pushD() asm.Program {
	return asm.Program{
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "M+1"},
		asm.CInstruction{Dest: "A", Comp: "M-1"}, asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

// ----------------------------------------------------------------------------
// Arithmetic Op lowering

// Binary ops that reduce to a single comp-table mnemonic applied between the top two
// stack values, leaving the result in place of the two operands (net one pop).
var binaryCompTable = map[ArithOpType]string{
	Add: "D+M", Sub: "M-D", And: "D&M", Or: "D|M",
}

// Unary ops that reduce to a single comp-table mnemonic applied in-place to the top
// of the stack, leaving the stack depth unchanged.
var unaryCompTable = map[ArithOpType]string{
	Neg: "-M", Not: "!M", ShiftLeft: "M<<", ShiftRight: "M>>",
}

func (ml *moduleLowerer) emitArithmeticOp(op ArithmeticOp) (asm.Program, error) {
	if comp, ok := binaryCompTable[op.Operation]; ok {
		return asm.Program{
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"}, asm.CInstruction{Dest: "A", Comp: "A-1"},
			asm.CInstruction{Dest: "M", Comp: comp},
		}, nil
	}

	if comp, ok := unaryCompTable[op.Operation]; ok {
		return asm.Program{
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: comp},
		}, nil
	}

	switch op.Operation {
	case Eq, Gt, Lt:
		ml.cmpCounter++
		return ml.emitComparison(op.Operation, fmt.Sprintf("%s$CMP.%d", ml.uid, ml.cmpCounter)), nil
	}

	return nil, fmt.Errorf("unrecognized arithmetic operation '%s'", op.Operation)
}

// Overflow-safe implementation of eq/gt/lt.
//
// A naive '(x - y) <jump> 0' breaks whenever x and y have opposite signs and the true
// mathematical difference does not fit a 16-bit two's complement word (e.g. x very
// positive, y very negative). We special-case opposite-sign operands: whenever signs
// differ, comparing 'x' against zero alone is sufficient and never overflows, since
// y contributes nothing but its sign in that situation.
func (ml *moduleLowerer) emitComparison(op ArithOpType, tag string) asm.Program {
	jump := map[ArithOpType]string{Eq: "JEQ", Gt: "JGT", Lt: "JLT"}[op]

	out := asm.Program{
		// Pop y into R13, reload x (without popping it) into D.
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		// Stash the (possibly overflowing) difference for the same-sign fast path.
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "D", Comp: "D-M"},
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "M", Comp: "D"},

		// Branch on sign(x).
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: tag + ".XNEG"}, asm.CInstruction{Comp: "D", Jump: "JLT"},

		// x >= 0: same sign with y unless y < 0.
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: tag + ".OVERFLOW"}, asm.CInstruction{Comp: "D", Jump: "JLT"},
		asm.AInstruction{Location: tag + ".SAFE"}, asm.CInstruction{Comp: "0", Jump: "JMP"},

		asm.LabelDecl{Name: tag + ".XNEG"},
		// x < 0: same sign with y unless y >= 0.
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: tag + ".OVERFLOW"}, asm.CInstruction{Comp: "D", Jump: "JGE"},

		asm.LabelDecl{Name: tag + ".SAFE"},
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: tag + ".TRUE"}, asm.CInstruction{Comp: "D", Jump: jump},
		asm.AInstruction{Location: tag + ".FALSE"}, asm.CInstruction{Comp: "0", Jump: "JMP"},

		asm.LabelDecl{Name: tag + ".OVERFLOW"},
	}

	switch op {
	case Eq: // Opposite signs can never be equal.
		out = append(out, asm.AInstruction{Location: tag + ".FALSE"}, asm.CInstruction{Comp: "0", Jump: "JMP"})
	case Gt: // x >= 0 with y < 0 (or vice versa): the sign of x alone decides.
		out = append(out,
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: tag + ".TRUE"}, asm.CInstruction{Comp: "D", Jump: "JGE"},
			asm.AInstruction{Location: tag + ".FALSE"}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		)
	case Lt:
		out = append(out,
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: tag + ".TRUE"}, asm.CInstruction{Comp: "D", Jump: "JLT"},
			asm.AInstruction{Location: tag + ".FALSE"}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		)
	}

	out = append(out,
		asm.LabelDecl{Name: tag + ".TRUE"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "-1"},
		asm.AInstruction{Location: tag + ".END"}, asm.CInstruction{Comp: "0", Jump: "JMP"},

		asm.LabelDecl{Name: tag + ".FALSE"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "0"},

		asm.LabelDecl{Name: tag + ".END"},
	)

	return out
}

// ----------------------------------------------------------------------------
// Branching Op lowering

func (ml *moduleLowerer) emitGoto(op GotoOp) asm.Program {
	target := ml.qualifyLabel(op.Label)

	if op.Jump == Unconditional {
		return asm.Program{
			asm.AInstruction{Location: target}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		}
	}

	return asm.Program{
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: target}, asm.CInstruction{Comp: "D", Jump: "JNE"},
	}
}

// ----------------------------------------------------------------------------
// Function Op lowering

// function f nLocal: declares the entrypoint label and materializes 'nLocal' zeroed
// local variable slots (equivalent to 'push constant 0' repeated 'nLocal' times).
func (ml *moduleLowerer) emitFuncDecl(op FuncDecl) asm.Program {
	out := asm.Program{asm.LabelDecl{Name: op.Name}}

	for i := uint16(0); i < op.NLocal; i++ {
		out = append(out,
			asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "M+1"},
			asm.CInstruction{Dest: "A", Comp: "M-1"}, asm.CInstruction{Dest: "M", Comp: "0"},
		)
	}

	return out
}

// call f nArgs: pushes a fresh call-frame (return address + caller's LCL/ARG/THIS/THAT),
// repositions ARG/LCL for the callee and jumps into it. The return-address label is
// unique per call-site (module identifier + monotonic counter), never per callee, since
// the same function can legally be called from many sites.
func (ml *moduleLowerer) emitCall(op FuncCallOp) asm.Program {
	ml.callCounter++
	retLabel := fmt.Sprintf("%s$ret.%d", ml.uid, ml.callCounter)

	out := asm.Program{
		asm.AInstruction{Location: retLabel}, asm.CInstruction{Dest: "D", Comp: "A"},
	}
	out = append(out, pushD()...)

	for _, reg := range []string{"LCL", "ARG", "THIS", "THAT"} {
		out = append(out, asm.AInstruction{Location: reg}, asm.CInstruction{Dest: "D", Comp: "M"})
		out = append(out, pushD()...)
	}

	out = append(out,
		// ARG = SP - 5 - nArgs
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: strconv.Itoa(5 + int(op.NArgs))}, asm.CInstruction{Dest: "D", Comp: "D-A"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// LCL = SP
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// goto f
		asm.AInstruction{Location: op.Name}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: retLabel},
	)

	return out
}

// return: tears down the current frame, repositions the return value where the caller
// expects it and restores the caller's segment pointers, in the order THAT/THIS/ARG/LCL
// (innermost-saved-last, so each restore can still use the frame pointer safely). The
// return address is fetched into R14 *before* '*ARG' is overwritten, since a zero-arg
// function has ARG pointing at the very slot the return address might otherwise alias.
func emitReturn() asm.Program {
	return asm.Program{
		// R13 (frame) = LCL
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// R14 (retAddr) = *(frame - 5), fetched before '*ARG' is clobbered
		asm.AInstruction{Location: "5"}, asm.CInstruction{Dest: "A", Comp: "D-A"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// *ARG = pop()
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// SP = ARG + 1
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// THAT = *(frame - 1)
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "THAT"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// THIS = *(frame - 2)
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "THIS"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// ARG = *(frame - 3)
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// LCL = *(frame - 4)
		asm.AInstruction{Location: "R13"}, asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// goto retAddr
		asm.AInstruction{Location: "R14"}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	}
}
