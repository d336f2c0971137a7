package jack

import (
	"fmt"

	"n2t.dev/toolchain/pkg/vm"
)

// VMWriter is a purely mechanical emitter: WritePush, WritePop and WriteArithmetic validate
// their arguments against the VM language's enumerated sets/ranges before appending to the
// module, so a bug further up the Compilation Engine surfaces immediately as an error instead
// of silently producing malformed bytecode. The label, goto, call, function and return
// writers append their operation without any check.
type VMWriter struct {
	module vm.Module
}

func NewVMWriter() *VMWriter { return &VMWriter{} }

func (w *VMWriter) Module() vm.Module { return w.module }

func (w *VMWriter) WritePush(segment vm.SegmentType, index uint16) error {
	if err := validateSegmentIndex(segment, index); err != nil {
		return err
	}
	w.module = append(w.module, vm.MemoryOp{Operation: vm.Push, Segment: segment, Offset: index})
	return nil
}

func (w *VMWriter) WritePop(segment vm.SegmentType, index uint16) error {
	if segment == vm.Constant {
		return fmt.Errorf("vmwriter: cannot pop into the 'constant' segment")
	}
	if err := validateSegmentIndex(segment, index); err != nil {
		return err
	}
	w.module = append(w.module, vm.MemoryOp{Operation: vm.Pop, Segment: segment, Offset: index})
	return nil
}

func validateSegmentIndex(segment vm.SegmentType, index uint16) error {
	switch segment {
	case vm.Constant:
		if index > 32767 {
			return fmt.Errorf("vmwriter: constant index %d out of range [0, 32767]", index)
		}
	case vm.Pointer:
		if index > 1 {
			return fmt.Errorf("vmwriter: pointer index %d out of range {0, 1}", index)
		}
	case vm.Temp:
		if index > 7 {
			return fmt.Errorf("vmwriter: temp index %d out of range [0, 7]", index)
		}
	case vm.Local, vm.Argument, vm.Static, vm.This, vm.That:
		// Unbounded segments: the VM lowerer rejects anything it cannot resolve.
	default:
		return fmt.Errorf("vmwriter: unknown segment %q", segment)
	}
	return nil
}

var arithOpcodes = map[vm.ArithOpType]bool{
	vm.Add: true, vm.Sub: true, vm.Neg: true, vm.Eq: true, vm.Gt: true, vm.Lt: true,
	vm.And: true, vm.Or: true, vm.Not: true, vm.ShiftLeft: true, vm.ShiftRight: true,
}

func (w *VMWriter) WriteArithmetic(op vm.ArithOpType) error {
	if !arithOpcodes[op] {
		return fmt.Errorf("vmwriter: unknown arithmetic opcode %q", op)
	}
	w.module = append(w.module, vm.ArithmeticOp{Operation: op})
	return nil
}

func (w *VMWriter) WriteLabel(name string) {
	w.module = append(w.module, vm.LabelDecl{Name: name})
}

func (w *VMWriter) WriteGoto(name string) {
	w.module = append(w.module, vm.GotoOp{Jump: vm.Unconditional, Label: name})
}

func (w *VMWriter) WriteIf(name string) {
	w.module = append(w.module, vm.GotoOp{Jump: vm.Conditional, Label: name})
}

func (w *VMWriter) WriteCall(name string, nArgs uint8) {
	w.module = append(w.module, vm.FuncCallOp{Name: name, NArgs: nArgs})
}

func (w *VMWriter) WriteFunction(name string, nLocal uint16) {
	w.module = append(w.module, vm.FuncDecl{Name: name, NLocal: nLocal})
}

func (w *VMWriter) WriteReturn() {
	w.module = append(w.module, vm.ReturnOp{})
}
