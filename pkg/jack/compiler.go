package jack

import (
	"fmt"

	"n2t.dev/toolchain/pkg/vm"
)

// CompilationEngine is a single-pass recursive-descent compiler: every nonterminal both
// consumes tokens off the Tokenizer and emits VM code through the VMWriter as it goes —
// there is no separate AST built in between.
type CompilationEngine struct {
	tokens  *Tokenizer
	symbols *SymbolTable
	writer  *VMWriter

	className string

	ifCounter, whileCounter int
}

func NewCompilationEngine(source string) *CompilationEngine {
	return &CompilationEngine{
		tokens:  NewTokenizer(source),
		symbols: NewSymbolTable(),
		writer:  NewVMWriter(),
	}
}

// Compile runs the engine over the whole token stream and returns the VM module
// produced for the single class the source file declares.
func (ce *CompilationEngine) Compile() (vm.Module, string, error) {
	if !ce.tokens.Advance() {
		return nil, "", fmt.Errorf("compiler: empty source, no 'class' declaration found")
	}
	if err := ce.compileClass(); err != nil {
		return nil, "", err
	}
	return ce.writer.Module(), ce.className, nil
}

// ----------------------------------------------------------------------------
// Class-level

func (ce *CompilationEngine) compileClass() error {
	if err := ce.expectKeyword("class"); err != nil {
		return err
	}
	ce.tokens.Advance()
	name, err := ce.tokens.Identifier()
	if err != nil {
		return fmt.Errorf("compiler: expected class name: %w", err)
	}
	ce.className = name
	ce.symbols.PushClassScope(name)
	defer ce.symbols.PopClassScope()

	ce.tokens.Advance()
	if err := ce.expectSymbol('{'); err != nil {
		return err
	}

classBody:
	for ce.tokens.Advance() {
		kw, isKeyword := ce.peekKeyword()
		if !isKeyword {
			break
		}
		switch kw {
		case "static", "field":
			if err := ce.compileClassVarDec(); err != nil {
				return err
			}
		case "constructor", "function", "method":
			if err := ce.compileSubroutineDec(); err != nil {
				return err
			}
		default:
			break classBody
		}
	}

	return ce.expectSymbol('}')
}

func (ce *CompilationEngine) compileClassVarDec() error {
	kind, err := ce.tokens.Keyword()
	if err != nil {
		return err
	}
	varType := Field
	if kind == "static" {
		varType = Static
	}

	ce.tokens.Advance()
	dataType, className, err := ce.compileType()
	if err != nil {
		return err
	}

	for {
		ce.tokens.Advance()
		name, err := ce.tokens.Identifier()
		if err != nil {
			return fmt.Errorf("compiler: expected variable name in %s declaration: %w", kind, err)
		}
		ce.symbols.RegisterVariable(Variable{Name: name, Type: varType, DataType: dataType, ClassName: className})

		ce.tokens.Advance()
		sym, err := ce.tokens.Symbol()
		if err != nil {
			return fmt.Errorf("compiler: expected ',' or ';' after variable name: %w", err)
		}
		if sym == ';' {
			return nil
		}
		if sym != ',' {
			return fmt.Errorf("compiler: expected ',' or ';', got %q", sym)
		}
	}
}

// compileType consumes the current token as a Jack type (a primitive keyword or a
// class identifier) and returns its DataType plus, for object types, the class name.
func (ce *CompilationEngine) compileType() (DataType, string, error) {
	if kw, err := ce.tokens.Keyword(); err == nil {
		switch kw {
		case "int":
			return Int, "", nil
		case "char":
			return Char, "", nil
		case "boolean":
			return Bool, "", nil
		case "void":
			return Void, "", nil
		}
		return "", "", fmt.Errorf("compiler: unexpected keyword %q used as a type", kw)
	}
	ident, err := ce.tokens.Identifier()
	if err != nil {
		return "", "", fmt.Errorf("compiler: expected a type: %w", err)
	}
	return Object, ident, nil
}

// ----------------------------------------------------------------------------
// Subroutines

func (ce *CompilationEngine) compileSubroutineDec() error {
	kw, _ := ce.tokens.Keyword()
	kind := SubroutineKind(kw)

	ce.tokens.Advance()
	_, _, err := ce.compileType() // return type, not otherwise needed for code generation
	if err != nil {
		return err
	}

	ce.tokens.Advance()
	name, err := ce.tokens.Identifier()
	if err != nil {
		return fmt.Errorf("compiler: expected subroutine name: %w", err)
	}

	ce.symbols.PushSubRoutineScope(name)
	defer ce.symbols.PopSubroutineScope()
	ce.ifCounter, ce.whileCounter = 0, 0

	if kind == Method {
		// Slot 0 of the argument segment is reserved for the implicit receiver;
		// declared parameters are numbered starting from 1.
		ce.symbols.RegisterVariable(Variable{Name: "this", Type: Parameter, DataType: Object, ClassName: ce.className})
	}

	ce.tokens.Advance()
	if err := ce.expectSymbol('('); err != nil {
		return err
	}
	ce.tokens.Advance()
	if err := ce.compileParameterList(); err != nil {
		return err
	}
	if err := ce.expectSymbol(')'); err != nil {
		return err
	}

	ce.tokens.Advance()
	return ce.compileSubroutineBody(kind, name)
}

func (ce *CompilationEngine) compileParameterList() error {
	if sym, err := ce.tokens.Symbol(); err == nil && sym == ')' {
		return nil // empty parameter list
	}

	for {
		dataType, className, err := ce.compileType()
		if err != nil {
			return err
		}
		ce.tokens.Advance()
		name, err := ce.tokens.Identifier()
		if err != nil {
			return fmt.Errorf("compiler: expected parameter name: %w", err)
		}
		ce.symbols.RegisterVariable(Variable{Name: name, Type: Parameter, DataType: dataType, ClassName: className})

		ce.tokens.Advance()
		sym, err := ce.tokens.Symbol()
		if err != nil {
			return fmt.Errorf("compiler: expected ',' or ')' after parameter: %w", err)
		}
		if sym == ')' {
			return nil
		}
		if sym != ',' {
			return fmt.Errorf("compiler: expected ',' or ')', got %q", sym)
		}
		ce.tokens.Advance()
	}
}

func (ce *CompilationEngine) compileSubroutineBody(kind SubroutineKind, name string) error {
	if err := ce.expectSymbol('{'); err != nil {
		return err
	}

	var nLocal uint16
	for ce.tokens.Advance() {
		if kw, ok := ce.peekKeyword(); ok && kw == "var" {
			n, err := ce.compileVarDec()
			if err != nil {
				return err
			}
			nLocal += n
			continue
		}
		break
	}

	ce.writer.WriteFunction(fmt.Sprintf("%s.%s", ce.className, name), nLocal)

	switch kind {
	case Method:
		if err := ce.writer.WritePush(vm.Argument, 0); err != nil {
			return err
		}
		if err := ce.writer.WritePop(vm.Pointer, 0); err != nil {
			return err
		}
	case Constructor:
		if err := ce.writer.WritePush(vm.Constant, ce.symbols.CountOf(Field)); err != nil {
			return err
		}
		ce.writer.WriteCall("Memory.alloc", 1)
		if err := ce.writer.WritePop(vm.Pointer, 0); err != nil {
			return err
		}
	}

	if err := ce.compileStatements(); err != nil {
		return err
	}
	return ce.expectSymbol('}')
}

// compileVarDec consumes a single 'var type name (, name)*;' declaration and returns
// how many local slots it introduced.
func (ce *CompilationEngine) compileVarDec() (uint16, error) {
	ce.tokens.Advance()
	dataType, className, err := ce.compileType()
	if err != nil {
		return 0, err
	}

	var count uint16
	for {
		ce.tokens.Advance()
		name, err := ce.tokens.Identifier()
		if err != nil {
			return 0, fmt.Errorf("compiler: expected variable name in 'var' declaration: %w", err)
		}
		ce.symbols.RegisterVariable(Variable{Name: name, Type: Local, DataType: dataType, ClassName: className})
		count++

		ce.tokens.Advance()
		sym, err := ce.tokens.Symbol()
		if err != nil {
			return 0, fmt.Errorf("compiler: expected ',' or ';' after variable name: %w", err)
		}
		if sym == ';' {
			return count, nil
		}
		if sym != ',' {
			return 0, fmt.Errorf("compiler: expected ',' or ';', got %q", sym)
		}
	}
}

// ----------------------------------------------------------------------------
// Statements

func (ce *CompilationEngine) compileStatements() error {
	for {
		kw, ok := ce.peekKeyword()
		if !ok {
			return nil
		}

		switch kw {
		case "let":
			if err := ce.compileLet(); err != nil {
				return err
			}
			ce.tokens.Advance()
		case "if":
			// compileIf already leaves the cursor on the token after itself.
			if err := ce.compileIf(); err != nil {
				return err
			}
		case "while":
			if err := ce.compileWhile(); err != nil {
				return err
			}
			ce.tokens.Advance()
		case "do":
			if err := ce.compileDo(); err != nil {
				return err
			}
			ce.tokens.Advance()
		case "return":
			if err := ce.compileReturn(); err != nil {
				return err
			}
			ce.tokens.Advance()
		default:
			return nil
		}
	}
}

func (ce *CompilationEngine) compileLet() error {
	ce.tokens.Advance()
	name, err := ce.tokens.Identifier()
	if err != nil {
		return fmt.Errorf("compiler: expected variable name after 'let': %w", err)
	}

	ce.tokens.Advance()
	sym, err := ce.tokens.Symbol()
	if err != nil {
		return fmt.Errorf("compiler: expected '=' or '[' after 'let' target: %w", err)
	}

	if sym == '[' {
		// let var[i] = expr; — compute var+i first, leaving it safe from expr's own use
		// of 'pointer 1', then compile expr, then pop through temp 0 per the canonical
		// sequence: pop temp 0; pop pointer 1; push temp 0; pop that 0.
		if err := ce.pushVariable(name); err != nil {
			return err
		}
		ce.tokens.Advance()
		if err := ce.compileExpression(); err != nil {
			return err
		}
		if err := ce.expectSymbol(']'); err != nil {
			return err
		}
		if err := ce.writer.WriteArithmetic(vm.Add); err != nil {
			return err
		}

		ce.tokens.Advance()
		if err := ce.expectSymbol('='); err != nil {
			return err
		}
		ce.tokens.Advance()
		if err := ce.compileExpression(); err != nil {
			return err
		}
		if err := ce.expectSymbol(';'); err != nil {
			return err
		}

		if err := ce.writer.WritePop(vm.Temp, 0); err != nil {
			return err
		}
		if err := ce.writer.WritePop(vm.Pointer, 1); err != nil {
			return err
		}
		if err := ce.writer.WritePush(vm.Temp, 0); err != nil {
			return err
		}
		return ce.writer.WritePop(vm.That, 0)
	}

	if sym != '=' {
		return fmt.Errorf("compiler: expected '=' after 'let' target, got %q", sym)
	}
	ce.tokens.Advance()
	if err := ce.compileExpression(); err != nil {
		return err
	}
	if err := ce.expectSymbol(';'); err != nil {
		return err
	}
	return ce.popVariable(name)
}

func (ce *CompilationEngine) compileIf() error {
	n := ce.ifCounter
	ce.ifCounter++
	falseLabel, endLabel := fmt.Sprintf("IF_FALSE%d", n), fmt.Sprintf("IF_END%d", n)

	ce.tokens.Advance()
	if err := ce.expectSymbol('('); err != nil {
		return err
	}
	ce.tokens.Advance()
	if err := ce.compileExpression(); err != nil {
		return err
	}
	if err := ce.expectSymbol(')'); err != nil {
		return err
	}
	if err := ce.writer.WriteArithmetic(vm.Not); err != nil {
		return err
	}
	ce.writer.WriteIf(falseLabel)

	ce.tokens.Advance()
	if err := ce.expectSymbol('{'); err != nil {
		return err
	}
	ce.tokens.Advance()
	if err := ce.compileStatements(); err != nil {
		return err
	}
	if err := ce.expectSymbol('}'); err != nil {
		return err
	}

	hasElse := false
	if ce.tokens.Advance() {
		if kw, ok := ce.peekKeyword(); ok && kw == "else" {
			hasElse = true
		}
	}

	if hasElse {
		ce.writer.WriteGoto(endLabel)
		ce.writer.WriteLabel(falseLabel)

		ce.tokens.Advance()
		if err := ce.expectSymbol('{'); err != nil {
			return err
		}
		ce.tokens.Advance()
		if err := ce.compileStatements(); err != nil {
			return err
		}
		if err := ce.expectSymbol('}'); err != nil {
			return err
		}
		ce.writer.WriteLabel(endLabel)
		ce.tokens.Advance()
	} else {
		ce.writer.WriteLabel(falseLabel)
		// cursor is already sitting on the token after the then-block's '}'
	}

	return nil
}

func (ce *CompilationEngine) compileWhile() error {
	n := ce.whileCounter
	ce.whileCounter++
	expLabel, endLabel := fmt.Sprintf("WHILE_EXP%d", n), fmt.Sprintf("WHILE_END%d", n)

	ce.writer.WriteLabel(expLabel)

	ce.tokens.Advance()
	if err := ce.expectSymbol('('); err != nil {
		return err
	}
	ce.tokens.Advance()
	if err := ce.compileExpression(); err != nil {
		return err
	}
	if err := ce.expectSymbol(')'); err != nil {
		return err
	}
	if err := ce.writer.WriteArithmetic(vm.Not); err != nil {
		return err
	}
	ce.writer.WriteIf(endLabel)

	ce.tokens.Advance()
	if err := ce.expectSymbol('{'); err != nil {
		return err
	}
	ce.tokens.Advance()
	if err := ce.compileStatements(); err != nil {
		return err
	}
	if err := ce.expectSymbol('}'); err != nil {
		return err
	}

	ce.writer.WriteGoto(expLabel)
	ce.writer.WriteLabel(endLabel)
	return nil
}

func (ce *CompilationEngine) compileDo() error {
	ce.tokens.Advance()
	name, err := ce.tokens.Identifier()
	if err != nil {
		return fmt.Errorf("compiler: expected subroutine call after 'do': %w", err)
	}
	ce.tokens.Advance()
	if err := ce.compileSubroutineCall(name); err != nil {
		return err
	}
	if err := ce.expectSymbol(';'); err != nil {
		return err
	}
	// Every call leaves a value on the stack (void subroutines push constant 0); a 'do'
	// statement discards it.
	return ce.writer.WritePop(vm.Temp, 0)
}

func (ce *CompilationEngine) compileReturn() error {
	ce.tokens.Advance()
	if sym, err := ce.tokens.Symbol(); err == nil && sym == ';' {
		if err := ce.writer.WritePush(vm.Constant, 0); err != nil {
			return err
		}
		ce.writer.WriteReturn()
		return nil
	}

	if err := ce.compileExpression(); err != nil {
		return err
	}
	if err := ce.expectSymbol(';'); err != nil {
		return err
	}
	ce.writer.WriteReturn()
	return nil
}

// ----------------------------------------------------------------------------
// Expressions

var binaryOps = map[rune]vm.ArithOpType{
	'+': vm.Add, '-': vm.Sub, '&': vm.And, '|': vm.Or, '<': vm.Lt, '>': vm.Gt, '=': vm.Eq,
}

func (ce *CompilationEngine) compileExpression() error {
	if err := ce.compileTerm(); err != nil {
		return err
	}

	for {
		sym, err := ce.tokens.Symbol()
		if err != nil {
			return nil // not a symbol at all, expression ends here
		}

		switch sym {
		case '*':
			ce.tokens.Advance()
			if err := ce.compileTerm(); err != nil {
				return err
			}
			ce.writer.WriteCall("Math.multiply", 2)
		case '/':
			ce.tokens.Advance()
			if err := ce.compileTerm(); err != nil {
				return err
			}
			ce.writer.WriteCall("Math.divide", 2)
		default:
			op, isBinOp := binaryOps[sym]
			if !isBinOp {
				return nil
			}
			ce.tokens.Advance()
			if err := ce.compileTerm(); err != nil {
				return err
			}
			if err := ce.writer.WriteArithmetic(op); err != nil {
				return err
			}
		}
	}
}

var unaryOps = map[rune]vm.ArithOpType{
	'-': vm.Neg, '~': vm.Not, '^': vm.ShiftLeft, '#': vm.ShiftRight,
}

func (ce *CompilationEngine) compileTerm() error {
	t := ce.tokens.Current()

	switch t.Type {
	case IntConstToken:
		ce.tokens.Advance()
		return ce.writer.WritePush(vm.Constant, t.IntVal)

	case StringConstText:
		ce.tokens.Advance()
		return ce.compileStringLiteral(t.StrVal)

	case KeywordToken:
		return ce.compileKeywordTerm(t.Keyword)

	case SymbolToken:
		switch t.Symbol {
		case '(':
			ce.tokens.Advance()
			if err := ce.compileExpression(); err != nil {
				return err
			}
			if err := ce.expectSymbol(')'); err != nil {
				return err
			}
			ce.tokens.Advance()
			return nil
		default:
			op, isUnary := unaryOps[t.Symbol]
			if !isUnary {
				return fmt.Errorf("compiler: unexpected symbol %q at start of term", t.Symbol)
			}
			ce.tokens.Advance()
			if err := ce.compileTerm(); err != nil {
				return err
			}
			return ce.writer.WriteArithmetic(op)
		}

	case IdentifierToken:
		name := t.Ident
		next, hasNext := ce.tokens.Peek()

		if hasNext && next.Type == SymbolToken && next.Symbol == '[' {
			ce.tokens.Advance() // consume '['
			ce.tokens.Advance() // first token of the index expression
			if err := ce.pushVariable(name); err != nil {
				return err
			}
			if err := ce.compileExpression(); err != nil {
				return err
			}
			if err := ce.expectSymbol(']'); err != nil {
				return err
			}
			ce.tokens.Advance()
			if err := ce.writer.WriteArithmetic(vm.Add); err != nil {
				return err
			}
			if err := ce.writer.WritePop(vm.Pointer, 1); err != nil {
				return err
			}
			return ce.writer.WritePush(vm.That, 0)
		}

		if hasNext && next.Type == SymbolToken && (next.Symbol == '(' || next.Symbol == '.') {
			ce.tokens.Advance()
			return ce.compileSubroutineCall(name)
		}

		ce.tokens.Advance()
		return ce.pushVariable(name)
	}

	return fmt.Errorf("compiler: unexpected token type %s in term", t.Type)
}

func (ce *CompilationEngine) compileKeywordTerm(kw string) error {
	switch kw {
	case "true":
		ce.tokens.Advance()
		if err := ce.writer.WritePush(vm.Constant, 0); err != nil {
			return err
		}
		// 'not 0' == -1, the all-ones Hack representation of boolean true.
		return ce.writer.WriteArithmetic(vm.Not)
	case "false", "null":
		ce.tokens.Advance()
		return ce.writer.WritePush(vm.Constant, 0)
	case "this":
		ce.tokens.Advance()
		return ce.writer.WritePush(vm.Pointer, 0)
	}
	return fmt.Errorf("compiler: unexpected keyword %q in term", kw)
}

func (ce *CompilationEngine) compileStringLiteral(s string) error {
	if err := ce.writer.WritePush(vm.Constant, uint16(len(s))); err != nil {
		return err
	}
	ce.writer.WriteCall("String.new", 1)
	for _, r := range s {
		if err := ce.writer.WritePush(vm.Constant, uint16(r)); err != nil {
			return err
		}
		ce.writer.WriteCall("String.appendChar", 2)
	}
	return nil
}

// compileSubroutineCall handles both the implicit-this and qualified forms. 'name' is
// the identifier already consumed; the cursor sits on the following '(' or '.'.
func (ce *CompilationEngine) compileSubroutineCall(name string) error {
	sym, err := ce.tokens.Symbol()
	if err != nil {
		return fmt.Errorf("compiler: expected '(' or '.' in subroutine call: %w", err)
	}

	if sym == '(' {
		// Unqualified call: implicit method call on the current class.
		if err := ce.writer.WritePush(vm.Pointer, 0); err != nil {
			return err
		}
		ce.tokens.Advance()
		nArgs, err := ce.compileExpressionList()
		if err != nil {
			return err
		}
		if err := ce.expectSymbol(')'); err != nil {
			return err
		}
		ce.tokens.Advance()
		ce.writer.WriteCall(fmt.Sprintf("%s.%s", ce.className, name), nArgs+1)
		return nil
	}

	// Qualified call: 'name.member(...)'. 'name' is either a variable (method call on
	// its value) or a class name (plain static call/constructor call).
	ce.tokens.Advance()
	member, err := ce.tokens.Identifier()
	if err != nil {
		return fmt.Errorf("compiler: expected member name after '.': %w", err)
	}
	ce.tokens.Advance()
	if err := ce.expectSymbol('('); err != nil {
		return err
	}

	_, variable, resolveErr := ce.symbols.ResolveVariable(name)
	isVariable := resolveErr == nil

	if isVariable {
		if err := ce.pushVariable(name); err != nil {
			return err
		}
	}

	ce.tokens.Advance()
	nArgs, err := ce.compileExpressionList()
	if err != nil {
		return err
	}
	if err := ce.expectSymbol(')'); err != nil {
		return err
	}
	ce.tokens.Advance()

	if isVariable {
		className := variable.ClassName
		if className == "" {
			className = string(variable.DataType)
		}
		qualified := fmt.Sprintf("%s.%s", className, member)
		if want, isStdlib := StdlibArity[qualified]; isStdlib && int(nArgs) != want {
			return fmt.Errorf("compiler: %s expects %d argument(s), got %d", qualified, want, nArgs)
		}
		ce.writer.WriteCall(qualified, nArgs+1)
	} else {
		qualified := fmt.Sprintf("%s.%s", name, member)
		if want, isStdlib := StdlibArity[qualified]; isStdlib && int(nArgs) != want {
			return fmt.Errorf("compiler: %s expects %d argument(s), got %d", qualified, want, nArgs)
		}
		ce.writer.WriteCall(qualified, nArgs)
	}
	return nil
}

func (ce *CompilationEngine) compileExpressionList() (uint8, error) {
	if sym, err := ce.tokens.Symbol(); err == nil && sym == ')' {
		return 0, nil
	}

	var count uint8
	for {
		if err := ce.compileExpression(); err != nil {
			return 0, err
		}
		count++

		sym, err := ce.tokens.Symbol()
		if err != nil {
			return 0, fmt.Errorf("compiler: expected ',' or ')' in expression list: %w", err)
		}
		if sym == ')' {
			return count, nil
		}
		if sym != ',' {
			return 0, fmt.Errorf("compiler: expected ',' or ')', got %q", sym)
		}
		ce.tokens.Advance()
	}
}

// ----------------------------------------------------------------------------
// Variable access helpers

func segmentOf(kind VarType) vm.SegmentType {
	switch kind {
	case Local:
		return vm.Local
	case Field:
		return vm.This
	case Static:
		return vm.Static
	case Parameter:
		return vm.Argument
	}
	return vm.Constant
}

func (ce *CompilationEngine) pushVariable(name string) error {
	index, variable, err := ce.symbols.ResolveVariable(name)
	if err != nil {
		return fmt.Errorf("compiler: %w", err)
	}
	return ce.writer.WritePush(segmentOf(variable.Type), index)
}

func (ce *CompilationEngine) popVariable(name string) error {
	index, variable, err := ce.symbols.ResolveVariable(name)
	if err != nil {
		return fmt.Errorf("compiler: %w", err)
	}
	return ce.writer.WritePop(segmentOf(variable.Type), index)
}

// ----------------------------------------------------------------------------
// Token helpers

func (ce *CompilationEngine) peekKeyword() (string, bool) {
	if t := ce.tokens.Current(); t.Type == KeywordToken {
		return t.Keyword, true
	}
	return "", false
}

func (ce *CompilationEngine) expectKeyword(want string) error {
	got, err := ce.tokens.Keyword()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("compiler: expected keyword %q, got %q", want, got)
	}
	return nil
}

func (ce *CompilationEngine) expectSymbol(want rune) error {
	got, err := ce.tokens.Symbol()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("compiler: expected symbol %q, got %q", want, got)
	}
	return nil
}
