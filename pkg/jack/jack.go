package jack

// ----------------------------------------------------------------------------
// General information

// This section contains some general information about the Jack programming language.
//
// A program is basically a container of classes (the only top-level object allowed) and
// execution starts by locating the Main class and calling its 'main' function. Each class
// is compiled, independently of the others, straight down to a 'vm.Module': there is no
// shared intermediate tree for the whole program, every class carries its own Tokenizer,
// SymbolTable and VMWriter and is compiled in a single pass over its token stream.

// ----------------------------------------------------------------------------
// Subroutines

// The three flavours of subroutine a class can declare; each implies a different prologue
// emitted ahead of the subroutine's body (see CompilationEngine.compileSubroutineBody).
type SubroutineKind string

const (
	Method      SubroutineKind = "method"
	Function    SubroutineKind = "function"
	Constructor SubroutineKind = "constructor"
)

// ----------------------------------------------------------------------------
// Variables

// Variables are containers of value, resolved through the SymbolTable by name.
//
// The declared 'Variable' struct accommodates every configuration a name can be declared
// under: static & instance fields at the class scope, local variables & parameters at the
// subroutine scope.
type Variable struct {
	Name      string   // The var name, acts as identifier in the scope it is declared
	Type      VarType  // The variable kind, determines which VM memory segment it lives in
	DataType  DataType // The data type defines how to read or cast the value contained by the variable
	ClassName string   // The additional and specific class type if (DataType = Object)
}

type VarType string // Enum to manage the four kinds of variable the SymbolTable tracks

const (
	Local     VarType = "local"
	Field     VarType = "field"
	Static    VarType = "static"
	Parameter VarType = "parameter"
)

type DataType string // Enum for the built-in Jack types plus the catch-all 'object' (class instance)

const (
	Int    DataType = "int"
	Bool   DataType = "boolean"
	Char   DataType = "char"
	Null   DataType = "null"
	String DataType = "string" // Backed by the 'String' stdlib class, kept distinct for literal typing
	Void   DataType = "void"
	Object DataType = "object"
)
