package jack

import (
	"fmt"
	"strings"

	"n2t.dev/toolchain/pkg/utils"
)

// Symbol resolution for Jack follows the classic two-scope model: a class scope (holding
// 'field' and 'static' variables, alive for the whole class) and a subroutine scope (holding
// 'argument' and 'local' variables, alive only within the current method/function/constructor).
// Re-declaring a name inside an inner scope shadows the outer one; the compiler only ever
// asks for the current class/subroutine pair, it never needs to look further up a call stack.
type Scope struct {
	name    string
	entries utils.Stack[Variable]
}

type SymbolTable struct {
	static utils.Stack[Variable]

	local     Scope
	field     Scope
	parameter Scope
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		static:    utils.Stack[Variable]{},
		local:     Scope{},
		field:     Scope{},
		parameter: Scope{},
	}
}

func (st *SymbolTable) PushClassScope(class string) {
	newScope := fmt.Sprintf("%s.Global", class)
	st.field = Scope{name: newScope, entries: utils.Stack[Variable]{}}
}

func (st *SymbolTable) PopClassScope() { st.field = Scope{} }

func (st *SymbolTable) PushSubRoutineScope(method string) {
	newScope := strings.ReplaceAll(st.GetScope(), "Global", method)
	st.local = Scope{name: newScope, entries: utils.Stack[Variable]{}}
	st.parameter = Scope{name: newScope, entries: utils.Stack[Variable]{}}
}

func (st *SymbolTable) PopSubroutineScope() { st.local, st.parameter = Scope{}, Scope{} }

func (st *SymbolTable) GetScope() string {
	if st.local.name != "" && st.parameter.name != "" {
		return st.local.name
	}

	if st.field.name != "" {
		return st.field.name
	}

	return "Global"
}

// RegisterVariable records a freshly declared variable in the scope implied by its own
// 'Type' (field/static go to the class scope, local/parameter to the subroutine scope).
func (st *SymbolTable) RegisterVariable(new Variable) {
	switch new.Type {
	case Local:
		st.local.entries.Push(new)
	case Field:
		st.field.entries.Push(new)
	case Parameter:
		st.parameter.entries.Push(new)
	case Static:
		st.static.Push(new)
	}
}

// CountOf reports how many variables of a given kind are currently registered, used to size
// a constructor's 'Memory.alloc' call.
func (st *SymbolTable) CountOf(kind VarType) uint16 {
	switch kind {
	case Local:
		return uint16(st.local.entries.Count())
	case Field:
		return uint16(st.field.entries.Count())
	case Parameter:
		return uint16(st.parameter.entries.Count())
	case Static:
		return uint16(st.static.Count())
	default:
		return 0
	}
}

// ResolveVariable looks a name up across every live scope, innermost first, so that a local
// variable or parameter shadows a field, which in turn shadows a static of the same name.
func (st *SymbolTable) ResolveVariable(name string) (uint16, Variable, error) {
	scopes := []utils.Stack[Variable]{st.local.entries, st.parameter.entries, st.field.entries, st.static}

	for _, scope := range scopes {
		for idx, entry := range scope.Iterator() {
			if entry.Name == name {
				return uint16(idx), entry, nil
			}
		}
	}

	return 0, Variable{}, fmt.Errorf("variable '%s' undeclared, not found in any scope", name)
}
