package macro

import (
	"bytes"

	"igemmgen/internal/compile/author/asm"
)

// Kind says how calls of a macro are emitted.
type Kind int

const (
	// Inline expands the body at every call site.
	Inline Kind = iota

	// Labeled defines the body once as a named .macro and emits calls by
	// name.
	Labeled
)

// Formal is one declared parameter. A register formal of N slots accepts
// any register of the same file; an Imm formal accepts immediates.
type Formal struct {
	Name string
	File asm.File
	N    int
	Imm  bool
}

func (f Formal) arg() asm.Operand {
	if f.Imm {
		return asm.FormalImm(f.Name)
	}
	return asm.FormalReg(f.File, f.Name, f.N)
}

func Reg(name string, file asm.File) Formal {
	return Formal{Name: name, File: file, N: 1}
}

func Regs(name string, file asm.File, n int) Formal {
	return Formal{Name: name, File: file, N: n}
}

func Imm(name string) Formal {
	return Formal{Name: name, Imm: true}
}

// Macro is a named instruction template. Its body is a function of the
// bound arguments, so inline expansion and the .macro definition come
// from the same code.
type Macro struct {
	kind    Kind
	name    string
	formals []Formal
	body    func(args []asm.Operand) asm.Gen
}

func New(kind Kind, name string, formals []Formal, body func([]asm.Operand) asm.Gen) *Macro {
	return &Macro{kind: kind, name: name, formals: formals, body: body}
}

func (m *Macro) Name() string { return m.name }

func (m *Macro) Kind() Kind { return m.kind }

// Call binds args to the formals.
func (m *Macro) Call(args ...asm.Operand) asm.Gen {
	if len(args) != len(m.formals) {
		panic("bug: " + m.name + " arity")
	}
	for i, f := range m.formals {
		r, isReg := args[i].(asm.Reg)
		if f.Imm == isReg || isReg && r.File != f.File {
			panic("bug: " + m.name + " argument " + f.Name)
		}
	}
	if m.kind == Inline {
		return m.body(args)
	}
	return Invocation{m: m, args: args}
}

// Def is the .macro definition, or nil for an inline macro.
func (m *Macro) Def() asm.Gen {
	if m.kind == Inline {
		return nil
	}
	return definition{m}
}

// Body is the template with every formal unbound.
func (m *Macro) Body() asm.Gen {
	args := make([]asm.Operand, len(m.formals))
	for i, f := range m.formals {
		args[i] = f.arg()
	}
	return m.body(args)
}

type definition struct {
	m *Macro
}

func (d definition) Append(to []byte) []byte {
	to = append(to, ".macro "...)
	to = append(to, d.m.name...)
	for i, f := range d.m.formals {
		if i == 0 {
			to = append(to, ' ')
		} else {
			to = append(to, ", "...)
		}
		to = append(to, f.Name...)
	}
	to = append(to, '\n')
	to = d.m.Body().Append(to)
	return append(to, ".endm\n"...)
}

// Invocation is a call of a labeled macro.
type Invocation struct {
	m    *Macro
	args []asm.Operand
}

func (in Invocation) Append(to []byte) []byte {
	to = append(to, "    "...)
	to = append(to, in.m.name...)
	for i, arg := range in.args {
		if i == 0 {
			to = append(to, ' ')
		} else {
			to = append(to, ", "...)
		}
		to = asm.AppendArg(to, arg)
	}
	return append(to, '\n')
}

// Expand is the body with the call's arguments bound.
func (in Invocation) Expand() asm.Gen {
	return in.m.body(in.args)
}

func (in Invocation) Macro() *Macro { return in.m }

// Registry collects the macros of one kernel in first-use order.
type Registry struct {
	list   []*Macro
	byName map[string]*Macro
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Macro)}
}

// Add returns the registered macro of m's name, registering m if it is
// the first. Macros sharing a name must have identical bodies.
func (r *Registry) Add(m *Macro) *Macro {
	if had := r.byName[m.name]; had != nil {
		if !Same(had, m) {
			panic("bug: conflicting bodies for " + m.name)
		}
		return had
	}
	r.byName[m.name] = m
	r.list = append(r.list, m)
	return m
}

func (r *Registry) List() []*Macro { return r.list }

// Defs renders the labeled macros.
func (r *Registry) Defs() asm.Gen {
	var to asm.Seq
	for _, m := range r.list {
		if def := m.Def(); def != nil {
			to = append(to, def, asm.Newline)
		}
	}
	return to
}

// Labeled lists the names of the labeled macros.
func (r *Registry) Labeled() []string {
	var to []string
	for _, m := range r.list {
		if m.kind == Labeled {
			to = append(to, m.name)
		}
	}
	return to
}

func Same(a, b *Macro) bool {
	return a.kind == b.kind && bytes.Equal(asm.Text(a.Def()), asm.Text(b.Def())) &&
		bytes.Equal(asm.Text(a.Body()), asm.Text(b.Body()))
}
