package asm

import (
	"strconv"
	"strings"
)

type Operand interface {
	Gen
	operand()
}

type File int

const (
	SGPR File = iota
	VGPR
	AGPR
)

var FileStrings = []string{
	SGPR: "s",
	VGPR: "v",
	AGPR: "a",
}

func (f File) String() string { return FileStrings[f] }

// Reg is a register or register range named by a symbol plus an offset.
// An empty Sym addresses the file directly (v0, s2).
type Reg struct {
	File File
	Sym  string
	Off  int
	N    int
}

func (Reg) operand() {}

func (r Reg) Count() int {
	if r.N == 0 {
		return 1
	}
	return r.N
}

func (r Reg) At(i int) Reg {
	return Reg{File: r.File, Sym: r.Sym, Off: r.Off + i, N: 1}
}

func (r Reg) Span(i, n int) Reg {
	return Reg{File: r.File, Sym: r.Sym, Off: r.Off + i, N: n}
}

func (r Reg) Formal() bool {
	return strings.HasPrefix(r.Sym, backslash)
}

func (r Reg) Append(to []byte) []byte {
	n := r.Count()
	to = append(to, r.File.String()...)
	if r.Sym == empty && n == 1 {
		return strconv.AppendInt(to, int64(r.Off), 10)
	}
	to = append(to, bracket1...)
	to = r.ref(to, 0)
	if n > 1 {
		to = append(to, colon...)
		to = r.ref(to, n-1)
	}
	return append(to, bracket2...)
}

func (r Reg) ref(to []byte, i int) []byte {
	off := r.Off + i
	if r.Sym == empty {
		return strconv.AppendInt(to, int64(off), 10)
	}
	to = append(to, r.Sym...)
	if off != 0 {
		to = append(to, plus...)
		to = strconv.AppendInt(to, int64(off), 10)
	}
	return to
}

// Name is the register's symbolic form as written in a macro argument list.
func (r Reg) Name() string {
	return string(r.ref(nil, 0))
}

type Imm int64

func (Imm) operand() {}

func (i Imm) Append(to []byte) []byte {
	return strconv.AppendInt(to, int64(i), 10)
}

type Hex uint32

func (Hex) operand() {}

func (h Hex) Append(to []byte) []byte {
	to = append(to, "0x"...)
	return strconv.AppendUint(to, uint64(h), 16)
}

// SymImm is a symbolic immediate such as a kernel argument offset.
type SymImm string

func (SymImm) operand() {}

func (s SymImm) Append(to []byte) []byte {
	to = append(to, "0"+plus...)
	return append(to, s...)
}

type Special string

func (Special) operand() {}

func (s Special) Append(to []byte) []byte {
	return append(to, s...)
}

type Raw string

func (Raw) operand() {}

func (r Raw) Append(to []byte) []byte {
	return append(to, r...)
}

func FormalReg(f File, name string, n int) Reg {
	return Reg{File: f, Sym: backslash + name, N: n}
}

func FormalImm(name string) Raw {
	return Raw(backslash + name)
}

// AppendArg renders o the way it is passed to a macro.
func AppendArg(to []byte, o Operand) []byte {
	if r, ok := o.(Reg); ok && r.Sym != empty {
		return append(to, r.Name()...)
	}
	if r, ok := o.(Reg); ok {
		return strconv.AppendInt(to, int64(r.Off), 10)
	}
	return o.Append(to)
}
