package asm

import "strconv"

const (
	backslash = `\`
	bracket1  = "["
	bracket2  = "]"
	colon     = ":"
	comma     = ","
	dot       = "."
	empty     = ""
	indent    = "    "
	newline   = "\n"
	plus      = "+"
	semicolon = ";"
	space     = " "
	set       = ".set"
)

type Gen interface {
	Append(to []byte) []byte
}

type Seq []Gen

func (s Seq) Append(to []byte) []byte {
	for _, gen := range s {
		if gen != nil {
			to = gen.Append(to)
		}
	}
	return to
}

var Newline Gen = Blank{}

type Blank struct{}

func (Blank) Append(to []byte) []byte {
	return append(to, newline...)
}

type Comment []string

func (c Comment) Append(to []byte) []byte {
	for _, line := range c {
		to = append(to, semicolon...)
		if line != empty {
			to = append(to, space...)
			to = append(to, line...)
		}
		to = append(to, newline...)
	}
	return to
}

type Label string

func (l Label) Append(to []byte) []byte {
	to = append(to, l...)
	return append(to, colon+newline...)
}

type Directive struct {
	Name string
	Args []string
}

func (d Directive) Append(to []byte) []byte {
	to = append(to, dot...)
	to = append(to, d.Name...)
	for i, arg := range d.Args {
		if i == 0 {
			to = append(to, space...)
		} else {
			to = append(to, comma+space...)
		}
		to = append(to, arg...)
	}
	return append(to, newline...)
}

type Set struct {
	Sym   string
	Value int
}

func (s Set) Append(to []byte) []byte {
	to = append(to, set+space...)
	to = append(to, s.Sym...)
	to = append(to, comma+space...)
	to = strconv.AppendInt(to, int64(s.Value), 10)
	return append(to, newline...)
}

// Text is the raw text of a generator.
func Text(gen Gen) []byte {
	if gen == nil {
		return nil
	}
	return gen.Append(nil)
}

type Op string

func (o Op) Of(args ...Operand) Inst {
	return Inst{Op: o, Args: args}
}

type Inst struct {
	Op   Op
	Args []Operand
	Mods []string
	Note string
}

func (in Inst) Append(to []byte) []byte {
	to = append(to, indent...)
	to = append(to, in.Op...)
	for i, arg := range in.Args {
		if i == 0 {
			to = append(to, space...)
		} else {
			to = append(to, comma+space...)
		}
		to = arg.Append(to)
	}
	for _, mod := range in.Mods {
		to = append(to, space...)
		to = append(to, mod...)
	}
	if in.Note != empty {
		to = append(to, space+semicolon+space...)
		to = append(to, in.Note...)
	}
	return append(to, newline...)
}

func (in Inst) With(mods ...string) Inst {
	in.Mods = append(in.Mods[:len(in.Mods):len(in.Mods)], mods...)
	return in
}

func (in Inst) Noted(note string) Inst {
	in.Note = note
	return in
}

// Expander is implemented by generators that stand for other generators,
// such as a call of a labeled macro.
type Expander interface {
	Expand() Gen
}

// Insts flattens gen into its instructions, expanding macro calls.
func Insts(gen Gen) []Inst {
	var to []Inst
	var walk func(Gen)
	walk = func(gen Gen) {
		switch at := gen.(type) {
		case nil:
		case Inst:
			to = append(to, at)
		case Seq:
			for _, each := range at {
				walk(each)
			}
		case Expander:
			walk(at.Expand())
		}
	}
	walk(gen)
	return to
}
