package gpr

import (
	"fmt"

	"igemmgen/internal/compile/author/asm"
)

// Sym is a named register range. An alias shares slots of an earlier
// symbol instead of taking new ones.
type Sym struct {
	Name  string
	Index int
	Len   int
	File  asm.File
	Alias *Sym
}

func (s *Sym) Reg() asm.Reg {
	return asm.Reg{File: s.File, Sym: s.Name, N: s.Len}
}

func (s *Sym) At(i int) asm.Reg {
	return s.Reg().At(i)
}

func (s *Sym) Span(i, n int) asm.Reg {
	return s.Reg().Span(i, n)
}

func (s *Sym) End() int { return s.Index + s.Len }

// Seq hands out consecutive slots.
type Seq struct {
	next int
}

func (q *Seq) Take(n, align int) int {
	if n < 1 || align < 1 {
		panic("bug")
	}
	if r := q.next % align; r != 0 {
		q.next += align - r
	}
	at := q.next
	q.next += n
	return at
}

func (q *Seq) Next() int { return q.next }

// Table is the ordered registry of one register file's symbols.
type Table struct {
	file   asm.File
	seq    Seq
	syms   []*Sym
	byName map[string]*Sym
	end    string
}

func NewTable(file asm.File, end string) *Table {
	return &Table{
		file:   file,
		byName: make(map[string]*Sym),
		end:    end,
	}
}

func (t *Table) add(s *Sym) *Sym {
	if _, dup := t.byName[s.Name]; dup {
		panic("bug: " + s.Name + " declared twice")
	}
	t.syms = append(t.syms, s)
	t.byName[s.Name] = s
	return s
}

func (t *Table) Alloc(name string, n int) *Sym {
	return t.AllocAligned(name, n, 1)
}

func (t *Table) AllocAligned(name string, n, align int) *Sym {
	return t.add(&Sym{
		Name:  name,
		Index: t.seq.Take(n, align),
		Len:   n,
		File:  t.file,
	})
}

// Alias declares name as n slots of of, starting off slots in.
func (t *Table) Alias(name string, of *Sym, off, n int) *Sym {
	if off < 0 || n < 1 || off+n > of.Len {
		panic("bug: alias " + name + " outside " + of.Name)
	}
	return t.add(&Sym{
		Name:  name,
		Index: of.Index + off,
		Len:   n,
		File:  t.file,
		Alias: of,
	})
}

func (t *Table) Count() int { return t.seq.Next() }

func (t *Table) Syms() []*Sym { return t.syms }

func (t *Table) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

func (t *Table) Lookup(name string) *Sym {
	s := t.byName[name]
	if s == nil {
		panic("bug: no symbol " + name)
	}
	return s
}

// Values maps every symbol name to its first slot.
func (t *Table) Values(into map[string]int) {
	for _, s := range t.syms {
		into[s.Name] = s.Index
	}
	into[t.end] = t.Count()
}

func (t *Table) Decls() asm.Gen {
	to := make(asm.Seq, 0, len(t.syms)+1)
	for _, s := range t.syms {
		to = append(to, asm.Set{Sym: s.Name, Value: s.Index})
	}
	return append(to, asm.Set{Sym: t.end, Value: t.Count()})
}

// Check verifies that allocated ranges are strictly increasing and
// disjoint and that every alias lies inside the range it names.
func (t *Table) Check() error {
	prev := 0
	for _, s := range t.syms {
		if s.Alias != nil {
			a := s.Alias
			if s.Index < a.Index || s.End() > a.End() {
				return fmt.Errorf("%s [%d,%d) escapes %s [%d,%d)",
					s.Name, s.Index, s.End(), a.Name, a.Index, a.End())
			}
			continue
		}
		if s.Index < prev {
			return fmt.Errorf("%s at %d overlaps slots below %d", s.Name, s.Index, prev)
		}
		prev = s.End()
	}
	if prev > t.Count() {
		return fmt.Errorf("%s is %d but slots reach %d", t.end, t.Count(), prev)
	}
	return nil
}
