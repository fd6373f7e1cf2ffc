package layout

import (
	"igemmgen/internal/compile/author/asm"
)

type ArgKind int

const (
	GlobalBuffer ArgKind = iota
	ByValue
)

// Arg is one field of the kernel argument blob.
type Arg struct {
	Name   string
	Size   int
	Offset int
	Kind   ArgKind
}

// Karg is the fixed byte layout of the kernel arguments. The magic
// division fields only ever append.
type Karg struct {
	args   []Arg
	byName map[string]int
	size   int
}

var pointers = []string{"p_in", "p_wei", "p_out"}

var shape = []string{
	"hi", "wi", "n", "k", "c", "ho", "wo",
	"stride_h", "stride_w", "dilation_h", "dilation_w",
	"pad_h", "pad_w", "y", "x", "group",
}

var magics = []string{
	"magic_0", "magic_1", "magic_2", "magic_3", "magic_4", "magic_5", "magic_6",
	"shift_pack_0", "shift_pack_1", "__pack_0",
}

func PlanKarg(magic bool) *Karg {
	k := &Karg{byName: make(map[string]int)}
	for _, name := range pointers {
		k.add(name, 8, GlobalBuffer)
	}
	for _, name := range shape {
		k.add(name, 4, ByValue)
	}
	if magic {
		for _, name := range magics {
			k.add(name, 4, ByValue)
		}
	}
	return k
}

func (k *Karg) add(name string, size int, kind ArgKind) {
	k.byName[name] = len(k.args)
	k.args = append(k.args, Arg{Name: name, Size: size, Offset: k.size, Kind: kind})
	k.size += size
}

func (k *Karg) Args() []Arg { return k.args }

// Size is the blob size in bytes.
func (k *Karg) Size() int { return k.size }

func (k *Karg) Offset(name string) int {
	i, ok := k.byName[name]
	if !ok {
		panic("bug: no kernel argument " + name)
	}
	return k.args[i].Offset
}

// Sym is the symbolic offset of name, for s_load immediates.
func (k *Karg) Sym(name string) asm.SymImm {
	k.Offset(name)
	return asm.SymImm("k_" + name)
}

func (k *Karg) Decls() asm.Gen {
	to := make(asm.Seq, 0, len(k.args)+1)
	for _, a := range k.args {
		to = append(to, asm.Set{Sym: "k_" + a.Name, Value: a.Offset})
	}
	return append(to, asm.Set{Sym: "k_end", Value: k.size})
}

func (k *Karg) Values(into map[string]int) {
	for _, a := range k.args {
		into["k_"+a.Name] = a.Offset
	}
	into["k_end"] = k.size
}
