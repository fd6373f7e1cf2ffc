package macro

import (
	"testing"

	"igemmgen/internal/compile/author/asm"
)

func double(kind Kind) *Macro {
	return New(kind, ".v_double", []Formal{
		Reg("v_dst", asm.VGPR),
		Regs("v_src", asm.VGPR, 2),
		Imm("k"),
	}, func(a []asm.Operand) asm.Gen {
		dst, src := a[0].(asm.Reg), a[1].(asm.Reg)
		return asm.Seq{
			asm.Op("v_add_u32").Of(dst, src.At(0), src.At(1)),
			asm.Op("v_lshlrev_b32").Of(dst, a[2], dst),
		}
	})
}

func TestInlineAndLabeled(t *testing.T) {
	dst := asm.Reg{File: asm.VGPR, Sym: "v_tmp"}
	src := asm.Reg{File: asm.VGPR, Sym: "v_a", Off: 2, N: 2}
	inline := string(asm.Text(double(Inline).Call(dst, src, asm.Imm(1))))
	wantInline := "    v_add_u32 v[v_tmp], v[v_a+2], v[v_a+3]\n" +
		"    v_lshlrev_b32 v[v_tmp], 1, v[v_tmp]\n"
	if inline != wantInline {
		t.Errorf("inline:\n%s", inline)
	}
	lab := double(Labeled)
	call := lab.Call(dst, src, asm.Imm(1))
	if got := string(asm.Text(call)); got != "    .v_double v_tmp, v_a+2, 1\n" {
		t.Errorf("call %q", got)
	}
	if got := string(asm.Text(call.(asm.Expander).Expand())); got != wantInline {
		t.Errorf("expansion:\n%s", got)
	}
	wantDef := ".macro .v_double v_dst, v_src, k\n" +
		"    v_add_u32 v[\\v_dst], v[\\v_src], v[\\v_src+1]\n" +
		"    v_lshlrev_b32 v[\\v_dst], \\k, v[\\v_dst]\n" +
		".endm\n"
	if got := string(asm.Text(lab.Def())); got != wantDef {
		t.Errorf("def:\n%s", got)
	}
	if double(Inline).Def() != nil {
		t.Error("inline macro has a definition")
	}
	if n := len(asm.Insts(asm.Seq{call, call})); n != 4 {
		t.Errorf("%d insts", n)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.Add(double(Labeled))
	if b := r.Add(double(Labeled)); b != a {
		t.Error("same macro registered twice")
	}
	r.Add(double(Inline).rename(".v_other"))
	if got := r.Labeled(); len(got) != 1 || got[0] != ".v_double" {
		t.Errorf("labeled %v", got)
	}
	defer func() {
		if recover() == nil {
			t.Error("conflicting bodies accepted")
		}
	}()
	r.Add(New(Labeled, ".v_double", nil, func([]asm.Operand) asm.Gen { return nil }))
}

func (m *Macro) rename(name string) *Macro {
	c := *m
	c.name = name
	return &c
}

func TestCallChecksArguments(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("scalar passed for a vector formal")
		}
	}()
	double(Inline).Call(asm.Reg{File: asm.SGPR}, asm.Reg{File: asm.VGPR, N: 2}, asm.Imm(0))
}
