package asm

import "testing"

func TestRegAppend(t *testing.T) {
	cases := []struct {
		reg  Reg
		want string
	}{
		{Reg{File: VGPR}, "v0"},
		{Reg{File: SGPR, Off: 2}, "s2"},
		{Reg{File: SGPR, Sym: "s_hi"}, "s[s_hi]"},
		{Reg{File: VGPR, Sym: "v_tmp", Off: 3}, "v[v_tmp+3]"},
		{Reg{File: SGPR, Sym: "s_p_in", N: 4}, "s[s_p_in:s_p_in+3]"},
		{Reg{File: AGPR, Sym: "a_c", Off: 16, N: 16}, "a[a_c+16:a_c+31]"},
		{Reg{File: SGPR, N: 2}, "s[0:1]"},
		{FormalReg(VGPR, "v_os", 1).At(1), `v[\v_os+1]`},
	}
	for _, c := range cases {
		if got := string(c.reg.Append(nil)); got != c.want {
			t.Errorf("%+v: got %q, want %q", c.reg, got, c.want)
		}
	}
}

func TestInstAppend(t *testing.T) {
	in := Op("buffer_load_dword").Of(
		Reg{File: VGPR, Sym: "v_gld_a"},
		Reg{File: VGPR, Sym: "v_in_os"},
		Reg{File: SGPR, Sym: "s_p_in", N: 4},
		Imm(0),
	).With("offen", "offset:16")
	want := "    buffer_load_dword v[v_gld_a], v[v_in_os], s[s_p_in:s_p_in+3], 0 offen offset:16\n"
	if got := string(Text(in)); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	in = Op("s_load_dwordx2").Of(Reg{File: SGPR, Sym: "s_p_in", N: 2}, Reg{File: SGPR, Sym: "s_ka", N: 2}, SymImm("k_p_in"))
	want = "    s_load_dwordx2 s[s_p_in:s_p_in+1], s[s_ka:s_ka+1], 0+k_p_in\n"
	if got := string(Text(in)); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWithDoesNotAlias(t *testing.T) {
	base := Op("ds_write_b32").Of(Reg{File: VGPR}).With("offset:4")
	a := base.With("x")
	b := base.With("y")
	if a.Mods[1] != "x" || b.Mods[1] != "y" {
		t.Fatalf("mods alias: %v %v", a.Mods, b.Mods)
	}
}

type wrap struct{ inner Gen }

func (w wrap) Append(to []byte) []byte { return append(to, "call\n"...) }
func (w wrap) Expand() Gen             { return w.inner }

func TestInsts(t *testing.T) {
	mov := Op("v_mov_b32").Of(Reg{File: VGPR, Off: 1}, Imm(0))
	tree := Seq{
		Comment{"x"},
		mov,
		Seq{Label("L"), wrap{Seq{mov, mov}}},
		nil,
	}
	if got := len(Insts(tree)); got != 3 {
		t.Fatalf("got %d insts, want 3", got)
	}
}

func TestDirectiveAndSet(t *testing.T) {
	got := string(Text(Seq{
		Directive{Name: "globl", Args: []string{"k"}},
		Set{Sym: "s_ka", Value: 0},
		Comment{"a", ""},
	}))
	want := ".globl k\n.set s_ka, 0\n; a\n;\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
