package trace

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/x448/float16"

	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/isa"
)

func v(i int) asm.Reg { return asm.Reg{File: asm.VGPR, Off: i} }

func s(i, n int) asm.Reg { return asm.Reg{File: asm.SGPR, Off: i, N: n} }

func TestScalarCarry(t *testing.T) {
	w := New(nil)
	w.S[0], w.S[1] = 0xfffffff0, 7
	err := w.Run(asm.Seq{
		isa.SAddU32.Of(s(0, 1), s(0, 1), asm.Imm(0x20)),
		isa.SAddcU32.Of(s(1, 1), s(1, 1), asm.Imm(0)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.S[0] != 0x10 || w.S[1] != 8 {
		t.Errorf("got %#x %#x", w.S[0], w.S[1])
	}
}

func TestSymbolsAndKernarg(t *testing.T) {
	w := New(map[string]int{"s_ka": 0, "s_k": 2, "v_x": 5})
	w.Kernarg = make([]byte, 16)
	binary.LittleEndian.PutUint32(w.Kernarg[12:], 96)
	k := asm.Reg{File: asm.SGPR, Sym: "s_k"}
	x := asm.Reg{File: asm.VGPR, Sym: "v_x"}
	err := w.Run(asm.Seq{
		isa.SLoadDword.Of(k, asm.Reg{File: asm.SGPR, Sym: "s_ka", N: 2}, asm.Imm(12)),
		isa.SWaitcnt.Of(asm.Raw("lgkmcnt(0)")),
		isa.VMovB32.Of(x, k),
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.S[2] != 96 || w.V[5][63] != 96 {
		t.Errorf("got %d %d", w.S[2], w.V[5][63])
	}
	binary.LittleEndian.PutUint32(w.Kernarg[12:], 0)
	if err := w.Run(isa.SLoadDword.Of(k, s(0, 2), asm.Imm(16))); err == nil {
		t.Error("read past kernarg")
	}
}

func TestExecMask(t *testing.T) {
	w := New(nil)
	w.Fill(v(0), func(l int) uint32 { return uint32(l) })
	err := w.Run(asm.Seq{
		isa.VCmpxLeU32.Of(isa.VCC, v(0), asm.Imm(9)),
		isa.VMovB32.Of(v(1), asm.Imm(1)),
		isa.SMovB64.Of(isa.Exec, asm.Imm(-1)),
	})
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	for l := 0; l < Lanes; l++ {
		if w.V[1][l] != 0 {
			got = append(got, l)
		}
	}
	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lanes written (-want +got):\n%s", diff)
	}
	if w.Exec != ^uint64(0) {
		t.Errorf("exec %#x", w.Exec)
	}
}

func TestStoreAccesses(t *testing.T) {
	w := New(nil)
	w.Exec = 0b11
	w.Fill(v(0), func(l int) uint32 { return uint32(8 * l) })
	w.Fill(v(1), func(l int) uint32 { return bits(1.5) })
	w.S[8] = 100
	err := w.Run(asm.Seq{
		isa.VCvtF16F32.Of(v(2), v(1)),
		isa.BufferStoreShort.Of(v(2), v(0), s(4, 4), s(8, 1)).With("offen", "offset:6"),
	})
	if err != nil {
		t.Fatal(err)
	}
	h := uint32(float16.Fromfloat32(1.5).Bits())
	want := []Access{
		{Op: isa.BufferStoreShort, Lane: 0, Addr: 106, Data: []uint32{h}},
		{Op: isa.BufferStoreShort, Lane: 1, Addr: 114, Data: []uint32{h}},
	}
	if diff := cmp.Diff(want, w.Accesses); diff != "" {
		t.Errorf("accesses (-want +got):\n%s", diff)
	}
}

func TestNotModelled(t *testing.T) {
	w := New(nil)
	err := w.Run(asm.Op("s_cbranch_scc0").Of(asm.Raw("L_end")))
	if err == nil || !strings.Contains(err.Error(), "s_cbranch_scc0") {
		t.Errorf("got %v", err)
	}
}
