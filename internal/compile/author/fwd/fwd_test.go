package fwd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/gpr"
	"igemmgen/internal/compile/author/isa"
	"igemmgen/internal/compile/author/layout"
	"igemmgen/internal/compile/author/trace"
	"igemmgen/internal/compile/tunable"
	"igemmgen/internal/raw"
)

// macConfig is a 64-thread block of 64x64x8 with four input rows and
// four weight rows per thread.
func macConfig(magic bool) *tunable.Config {
	return &tunable.Config{
		Prefix: "igemm", Arch: raw.Gfx908, Macros: raw.LabeledMacros, Precision: raw.FP32,
		Nxe: 1, GemmMPerBlock: 64, GemmNPerBlock: 64, GemmKPerBlock: 8,
		TensorAThread: [4]int{1, 2, 4, 1}, TensorACluster: [4]int{1, 4, 1, 16},
		TensorBThread: [4]int{1, 2, 4, 1}, TensorBCluster: [4]int{1, 4, 1, 16},
		LdsBuffers: 2, CoalescingGroups: 1, PrecacheSoffset: true, MagicDivision: magic,
		Mac: &tunable.Mac{MPerThread: 4, MLevel0: 4, MLevel1: 2, NPerThread: 4, NLevel0: 4, NLevel1: 2},
	}
}

// xdlopsConfig is two waves of 32x32x2 along m, a 64x32x8 block.
func xdlopsConfig(magic bool, order int) *tunable.Config {
	return &tunable.Config{
		Prefix: "igemm", Arch: raw.Gfx908, Macros: raw.LabeledMacros, Precision: raw.FP32,
		Nxe: 0, GemmMPerBlock: 64, GemmNPerBlock: 32, GemmKPerBlock: 8,
		TensorAThread: [4]int{1, 2, 2, 1}, TensorACluster: [4]int{1, 4, 1, 32},
		TensorBThread: [4]int{1, 2, 1, 1}, TensorBCluster: [4]int{1, 4, 1, 32},
		LdsBuffers: 1, CoalescingGroups: 2, MagicDivision: magic, SourceAccessOrder: order,
		Xdlops: &tunable.Xdlops{TileM: 32, TileN: 32, TileK: 2, StepM: 1, StepN: 1, RepeatM: 1, RepeatN: 1},
	}
}

func mustNew(t *testing.T, cfg *tunable.Config) *Kernel {
	t.Helper()
	k, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

var buffers = Buffers{In: 0x1fffffff0, Wei: 0x20000000, Out: 0x30000000}

// runPrologue traces the prologue of workgroup bx for the wave whose
// threads start at 64*wave.
func runPrologue(t *testing.T, k *Kernel, p *Problem, bx, wave int) *trace.Wave {
	t.Helper()
	blob, err := k.Args(p, buffers)
	if err != nil {
		t.Fatal(err)
	}
	w := trace.New(k.Values())
	w.Kernarg = blob
	w.SetSGPR(k.s.Bx.At(0), uint32(bx))
	w.Fill(tid, func(l int) uint32 { return uint32(64*wave + l) })
	if err := w.Run(k.Prologue()); err != nil {
		t.Fatal(err)
	}
	return w
}

func pointer(w *trace.Wave, p *gpr.Sym) uint64 {
	return uint64(w.SGPR(p.At(0))) | uint64(w.SGPR(p.At(1)))<<32
}

func checkLanes(t *testing.T, w *trace.Wave, what string, r asm.Reg, want func(l int) uint32) {
	t.Helper()
	for l := 0; l < trace.Lanes; l++ {
		if got := w.VGPR(r, l); got != want(l) {
			t.Fatalf("%s lane %d: %d, want %d", what, l, got, want(l))
		}
	}
}

var padded = &Problem{
	N: 8, C: 16, Hi: 5, Wi: 6, K: 40, Group: 2, Y: 3, X: 2,
	StrideH: 2, StrideW: 1, DilationH: 1, DilationW: 2, PadH: 1, PadW: 1,
}

func TestPaddedPrologue(t *testing.T) {
	p := padded
	if p.Ho() != 3 || p.Wo() != 6 {
		t.Fatalf("output %dx%d", p.Ho(), p.Wo())
	}
	for _, magic := range []bool{false, true} {
		k := mustNew(t, macConfig(magic))
		if g := k.Grid(p); g != 6 {
			t.Fatalf("grid %d", g)
		}
		// Three m blocks per group: block 5 is group 1, m block 2.
		w := runPrologue(t, k, p, 5, 0)
		s, v := k.s, k.v
		if inb, ik := w.SGPR(s.BlockInb.Reg()), w.SGPR(s.BlockIk.Reg()); inb != 128 || ik != 0 {
			t.Fatalf("magic %v: block origin (%d, %d)", magic, inb, ik)
		}
		const strideWi, strideN = 16 * 2, 5 * 6 * 16 * 2
		if got, want := pointer(w, s.PIn), buffers.In+16*4; got != want {
			t.Fatalf("p_in %#x, want %#x", got, want)
		}
		if got, want := pointer(w, s.PWei), buffers.Wei+40*96*4; got != want {
			t.Fatalf("p_wei %#x, want %#x", got, want)
		}
		if got, want := pointer(w, s.POut), buffers.Out+40*4; got != want {
			t.Fatalf("p_out %#x, want %#x", got, want)
		}

		var wantLoads []trace.Access
		for r := 0; r < 4; r++ {
			type px struct {
				n, ih, iw int
			}
			at := func(l int) px {
				nb := 128 + l/4 + 16*r
				rem := nb % 18
				return px{nb / 18, rem/6*2 - 1, rem%6*1 - 1}
			}
			os := func(l int) uint32 {
				q := at(l)
				return uint32((q.n*strideN + (q.ih*p.Wi+q.iw)*strideWi + l%4*2) * 4)
			}
			valid := func(l int) bool {
				q := at(l)
				return q.n < p.N && q.ih >= 0 && q.ih < p.Hi && q.iw >= 0 && q.iw < p.Wi
			}
			checkLanes(t, w, "ihi", v.InIhi.At(r), func(l int) uint32 { return uint32(at(l).ih) })
			checkLanes(t, w, "iwi", v.InIwi.At(r), func(l int) uint32 { return uint32(at(l).iw) })
			checkLanes(t, w, "in_os", v.InOs.At(r), os)
			checkLanes(t, w, "flag_n", v.InFlagN.At(r), func(l int) uint32 {
				return b2u(at(l).n < p.N)
			})
			checkLanes(t, w, "flag", v.InFlag.At(r), func(l int) uint32 { return b2u(valid(l)) })
			for l := 0; l < trace.Lanes; l++ {
				if valid(l) {
					wantLoads = append(wantLoads, trace.Access{Op: isa.BufferLoadX2, Lane: l, Addr: os(l)})
				}
			}
		}
		weiOs := func(l int) uint32 { return uint32((l/4*96 + l%4*2) * 4) }
		checkLanes(t, w, "wei_os", v.WeiOs.Reg(), weiOs)
		for r := 0; r < 4; r++ {
			for l := 0; l < trace.Lanes; l++ {
				wantLoads = append(wantLoads, trace.Access{
					Op: isa.BufferLoadX2, Lane: l, Addr: weiOs(l) + uint32(r*16*96*4),
				})
			}
		}
		if diff := cmp.Diff(wantLoads, w.Accesses); diff != "" {
			t.Fatalf("magic %v: loads (-want +got):\n%s", magic, diff)
		}

		checkLanes(t, w, "sst_a", v.SstAOs.Reg(), func(l int) uint32 { return uint32((l%4*2*64 + l/4) * 4) })
		checkLanes(t, w, "sst_b", v.SstBOs.Reg(), func(l int) uint32 { return uint32((l%4*2*64+l/4)*4 + 2048) })
		origin := func(l int) (m, n int) {
			return (l/32%2*4 + l/4%4) * 4, (l/16%2*4 + l%4) * 4
		}
		checkLanes(t, w, "sld_a", v.SldAOs.Reg(), func(l int) uint32 { m, _ := origin(l); return uint32(m * 4) })
		checkLanes(t, w, "sld_b", v.SldBOs.Reg(), func(l int) uint32 { _, n := origin(l); return uint32(n*4 + 2048) })
		checkLanes(t, w, "out_os", v.OutOs.Reg(), func(l int) uint32 {
			m, n := origin(l)
			return uint32(((128+m)*40*2 + n) * 4)
		})

		for _, sc := range []struct {
			sym  *gpr.Sym
			want uint32
		}{
			{s.MoveSliceStrideC, 8 * 4},
			{s.MoveSliceC, 8},
			{s.NumC, 16},
			{s.DiffX, 2*strideWi*4 - 16*4},
			{s.InDiffSubWi, 4},
			{s.DiffY, (6 - 4) * strideWi * 4},
			{s.Knum, 96},
			{s.OutStrideWo, 80 * 4},
			{s.DimMr, 144},
		} {
			if got := w.SGPR(sc.sym.Reg()); got != sc.want {
				t.Errorf("magic %v: %s %d, want %d", magic, sc.sym.Name, got, sc.want)
			}
		}
	}
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

var unit = &Problem{
	N: 3, C: 16, Hi: 7, Wi: 7, K: 40, Group: 1, Y: 1, X: 1,
	StrideH: 1, StrideW: 1, DilationH: 1, DilationW: 1,
}

func TestUnitPrologue(t *testing.T) {
	for _, tc := range []struct {
		magic   bool
		order   int
		inb, ik int
	}{
		// Three m blocks and two n blocks; block 4 of each order.
		{false, 0, 128, 0},
		{true, 0, 128, 0},
		{false, 1, 64, 32},
		{true, 1, 64, 32},
	} {
		k := mustNew(t, xdlopsConfig(tc.magic, tc.order))
		w := runPrologue(t, k, unit, 4, 1)
		s, v := k.s, k.v
		if inb, ik := w.SGPR(s.BlockInb.Reg()), w.SGPR(s.BlockIk.Reg()); inb != uint32(tc.inb) || ik != uint32(tc.ik) {
			t.Fatalf("%+v: block origin (%d, %d)", tc, inb, ik)
		}
		ic := func(l int) int { return (64 + l) % 4 * 2 }
		inb := func(l int) int { return (64 + l) / 4 }
		for r := 0; r < 2; r++ {
			nb := func(l int) int { return tc.inb + inb(l) + 32*r }
			checkLanes(t, w, "in_os", v.InOs.At(r), func(l int) uint32 { return uint32((nb(l)*16 + ic(l)) * 4) })
			checkLanes(t, w, "flag", v.InFlag.At(r), func(l int) uint32 { return b2u(nb(l) < 147) })
		}
		checkLanes(t, w, "wei_os", v.WeiOs.Reg(), func(l int) uint32 {
			return uint32(((tc.ik+inb(l))*16 + ic(l)) * 4)
		})
		checkLanes(t, w, "sst_b", v.SstBOs.Reg(), func(l int) uint32 {
			return uint32((ic(l)<<5|inb(l))<<2 + 2048)
		})
		checkLanes(t, w, "sld_a", v.SldAOs.Reg(), func(l int) uint32 {
			return uint32((l/32<<6 | 32 + l%32) << 2)
		})
		checkLanes(t, w, "sld_b", v.SldBOs.Reg(), func(l int) uint32 {
			return uint32((l/32<<5|l%32)<<2 + 2048)
		})
		checkLanes(t, w, "out_im", v.OutIm.Reg(), func(l int) uint32 { return uint32(tc.inb + 32 + l/32*4) })
		checkLanes(t, w, "out_in", v.OutIn.Reg(), func(l int) uint32 { return uint32(tc.ik + l%32) })
		if knum := w.SGPR(s.Knum.Reg()); knum != 16 {
			t.Errorf("knum %d", knum)
		}
	}
}

func TestIdempotent(t *testing.T) {
	for _, cfg := range []*tunable.Config{macConfig(true), xdlopsConfig(false, 1)} {
		a, b := mustNew(t, cfg), mustNew(t, cfg)
		first := asm.Text(a.Text())
		if !bytes.Equal(first, asm.Text(b.Text())) || !bytes.Equal(first, asm.Text(a.Text())) {
			t.Fatalf("%s renders differently", a.Name())
		}
		if !bytes.Equal(asm.Text(a.Macros().Defs()), asm.Text(b.Macros().Defs())) {
			t.Fatalf("%s: macro definitions differ", a.Name())
		}
	}
}

// flagWrites counts writes of the input flags.
func flagWrites(gen asm.Gen) int {
	n := 0
	for _, in := range asm.Insts(gen) {
		if in.Op != isa.VCndmaskB32 {
			continue
		}
		if r, ok := in.Args[0].(asm.Reg); ok && r.Sym == "v_in_flag" {
			n++
		}
	}
	return n
}

func TestPaddedKernelFlags(t *testing.T) {
	k := mustNew(t, macConfig(true))
	// Two writes per row: the h test, then the w test.
	if n := flagWrites(k.prologue); n != 8 {
		t.Errorf("prologue writes flags %d times", n)
	}
	if n := flagWrites(k.loop); n != 8 {
		t.Errorf("loop writes flags %d times", n)
	}
	text := string(asm.Text(k.Body()))
	if !strings.Contains(text, ".v_fwd_gtc_nhwc_move_slice_window_e1_c_r4 ") {
		t.Errorf("no general slide in body")
	}
}

func TestUnitKernel(t *testing.T) {
	k := mustNew(t, xdlopsConfig(true, 0))
	if n := flagWrites(k.loop); n != 0 {
		t.Errorf("loop writes flags %d times", n)
	}
	text := string(asm.Text(asm.Seq{k.Macros().Defs(), k.Text()}))
	if !strings.Contains(text, "    .v_fwd_gtc_nhwc_move_slice_window_nxe0_r2 v_in_os, v_wei_os, s_move_slice_k_stride_c\n") {
		t.Errorf("no unit slide call")
	}
	for _, sym := range []string{"s_pad_", "s_dilation_", "s_stride_h", "s_stride_w", "v_in_ihi"} {
		if strings.Contains(text, sym) {
			t.Errorf("references %s", sym)
		}
	}
}

func TestInlineMatchesLabeled(t *testing.T) {
	cfg := macConfig(false)
	lab := mustNew(t, cfg)
	inline := *cfg
	inline.Macros = raw.InlineMacros
	in := mustNew(t, &inline)
	if len(in.Descriptor().Macros) != 0 || len(lab.Descriptor().Macros) == 0 {
		t.Fatalf("macros %v and %v", in.Descriptor().Macros, lab.Descriptor().Macros)
	}
	if diff := cmp.Diff(asm.Insts(lab.Body()), asm.Insts(in.Body())); diff != "" {
		t.Fatalf("expansions differ (-labeled +inline):\n%s", diff)
	}
}

func TestDescriptor(t *testing.T) {
	k := mustNew(t, xdlopsConfig(true, 0))
	d := k.Descriptor()
	if d.KernargBytes != 128 || d.BlockSize != 128 || d.LDSBytes != 4096 || d.AGPRs != 16 {
		t.Fatalf("%+v", d)
	}
	if d.SGPRs != k.s.Count() || d.VGPRs != max(k.v.Count(), 16) {
		t.Fatalf("registers %d, %d", d.SGPRs, d.VGPRs)
	}
	text := string(asm.Text(k.Text()))
	if !strings.Contains(text, ".amdhsa_kernel "+k.Name()+"\n") || !strings.HasSuffix(text, ".end_amdhsa_kernel\n\n") {
		t.Fatalf("descriptor block missing")
	}
}

// Enough rows of weights per thread to run out of scalar registers.
func TestScalarCapacity(t *testing.T) {
	cfg := &tunable.Config{
		Prefix: "igemm", Arch: raw.Gfx908, Precision: raw.FP32,
		Nxe: 1, GemmMPerBlock: 16, GemmNPerBlock: 1024, GemmKPerBlock: 4,
		TensorAThread: [4]int{1, 1, 1, 1}, TensorACluster: [4]int{1, 4, 1, 16},
		TensorBThread: [4]int{1, 1, 64, 1}, TensorBCluster: [4]int{1, 4, 1, 16},
		LdsBuffers: 1, CoalescingGroups: 1, PrecacheSoffset: true,
		Mac: &tunable.Mac{MPerThread: 4, MLevel0: 2, MLevel1: 2, NPerThread: 4, NLevel0: 4, NLevel1: 4},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	k, err := New(cfg)
	if !errors.Is(err, layout.ErrCapacity) || k != nil {
		t.Fatalf("got %v, %v", k, err)
	}
	if !strings.Contains(err.Error(), "scalar") {
		t.Errorf("error %q", err)
	}
}

func TestArgsRejects(t *testing.T) {
	k := mustNew(t, xdlopsConfig(true, 0))
	odd := *unit
	odd.C = 12
	if _, err := k.Args(&odd, buffers); err == nil {
		t.Error("c not a multiple of gemm k per block")
	}
	if _, err := k.Args(padded, buffers); err == nil {
		t.Error("padded problem on a unit kernel")
	}
	blob, err := k.Args(unit, buffers)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) != 128 {
		t.Fatalf("%d bytes", len(blob))
	}
}
