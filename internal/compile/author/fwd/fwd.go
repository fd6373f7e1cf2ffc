// Package fwd assembles the NHWC implicit-gemm forward convolution
// kernel: a prologue that computes every address, the pipelined main
// loop and the coalescing store.
package fwd

import (
	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/coal"
	"igemmgen/internal/compile/author/index"
	"igemmgen/internal/compile/author/isa"
	"igemmgen/internal/compile/author/kd"
	"igemmgen/internal/compile/author/layout"
	"igemmgen/internal/compile/author/macro"
	"igemmgen/internal/compile/author/nhwc"
	"igemmgen/internal/compile/author/pipe"
	"igemmgen/internal/compile/author/xfer"
	"igemmgen/internal/compile/tunable"
	"igemmgen/internal/nmsrc"
	"igemmgen/internal/raw"
)

// Kernel is one planned kernel. New checks every structure and capacity
// constraint before any text is built, so a Kernel always renders.
type Kernel struct {
	cfg   *tunable.Config
	name  string
	kind  macro.Kind
	db    int
	sides *index.Result
	karg  *layout.Karg
	s     *layout.Sgpr
	v     *layout.Vgpr
	a     *layout.Agpr
	macs  *macro.Registry
	names *nmsrc.Src

	gldA, gldB, sstA, sstB, slide *macro.Macro
	compute                       pipe.Compute

	prologue asm.Seq
	loop     asm.Gen
	epilogue asm.Gen
	desc     *kd.Descriptor
}

func New(cfg *tunable.Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:   cfg,
		name:  cfg.Name(),
		db:    cfg.DataBytes(),
		sides: cfg.Sides(),
		karg:  layout.PlanKarg(cfg.MagicDivision),
		macs:  macro.NewRegistry(),
	}
	if cfg.Macros == raw.InlineMacros {
		k.kind = macro.Inline
	} else {
		k.kind = macro.Labeled
	}
	k.names = nmsrc.New(k.name)
	var err error
	if k.s, err = layout.PlanSgpr(cfg); err != nil {
		return nil, err
	}
	if k.v, err = layout.PlanVgpr(cfg); err != nil {
		return nil, err
	}
	if k.a, err = layout.PlanAgpr(cfg); err != nil {
		return nil, err
	}
	k.transfers()
	k.compute = k.newCompute()
	k.prologue = k.buildPrologue()
	k.loop = k.buildLoop()
	k.epilogue = k.buildEpilogue()
	agprs := 0
	if k.a != nil {
		agprs = k.a.Count()
	}
	k.desc = kd.Build(kd.In{
		Name:      k.name,
		Arch:      cfg.Arch,
		Precision: cfg.Precision,
		BlockSize: cfg.BlockSize(),
		Karg:      k.karg,
		SGPRs:     k.s.Count(),
		VGPRs:     k.v.Count(),
		AGPRs:     agprs,
		LDSBytes:  cfg.LdsTotal(),
		Macros:    k.macs.Labeled(),
	})
	return k, nil
}

func (k *Kernel) Name() string { return k.name }

func (k *Kernel) Config() *tunable.Config { return k.cfg }

func (k *Kernel) Descriptor() *kd.Descriptor { return k.desc }

// Macros is every macro the kernel calls, in first-use order.
func (k *Kernel) Macros() *macro.Registry { return k.macs }

func (k *Kernel) nxe() bool { return k.cfg.Nxe != 0 }

func (k *Kernel) use(m *macro.Macro) *macro.Macro { return k.macs.Add(m) }

func (k *Kernel) transfers() {
	cfg, a, b := k.cfg, k.sides.A, k.sides.B
	kp := cfg.KPack()
	k.gldA = k.use(xfer.InputLoad(k.kind, xfer.GlobalLoadPlan{
		Rows: a.Rows, Cols: cfg.TensorAThread[index.C], Vector: a.Vector, DataBytes: k.db,
	}, true))
	k.gldB = k.use(xfer.WeightLoad(k.kind, xfer.GlobalLoadPlan{
		Rows: b.Rows, Cols: cfg.TensorBThread[index.C], Vector: b.Vector, DataBytes: k.db,
	}, cfg.PrecacheSoffset))
	k.sstA = k.use(xfer.SharedStore(k.kind, xfer.SharedStorePlan{
		Rows: a.Rows, Cols: cfg.TensorAThread[index.C], KPack: kp, DataBytes: k.db,
		Dim: cfg.GemmMPerBlock, RowStride: a.RowStride,
	}))
	k.sstB = k.use(xfer.SharedStore(k.kind, xfer.SharedStorePlan{
		Rows: b.Rows, Cols: cfg.TensorBThread[index.C], KPack: kp, DataBytes: k.db,
		Dim: cfg.GemmNPerBlock, RowStride: b.RowStride,
	}))
	if k.nxe() {
		k.slide = k.use(nhwc.MoveSliceWindow(k.kind, a.Rows))
	} else {
		k.slide = k.use(nhwc.MoveSliceWindowNxe0(k.kind, a.Rows))
	}
}

func (k *Kernel) callGldA() asm.Gen {
	v := k.v
	return k.gldA.Call(v.GldA.Reg(), k.s.PIn.Reg(), v.InOs.Reg(), v.InFlag.Reg())
}

func (k *Kernel) callGldB() asm.Gen {
	s, v := k.s, k.v
	args := []asm.Operand{v.GldB.Reg(), s.PWei.Reg(), v.WeiOs.Reg()}
	switch {
	case k.sides.B.Rows == 1:
	case s.WeiOffset != nil:
		args = append(args, s.WeiOffset.Reg())
	default:
		args = append(args, s.WeiRowStride().Reg(), s.Tmp.At(0))
	}
	return k.gldB.Call(args...)
}

func (k *Kernel) callSstA() asm.Gen { return k.sstA.Call(k.v.GldA.Reg(), k.v.SstAOs.Reg()) }

func (k *Kernel) callSstB() asm.Gen { return k.sstB.Call(k.v.GldB.Reg(), k.v.SstBOs.Reg()) }

func (k *Kernel) callSlide() asm.Gen {
	s, v := k.s, k.v
	if !k.nxe() {
		return k.slide.Call(v.InOs.Reg(), v.WeiOs.Reg(), s.MoveSliceStrideC.Reg())
	}
	return nhwc.CallMoveSliceWindow(k.slide, nhwc.Window{
		Rows:  k.sides.A.Rows,
		InOs:  v.InOs.Reg(),
		WeiOs: v.WeiOs.Reg(),
		Ic:    v.SliceIc.Reg(), Iy: v.SliceIy.Reg(), Ix: v.SliceIx.Reg(),
		Ihi: v.InIhi.Reg(), Iwi: v.InIwi.Reg(),
		Flag: v.InFlag.Reg(), FlagN: v.InFlagN.Reg(),
		StrideC: s.MoveSliceStrideC.Reg(), StepC: s.MoveSliceC.Reg(),
		NumC: s.NumC.Reg(), NumX: s.NumX.Reg(),
		DiffX: s.DiffX.Reg(), DiffY: s.DiffY.Reg(), DiffSubW: s.InDiffSubWi.Reg(),
		DilationH: s.DilationH.Reg(), DilationW: s.DilationW.Reg(),
		Hi: s.Hi.Reg(), Wi: s.Wi.Reg(),
	})
}

func (k *Kernel) newCompute() pipe.Compute {
	cfg, v := k.cfg, k.v
	kpb := cfg.GemmKPerBlock
	if m := cfg.Mac; m != nil {
		return &pipe.Fma{
			Op: asm.Op(cfg.ComputeOp()),
			A:  v.A.Reg(), B: v.B.Reg(), C: v.C.Reg(),
			SldA: v.SldAOs.Reg(), SldB: v.SldBOs.Reg(),
			TileA:      xfer.LdsTile{Dim: cfg.GemmMPerBlock, KPack: 1, DataBytes: k.db},
			TileB:      xfer.LdsTile{Dim: cfg.GemmNPerBlock, KPack: 1, DataBytes: k.db},
			PerThreadM: m.MPerThread, RepeatM: cfg.RepeatM(), StrideM: m.MPerThread * m.MLevel0 * m.MLevel1,
			PerThreadN: m.NPerThread, RepeatN: cfg.RepeatN(), StrideN: m.NPerThread * m.NLevel0 * m.NLevel1,
			Unroll: kpb,
		}
	}
	x, inst, kp := cfg.Xdlops, cfg.Inst(), cfg.KPack()
	return &pipe.Mfma{
		Op:          asm.Op(inst.Op),
		AccRegs:     inst.AccRegs,
		OperandRegs: inst.OperandRegs,
		A:           v.A.Reg(), B: v.B.Reg(), C: k.a.C.Reg(),
		SldA: v.SldAOs.Reg(), SldB: v.SldBOs.Reg(),
		TileA: xfer.LdsTile{Dim: cfg.GemmMPerBlock, KPack: kp, DataBytes: k.db},
		TileB: xfer.LdsTile{Dim: cfg.GemmNPerBlock, KPack: kp, DataBytes: k.db},
		TileM: x.TileM, TileN: x.TileN, TileK: x.TileK,
		StepM: x.StepM, StepN: x.StepN,
		RepeatM: x.RepeatM, RepeatN: x.RepeatN,
		WavesM: cfg.WavesM(), WavesN: cfg.WavesN(),
		Unroll: kpb,
	}
}

func (k *Kernel) buildLoop() asm.Gen {
	cfg, s, v := k.cfg, k.s, k.v
	ctrl := &pipe.Ctrl{
		Names:  k.names,
		Unroll: cfg.GemmKPerBlock,
		Kitr:   s.Kitr.Reg(), Knum: s.Knum.Reg(),
		Buffers:   cfg.LdsBuffers,
		LdsSingle: cfg.LdsSingle(),
		SstA:      v.SstAOs.Reg(), SstB: v.SstBOs.Reg(),
		SldA: v.SldAOs.Reg(), SldB: v.SldBOs.Reg(),
		Interleave: cfg.Interleave,
		GldA:       k.callGldA, GldB: k.callGldB,
		SstAFn: k.callSstA, SstBFn: k.callSstB,
		// The weight offset rides along in the input slide.
		MoveSliceA: k.callSlide,
		Compute:    k.compute,
	}
	return ctrl.Emit()
}

func (k *Kernel) buildEpilogue() asm.Gen {
	cfg, s, v := k.cfg, k.s, k.v
	st := &coal.Store{
		Acc:       v.C.Reg(),
		Groups:    cfg.CoalescingGroups,
		Place:     k.compute.Place,
		Precision: cfg.Precision,
		OutOs:     v.OutOs.Reg(), OutIm: v.OutIm.Reg(), OutIn: v.OutIn.Reg(),
		StrideM: s.OutStrideWo.Reg(),
		DimM:    s.DimMr.Reg(), DimN: s.K.Reg(),
		POut: s.POut.Reg(),
		VTmp: v.Tmp.Span(0, 2),
		STmp: s.Tmp.At(0),
	}
	if k.a != nil {
		st.Acc = k.a.C.Reg()
		st.Staging = v.C.Span(0, v.Staging)
		st.Nops = 1
		if cfg.Inst().AccRegs == 16 {
			st.Nops = 2
		}
	}
	return st.Emit()
}

// Symbols declares the argument offsets and register symbols.
func (k *Kernel) Symbols() asm.Gen {
	to := asm.Seq{
		asm.Comment{"kernel arguments"}, k.karg.Decls(),
		asm.Comment{"sgpr"}, k.s.Decls(),
		asm.Comment{"vgpr"}, k.v.Decls(),
	}
	if k.a != nil {
		to = append(to, asm.Comment{"agpr"}, k.a.Decls())
	}
	return to
}

// Prologue is everything before the main loop.
func (k *Kernel) Prologue() asm.Gen { return k.prologue }

// Body is the kernel's code from its entry label to s_endpgm.
func (k *Kernel) Body() asm.Gen {
	return asm.Seq{
		asm.Directive{Name: "text"},
		asm.Directive{Name: "globl", Args: []string{k.name}},
		asm.Directive{Name: "p2align", Args: []string{"8"}},
		asm.Directive{Name: "type", Args: []string{k.name, "@function"}},
		asm.Label(k.name),
		k.prologue,
		k.loop,
		k.epilogue,
		isa.SEndpgm.Of(),
	}
}

// Text is the symbols, the body and the descriptor block. Labeled macro
// definitions are left to the caller, which shares them across kernels.
func (k *Kernel) Text() asm.Gen {
	return asm.Seq{
		k.Symbols(), asm.Newline,
		k.Body(), asm.Newline,
		kd.Kernel(k.desc), asm.Newline,
	}
}

// Values resolves every symbol the kernel declares.
func (k *Kernel) Values() map[string]int {
	to := make(map[string]int)
	k.karg.Values(to)
	k.s.Values(to)
	k.v.Values(to)
	if k.a != nil {
		k.a.Values(to)
	}
	return to
}
