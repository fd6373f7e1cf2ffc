package fwd

import (
	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/gpr"
	"igemmgen/internal/compile/author/index"
	"igemmgen/internal/compile/author/isa"
	"igemmgen/internal/compile/author/mdiv"
	"igemmgen/internal/compile/author/nhwc"
	"igemmgen/internal/compile/author/xfer"
)

func lg(n int) asm.Imm { return asm.Imm(isa.Log2(n)) }

// tid is the workitem id the hardware leaves in v0. v0 is also v_c, which
// nothing writes before the main loop.
var tid = asm.Reg{File: asm.VGPR}

func rsrc(p *gpr.Sym) asm.Seq {
	return asm.Seq{
		isa.SMovB32.Of(p.At(2), isa.RsrcNumRecords),
		isa.SMovB32.Of(p.At(3), isa.RsrcConfig),
	}
}

func (k *Kernel) buildPrologue() asm.Seq {
	var to asm.Seq
	for _, part := range []func() asm.Seq{
		k.loadArgs,
		k.dispatch,
		k.strides,
		k.blockOrigin,
		k.groupBases,
		k.inputs,
		k.weights,
		k.ldsStores,
		k.ldsLoads,
		k.outputs,
		k.slideScalars,
	} {
		to = append(to, part()...)
	}
	return to
}

func (k *Kernel) load(dst asm.Reg, arg string) asm.Inst {
	return isa.SLoad(dst, k.s.Ka.Reg(), k.karg.Sym(arg))
}

func (k *Kernel) loadArgs() asm.Seq {
	s := k.s
	to := asm.Seq{
		asm.Comment{"kernel arguments"},
		k.load(s.PIn.Span(0, 2), "p_in"),
		k.load(s.PWei.Span(0, 2), "p_wei"),
		k.load(s.POut.Span(0, 2), "p_out"),
	}
	if k.nxe() {
		to = append(to,
			k.load(s.Hi.Span(0, 8), "hi"),
			k.load(s.StrideW.Span(0, 8), "stride_w"),
		)
	} else {
		to = append(to,
			k.load(s.Hi.Span(0, 4), "hi"),
			k.load(s.C.Reg(), "c"),
			k.load(s.Group.Reg(), "group"),
		)
	}
	if k.cfg.MagicDivision {
		to = append(to,
			k.load(s.Magic0.Reg(), "magic_0"),
			k.load(s.Magic6.Reg(), "magic_6"),
			k.load(s.ShiftPack0.Span(0, 2), "shift_pack_0"),
		)
		if k.nxe() {
			to = append(to,
				k.load(s.Magic4.Reg(), "magic_4"),
				k.load(s.Magic5.Reg(), "magic_5"),
			)
		}
	}
	return to
}

// dispatch splits the thread id over the copy clusters. Both operands
// share the channel split.
func (k *Kernel) dispatch() asm.Seq {
	v, tmp := k.v, k.v.Tmp.At(0)
	ta, ca := k.cfg.TensorAThread, k.cfg.TensorACluster
	tb, cb := k.cfg.TensorBThread, k.cfg.TensorBCluster
	to := asm.Seq{
		asm.Comment{"thread position"},
		isa.VMovB32.Of(tmp, tid),
	}
	to = append(to, xfer.Dispatch(v.Ic.Reg(), tmp, ca[index.C], ta[index.C], false)...)
	to = append(to, xfer.Dispatch(v.InInb.Reg(), tmp, ca[index.D1], ta[index.D1], true)...)
	to = append(to, isa.VLshrrevB32.Of(tmp, lg(cb[index.C]), tid))
	to = append(to, xfer.Dispatch(v.WeiIk.Reg(), tmp, cb[index.D1], tb[index.D1], true)...)
	return append(to, isa.Waitcnt(-1, 0))
}

func (k *Kernel) roundUp(dst, src asm.Reg, tile int) asm.Seq {
	t := k.s.Tmp.At(0)
	return asm.Seq{
		isa.SAddU32.Of(t, src, asm.Imm(tile-1)),
		isa.SLshrB32.Of(t, t, lg(tile)),
		isa.SLshlB32.Of(dst, t, lg(tile)),
	}
}

// strides computes element strides and the gemm extents. dim_m and
// dim_n are rounded up to whole blocks.
func (k *Kernel) strides() asm.Seq {
	s, t := k.s, k.s.Tmp
	to := rsrc(s.PIn)
	to = append(to,
		asm.Comment{"strides"},
		isa.SMulI32.Of(s.InStrideWi.Reg(), s.C.Reg(), s.Group.Reg()),
	)
	if k.nxe() {
		to = append(to,
			isa.SMulI32.Of(t.At(0), s.Hi.Reg(), s.Wi.Reg()),
			isa.SMulI32.Of(s.InStrideN.Reg(), t.At(0), s.InStrideWi.Reg()),
			isa.SMulI32.Of(t.At(0), s.X.Reg(), s.C.Reg()),
			isa.SMulI32.Of(s.WeiStrideK.Reg(), t.At(0), s.Y.Reg()),
			isa.SMulI32.Of(s.DimB.Reg(), s.Ho.Reg(), s.Wo.Reg()),
		)
	} else {
		to = append(to,
			isa.SMovB32.Of(s.WeiStrideK.Reg(), s.C.Reg()),
			isa.SMulI32.Of(s.DimB.Reg(), s.Hi.Reg(), s.Wi.Reg()),
		)
	}
	to = append(to,
		isa.SMulI32.Of(s.OutStrideWo.Reg(), s.K.Reg(), s.Group.Reg()),
		isa.SMulI32.Of(s.DimMr.Reg(), s.N.Reg(), s.DimB.Reg()),
	)
	to = append(to, k.roundUp(s.DimM.Reg(), s.DimMr.Reg(), k.cfg.GemmMPerBlock)...)
	return append(to, k.roundUp(s.DimN.Reg(), s.K.Reg(), k.cfg.GemmNPerBlock)...)
}

// blockOrigin splits the workgroup id into group, then m and n blocks.
// Access order 0 walks n fastest, order 1 walks m fastest.
func (k *Kernel) blockOrigin() asm.Seq {
	cfg, s, t := k.cfg, k.s, k.s.Tmp
	blocksN, blocksM, perGroup, shift, rem, scratch := t.At(3), t.At(0), t.At(2), t.At(1), t.At(4), t.At(5)
	to := asm.Seq{
		asm.Comment{"block origin"},
		isa.SLshrB32.Of(blocksN, s.DimN.Reg(), lg(cfg.GemmNPerBlock)),
		isa.SLshrB32.Of(blocksM, s.DimM.Reg(), lg(cfg.GemmMPerBlock)),
		isa.SMulI32.Of(perGroup, blocksN, blocksM),
	}
	ig, ik, inb := s.BlockIg.Reg(), s.BlockIk.Reg(), s.BlockInb.Reg()
	denom, fast, slow := blocksN, ik, inb
	if cfg.SourceAccessOrder == 1 {
		denom, fast, slow = blocksM, inb, ik
	}
	if cfg.MagicDivision {
		div := k.use(mdiv.RemSS(k.kind))
		to = append(to,
			isa.SBfeU32.Of(shift, s.ShiftPack1.Reg(), mdiv.ShiftField(2)),
			div.Call(rem, ig, s.Bx.At(0), s.Magic6.Reg(), shift, perGroup, scratch),
			isa.SBfeU32.Of(shift, s.ShiftPack0.Reg(), mdiv.ShiftField(0)),
			div.Call(fast, slow, rem, s.Magic0.Reg(), shift, denom, scratch),
		)
	} else {
		div, vt := k.use(mdiv.DivRemSS(k.kind)), k.v.Tmp.Span(0, 4)
		to = append(to,
			div.Call(rem, ig, s.Bx.At(0), perGroup, vt),
			div.Call(fast, slow, rem, denom, vt),
		)
	}
	return append(to,
		isa.SLshlB32.Of(ik, ik, lg(cfg.GemmNPerBlock)),
		isa.SLshlB32.Of(inb, inb, lg(cfg.GemmMPerBlock)),
	)
}

// groupBases moves the three pointers to the block's group.
func (k *Kernel) groupBases() asm.Seq {
	s, t := k.s, k.s.Tmp
	bytes := t.At(2)
	to := asm.Seq{asm.Comment{"group bases"}}
	add := func(p *gpr.Sym) {
		to = append(to,
			isa.SMulI32.Of(t.At(0), s.BlockIg.Reg(), bytes),
			isa.SMulHiU32.Of(t.At(1), s.BlockIg.Reg(), bytes),
			isa.SAddU32.Of(p.At(0), p.At(0), t.At(0)),
			isa.SAddcU32.Of(p.At(1), p.At(1), t.At(1)),
		)
	}
	to = append(to, isa.SLshlB32.Of(bytes, s.C.Reg(), lg(k.db)))
	add(s.PIn)
	to = append(to,
		isa.SMulI32.Of(bytes, s.K.Reg(), s.WeiStrideK.Reg()),
		isa.SLshlB32.Of(bytes, bytes, lg(k.db)),
	)
	add(s.PWei)
	to = append(to, isa.SLshlB32.Of(bytes, s.K.Reg(), lg(k.db)))
	add(s.POut)
	return to
}

// inputs computes the offset and validity of every input row the thread
// loads, then issues the first input load.
func (k *Kernel) inputs() asm.Seq {
	s, v, t := k.s, k.v, k.v.Tmp
	a := k.sides.A
	to := asm.Seq{asm.Comment{"input offsets"}}
	if k.nxe() {
		to = append(to,
			isa.SLshlB32.Of(s.InStrideWi.Reg(), s.InStrideWi.Reg(), lg(k.db)),
			isa.VMovB32.Of(v.InIy.Reg(), asm.Imm(0)),
			isa.VMovB32.Of(v.InIx.Reg(), asm.Imm(0)),
		)
		if k.cfg.MagicDivision {
			st := k.s.Tmp
			to = append(to,
				isa.SBfeU32.Of(st.At(2), s.ShiftPack1.Reg(), mdiv.ShiftField(0)),
				isa.SBfeU32.Of(st.At(3), s.ShiftPack1.Reg(), mdiv.ShiftField(1)),
			)
		}
	}
	for r := 0; r < a.Rows; r++ {
		nb := t.At(5)
		to = append(to, isa.VAddU32.Of(nb, s.BlockInb.Reg(), v.InInb.Reg()))
		if r != 0 {
			to = append(to, isa.VAddU32.Of(nb, asm.Imm(r*a.RowStride), nb))
		}
		if k.nxe() {
			to = append(to, k.pixel(r)...)
			continue
		}
		to = append(to,
			isa.VCmpGtU32.Of(isa.VCC, s.DimMr.Reg(), nb),
			isa.VCndmaskB32.Of(v.InFlag.At(r), asm.Imm(0), asm.Imm(1), isa.VCC),
			isa.VMulLoU32.Of(t.At(1), s.InStrideWi.Reg(), nb),
			isa.VAddLshlU32.Of(v.InOs.At(r), t.At(1), v.Ic.Reg(), lg(k.db)),
		)
	}
	return append(to, k.callGldA())
}

// pixel splits the gemm m index in v_tmp+5 into (n, ho, wo) and derives
// row r's input coordinates, offset and flags.
func (k *Kernel) pixel(r int) asm.Seq {
	s, v, t := k.s, k.v, k.v.Tmp
	var to asm.Seq
	if k.cfg.MagicDivision {
		div, st := k.use(mdiv.RemVS(k.kind)), k.s.Tmp
		to = append(to,
			div.Call(t.At(4), t.At(3), t.At(5), s.Magic4.Reg(), st.At(2), s.DimB.Reg(), t.At(0)),
			div.Call(t.At(4), t.At(5), t.At(4), s.Magic5.Reg(), st.At(3), s.Wo.Reg(), t.At(0)),
		)
	} else {
		div := k.use(mdiv.DivRemVS(k.kind))
		to = append(to,
			div.Call(t.At(4), t.At(3), t.At(5), s.DimB.Reg(), t.Span(0, 3)),
			div.Call(t.At(4), t.At(5), t.At(4), s.Wo.Reg(), t.Span(0, 3)),
		)
	}
	n, iho, iwo := t.At(3), t.At(5), t.At(4)
	hw := k.use(nhwc.InUpdateHW(k.kind))
	os := k.use(nhwc.InUpdateOS(k.kind))
	flag := k.use(nhwc.SetFlagNHW(k.kind))
	return append(to,
		isa.VMulLoU32.Of(iho, s.StrideH.Reg(), iho),
		isa.VSubrevU32.Of(iho, s.PadH.Reg(), iho),
		isa.VMulLoU32.Of(iwo, s.StrideW.Reg(), iwo),
		isa.VSubrevU32.Of(iwo, s.PadW.Reg(), iwo),
		hw.Call(v.InIhi.At(r), v.InIwi.At(r), iho, iwo, v.InIy.Reg(), v.InIx.Reg(),
			s.DilationH.Reg(), s.DilationW.Reg()),
		isa.VCmpGtU32.Of(isa.VCC, s.N.Reg(), n),
		isa.VCndmaskB32.Of(v.InFlagN.At(r), asm.Imm(0), asm.Imm(1), isa.VCC),
		isa.VMulLoU32.Of(t.At(1), s.InStrideN.Reg(), n),
		isa.VAddLshlU32.Of(t.At(2), t.At(1), v.Ic.Reg(), lg(k.db)),
		os.Call(v.InOs.At(r), t.At(2), v.InIhi.At(r), v.InIwi.At(r),
			s.Wi.Reg(), s.InStrideWi.Reg(), t.At(1)),
		flag.Call(v.InFlag.At(r), v.InFlagN.At(r), v.InIhi.At(r), v.InIwi.At(r),
			s.Hi.Reg(), s.Wi.Reg()),
	)
}

// weights computes the weight offset and row strides, then issues the
// first weight load.
func (k *Kernel) weights() asm.Seq {
	s, v, t := k.s, k.v, k.v.Tmp
	b := k.sides.B
	to := rsrc(s.PWei)
	to = append(to,
		asm.Comment{"weight offsets"},
		isa.VAddU32.Of(t.At(0), s.BlockIk.Reg(), v.WeiIk.Reg()),
		isa.VMulLoU32.Of(t.At(1), s.WeiStrideK.Reg(), t.At(0)),
		isa.VAddLshlU32.Of(v.WeiOs.Reg(), t.At(1), v.Ic.Reg(), lg(k.db)),
	)
	if s.WeiStrideK0 != nil {
		to = append(to, isa.SLshlB32.Of(s.WeiStrideK0.Reg(), s.WeiStrideK.Reg(),
			asm.Imm(isa.Log2(b.RowStride)+isa.Log2(k.db))))
	} else {
		to = append(to, isa.SLshlB32.Of(s.WeiStrideK.Reg(), s.WeiStrideK.Reg(), lg(k.db)))
	}
	if off := s.WeiOffset; off != nil {
		stride := s.WeiRowStride().Reg()
		to = append(to, isa.SMovB32.Of(off.At(0), stride))
		for i := 1; i < off.Len; i++ {
			to = append(to, isa.SAddU32.Of(off.At(i), off.At(i-1), stride))
		}
	}
	return append(to, k.callGldB())
}

// ldsStores places the thread's loaded tile in the [k/kpack][dim][kpack]
// LDS layout of each operand.
func (k *Kernel) ldsStores() asm.Seq {
	cfg, v, t := k.cfg, k.v, k.v.Tmp
	kp := cfg.KPack()
	var kpos asm.Operand = v.Ic.Reg()
	to := asm.Seq{asm.Comment{"lds store offsets"}}
	if kp != 1 {
		to = append(to, isa.VLshrrevB32.Of(t.At(0), lg(kp), v.Ic.Reg()))
		kpos = t.At(0)
	}
	return append(to,
		isa.VLshlOrB32.Of(t.At(1), kpos, lg(cfg.GemmMPerBlock), v.InInb.Reg()),
		isa.VLshlrevB32.Of(v.SstAOs.Reg(), lg(kp*k.db), t.At(1)),
		isa.VLshlOrB32.Of(t.At(1), kpos, lg(cfg.GemmNPerBlock), v.WeiIk.Reg()),
		isa.VLshlrevB32.Of(v.SstBOs.Reg(), lg(kp*k.db), t.At(1)),
		isa.VAddU32.Of(v.SstBOs.Reg(), asm.Imm(cfg.LdsOffsetB()), v.SstBOs.Reg()),
	)
}

// ldsLoads maps the thread onto the compute tile: its gemm origin, LDS
// read offsets and output origin within the block.
func (k *Kernel) ldsLoads() asm.Seq {
	if k.cfg.Mac != nil {
		return k.macLoads()
	}
	return k.mfmaLoads()
}

// macLoads splits the thread id as n_l0, m_l0, n_l1, m_l1, lowest first.
func (k *Kernel) macLoads() asm.Seq {
	m, v, t := k.cfg.Mac, k.v, k.v.Tmp
	im, in := v.GemmIm.Reg(), v.GemmIn.Reg()
	return asm.Seq{
		asm.Comment{"lds load offsets"},
		isa.VAndB32.Of(t.At(0), asm.Imm(m.NLevel0-1), tid),
		isa.VLshrrevB32.Of(t.At(1), lg(m.NLevel0), tid),
		isa.VAndB32.Of(t.At(2), asm.Imm(m.MLevel0-1), t.At(1)),
		isa.VLshrrevB32.Of(t.At(1), lg(m.MLevel0), t.At(1)),
		isa.VAndB32.Of(t.At(3), asm.Imm(m.NLevel1-1), t.At(1)),
		isa.VLshrrevB32.Of(t.At(4), lg(m.NLevel1), t.At(1)),
		isa.VLshlOrB32.Of(in, t.At(3), lg(m.NLevel0), t.At(0)),
		isa.VLshlrevB32.Of(in, lg(m.NPerThread), in),
		isa.VLshlOrB32.Of(im, t.At(4), lg(m.MLevel0), t.At(2)),
		isa.VLshlrevB32.Of(im, lg(m.MPerThread), im),
		isa.VLshlrevB32.Of(v.SldAOs.Reg(), lg(k.db), im),
		isa.VLshlrevB32.Of(v.SldBOs.Reg(), lg(k.db), in),
		isa.VAddU32.Of(v.SldBOs.Reg(), asm.Imm(k.cfg.LdsOffsetB()), v.SldBOs.Reg()),
		isa.VMovB32.Of(v.OutIm.Reg(), im),
		isa.VMovB32.Of(v.OutIn.Reg(), in),
	}
}

// mfmaLoads places waves m first; within a wave, lane%tile picks the row
// and lane/tile the k group an instruction reads.
func (k *Kernel) mfmaLoads() asm.Seq {
	cfg, v, t := k.cfg, k.v, k.v.Tmp
	x, kp := cfg.Xdlops, cfg.KPack()
	im, in := v.GemmIm.Reg(), v.GemmIn.Reg()
	lane, wave, wm, wn, kl := t.At(0), t.At(1), t.At(2), t.At(3), t.At(5)
	wavesM := cfg.WavesM()
	return asm.Seq{
		asm.Comment{"lds load offsets"},
		isa.VAndB32.Of(lane, asm.Imm(63), tid),
		isa.VLshrrevB32.Of(wave, asm.Imm(6), tid),
		isa.VAndB32.Of(wm, asm.Imm(wavesM-1), wave),
		isa.VLshrrevB32.Of(wn, lg(wavesM), wave),
		isa.VAndB32.Of(t.At(4), asm.Imm(x.TileM-1), lane),
		isa.VLshrrevB32.Of(kl, lg(x.TileM), lane),
		isa.VLshlOrB32.Of(im, wm, lg(x.StepM*x.TileM), t.At(4)),
		isa.VAndB32.Of(t.At(4), asm.Imm(x.TileN-1), lane),
		isa.VLshlOrB32.Of(in, wn, lg(x.StepN*x.TileN), t.At(4)),
		isa.VLshlOrB32.Of(t.At(4), kl, lg(cfg.GemmMPerBlock), im),
		isa.VLshlrevB32.Of(v.SldAOs.Reg(), lg(kp*k.db), t.At(4)),
		isa.VLshlOrB32.Of(t.At(4), kl, lg(cfg.GemmNPerBlock), in),
		isa.VLshlrevB32.Of(v.SldBOs.Reg(), lg(kp*k.db), t.At(4)),
		isa.VAddU32.Of(v.SldBOs.Reg(), asm.Imm(cfg.LdsOffsetB()), v.SldBOs.Reg()),
		isa.VLshlrevB32.Of(kl, asm.Imm(2), kl),
		isa.VLshlOrB32.Of(v.OutIm.Reg(), wm, lg(x.StepM*x.TileM), kl),
		isa.VMovB32.Of(v.OutIn.Reg(), in),
	}
}

// outputs moves the output origin to the block and converts it to a byte
// offset.
func (k *Kernel) outputs() asm.Seq {
	s, v, t := k.s, k.v, k.v.Tmp
	to := asm.Seq{
		asm.Comment{"output offset"},
		isa.VAddU32.Of(v.OutIm.Reg(), s.BlockInb.Reg(), v.OutIm.Reg()),
		isa.VAddU32.Of(v.OutIn.Reg(), s.BlockIk.Reg(), v.OutIn.Reg()),
		isa.VMulLoU32.Of(t.At(0), s.OutStrideWo.Reg(), v.OutIm.Reg()),
		isa.VAddLshlU32.Of(v.OutOs.Reg(), t.At(0), v.OutIn.Reg(), lg(k.db)),
		isa.SLshlB32.Of(s.OutStrideWo.Reg(), s.OutStrideWo.Reg(), lg(k.db)),
	}
	return append(to, rsrc(s.POut)...)
}

// slideScalars sets up the constants of the gemm k slide. They overwrite
// the magic numbers, which are dead by now.
func (k *Kernel) slideScalars() asm.Seq {
	s, t := k.s, k.s.Tmp
	kpb := k.cfg.GemmKPerBlock
	to := asm.Seq{
		asm.Comment{"slide window"},
		isa.SMovB32.Of(s.MoveSliceStrideC.Reg(), asm.Imm(kpb*k.db)),
	}
	if !k.nxe() {
		return append(to, isa.SMovB32.Of(s.Knum.Reg(), s.C.Reg()))
	}
	return append(to,
		isa.SMovB32.Of(s.NumC.Reg(), s.C.Reg()),
		isa.SMovB32.Of(s.MoveSliceC.Reg(), asm.Imm(kpb)),
		isa.SLshlB32.Of(t.At(0), s.C.Reg(), lg(k.db)),
		isa.SMulI32.Of(t.At(1), s.DilationW.Reg(), s.InStrideWi.Reg()),
		isa.SSubU32.Of(s.DiffX.Reg(), t.At(1), t.At(0)),
		isa.SMulI32.Of(s.InDiffSubWi.Reg(), s.X.Reg(), s.DilationW.Reg()),
		isa.SMulI32.Of(t.At(0), s.DilationH.Reg(), s.Wi.Reg()),
		isa.SSubU32.Of(t.At(0), t.At(0), s.InDiffSubWi.Reg()),
		isa.SMulI32.Of(s.DiffY.Reg(), t.At(0), s.InStrideWi.Reg()),
		isa.SMulI32.Of(t.At(0), s.Y.Reg(), s.X.Reg()),
		isa.SMulI32.Of(s.Knum.Reg(), t.At(0), s.C.Reg()),
	)
}
