package pipe

import (
	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/isa"
	"igemmgen/internal/compile/author/xfer"
)

// Compute is one flavour of the block's inner product.
type Compute interface {
	// Clear zeroes the accumulators.
	Clear() asm.Gen

	// Steps reads one unrolled gemm k block from LDS and accumulates it.
	// Steps are independent of each other's exec state.
	Steps() []asm.Gen

	// Place is the gemm (m, n) of accumulator i relative to the
	// thread's output origin.
	Place(i int) (m, n int)

	Accumulators() int
}

// Fma multiplies with vector multiply-accumulate. Each thread owns a
// PerThreadM x PerThreadN sub-tile repeated RepeatM x RepeatN times,
// repeats lying StrideM (StrideN) apart.
type Fma struct {
	Op         asm.Op
	A, B, C    asm.Reg
	SldA, SldB asm.Reg
	TileA      xfer.LdsTile
	TileB      xfer.LdsTile

	PerThreadM, RepeatM, StrideM int
	PerThreadN, RepeatN, StrideN int
	Unroll                       int
}

func (f *Fma) tileM() int { return f.PerThreadM * f.RepeatM }

func (f *Fma) tileN() int { return f.PerThreadN * f.RepeatN }

func (f *Fma) Accumulators() int { return f.tileM() * f.tileN() }

func (f *Fma) Clear() asm.Gen {
	to := make(asm.Seq, f.Accumulators())
	for i := range to {
		to[i] = isa.VMovB32.Of(f.C.At(i), asm.Imm(0))
	}
	return to
}

func (f *Fma) Steps() []asm.Gen {
	db := f.TileA.DataBytes
	to := make([]asm.Gen, f.Unroll)
	for k := range to {
		var step asm.Seq
		for r := 0; r < f.RepeatM; r++ {
			dst := f.A.Span(r*f.PerThreadM, f.PerThreadM*db/4)
			step = append(step, isa.DsRead(dst, f.SldA, f.PerThreadM*db, f.TileA.Offset(k, r*f.StrideM))...)
		}
		for r := 0; r < f.RepeatN; r++ {
			dst := f.B.Span(r*f.PerThreadN, f.PerThreadN*db/4)
			step = append(step, isa.DsRead(dst, f.SldB, f.PerThreadN*db, f.TileB.Offset(k, r*f.StrideN))...)
		}
		step = append(step, isa.Waitcnt(-1, 0))
		for i := 0; i < f.tileM(); i++ {
			for j := 0; j < f.tileN(); j++ {
				step = append(step, f.Op.Of(f.C.At(i*f.tileN()+j), f.A.At(i), f.B.At(j)))
			}
		}
		to[k] = step
	}
	return to
}

func (f *Fma) Place(i int) (m, n int) {
	im, in := i/f.tileN(), i%f.tileN()
	m = im/f.PerThreadM*f.StrideM + im%f.PerThreadM
	n = in/f.PerThreadN*f.StrideN + in%f.PerThreadN
	return
}

// Mfma multiplies with matrix-core instructions. A wave covers
// StepM x StepN adjacent instruction tiles, repeated RepeatM x RepeatN
// times at a stride of all waves' steps.
type Mfma struct {
	Op          asm.Op
	AccRegs     int
	OperandRegs int
	A, B, C     asm.Reg
	SldA, SldB  asm.Reg
	TileA       xfer.LdsTile
	TileB       xfer.LdsTile

	TileM, TileN, TileK int
	StepM, StepN        int
	RepeatM, RepeatN    int
	WavesM, WavesN      int
	Unroll              int
}

func (x *Mfma) tilesM() int { return x.StepM * x.RepeatM }

func (x *Mfma) tilesN() int { return x.StepN * x.RepeatN }

func (x *Mfma) Accumulators() int { return x.AccRegs * x.tilesM() * x.tilesN() }

func (x *Mfma) Clear() asm.Gen {
	to := make(asm.Seq, x.Accumulators())
	for i := range to {
		to[i] = isa.VAccvgprWriteB32.Of(x.C.At(i), asm.Imm(0))
	}
	return to
}

// posM is the gemm m of instruction tile im relative to the wave origin.
func (x *Mfma) posM(im int) int {
	rm, sm := im/x.StepM, im%x.StepM
	return rm*x.WavesM*x.StepM*x.TileM + sm*x.TileM
}

func (x *Mfma) posN(in int) int {
	rn, sn := in/x.StepN, in%x.StepN
	return rn*x.WavesN*x.StepN*x.TileN + sn*x.TileN
}

func (x *Mfma) Steps() []asm.Gen {
	kp, db := x.TileA.KPack, x.TileA.DataBytes
	to := make([]asm.Gen, x.Unroll/x.TileK)
	for ks := range to {
		k := ks * x.TileK
		var step asm.Seq
		for im := 0; im < x.tilesM(); im++ {
			dst := x.A.Span(im*x.OperandRegs, x.OperandRegs)
			step = append(step, isa.DsRead(dst, x.SldA, kp*db, x.TileA.Offset(k, x.posM(im)))...)
		}
		for in := 0; in < x.tilesN(); in++ {
			dst := x.B.Span(in*x.OperandRegs, x.OperandRegs)
			step = append(step, isa.DsRead(dst, x.SldB, kp*db, x.TileB.Offset(k, x.posN(in)))...)
		}
		step = append(step, isa.Waitcnt(-1, 0))
		for im := 0; im < x.tilesM(); im++ {
			for in := 0; in < x.tilesN(); in++ {
				acc := x.C.Span((im*x.tilesN()+in)*x.AccRegs, x.AccRegs)
				a := x.A.Span(im*x.OperandRegs, x.OperandRegs)
				b := x.B.Span(in*x.OperandRegs, x.OperandRegs)
				step = append(step, x.Op.Of(acc, a, b, acc))
			}
		}
		to[ks] = step
	}
	return to
}

// Place follows the instruction's output layout: groups of four rows
// per lane group, the lane groups interleaved.
func (x *Mfma) Place(i int) (m, n int) {
	blk, e := i/x.AccRegs, i%x.AccRegs
	im, in := blk/x.tilesN(), blk%x.tilesN()
	m = x.posM(im) + e/4*(64/x.TileN*4) + e%4
	n = x.posN(in)
	return
}
