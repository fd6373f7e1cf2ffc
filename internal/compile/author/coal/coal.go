// Package coal writes the accumulators of a block to the output tensor,
// one coalescing group at a time, skipping elements outside the output.
package coal

import (
	"fmt"

	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/isa"
	"igemmgen/internal/raw"
)

// Store is the epilogue of one kernel.
type Store struct {
	// Acc holds the accumulators. When it is in the AGPR file each group
	// is first staged into Staging.
	Acc     asm.Reg
	Staging asm.Reg
	Groups  int
	Place   func(acc int) (m, n int)

	// Nops separate the last matrix instruction from the first
	// accumulator read.
	Nops int

	Precision raw.Precision

	// OutOs is the byte offset of (OutIm, OutIn); a gemm m row is
	// StrideM bytes and rows at or past DimM, columns at or past DimN
	// are skipped.
	OutOs, OutIm, OutIn asm.Reg
	StrideM             asm.Reg
	DimM, DimN          asm.Reg
	POut                asm.Reg
	VTmp                asm.Reg
	STmp                asm.Reg
}

func (s *Store) bytes() int {
	if s.Precision == raw.FP32 {
		return 4
	}
	return 2
}

func (s *Store) staged() bool { return s.Acc.File == asm.AGPR }

// stage moves group g into VGPRs and converts it to the output type,
// returning where element j of the group ends up.
func (s *Store) stage(g, chunk int) (asm.Seq, func(j int) asm.Reg) {
	at := func(j int) asm.Reg { return s.Acc.At(g*chunk + j) }
	var to asm.Seq
	if s.staged() {
		if g == 0 {
			for i := 0; i < s.Nops; i++ {
				to = append(to, isa.SNop.Of(asm.Imm(15)))
			}
		}
		for j := 0; j < chunk; j++ {
			to = append(to, isa.VAccvgprReadB32.Of(s.Staging.At(j), at(j)))
		}
		at = s.Staging.At
	}
	for j := 0; j < chunk; j++ {
		switch s.Precision {
		case raw.FP16:
			to = append(to, isa.VCvtF16F32.Of(at(j), at(j)))
		case raw.BF16:
			to = append(to, isa.VLshrrevB32.Of(at(j), asm.Imm(16), at(j)))
		}
	}
	return to, at
}

func (s *Store) element(src asm.Reg, m, n int) asm.Seq {
	flag, col := s.VTmp.At(0), s.VTmp.At(1)
	to := asm.Seq{
		isa.VAddU32.Of(flag, asm.Imm(m), s.OutIm),
		isa.VCmpGtU32.Of(isa.VCC, s.DimM, flag),
		isa.VCndmaskB32.Of(flag, asm.Imm(0), asm.Imm(1), isa.VCC),
		isa.VAddU32.Of(col, asm.Imm(n), s.OutIn),
		isa.VCmpGtU32.Of(isa.VCC, s.DimN, col),
		isa.VCndmaskB32.Of(flag, asm.Imm(0), flag, isa.VCC),
	}
	var soff asm.Operand = asm.Imm(0)
	if m != 0 || n != 0 {
		to = append(to,
			isa.SMulI32.Of(s.STmp, asm.Imm(m), s.StrideM),
			isa.SAddU32.Of(s.STmp, s.STmp, asm.Imm(n*s.bytes())),
		)
		soff = s.STmp
	}
	return append(to,
		isa.VCmpxLeU32.Of(isa.VCC, asm.Imm(1), flag),
		isa.BufferStore(src, s.OutOs, s.POut, soff, s.bytes()),
		isa.ExecAll(),
	)
}

func (s *Store) Emit() asm.Gen {
	acc := s.Acc.Count()
	if s.Groups < 1 || acc%s.Groups != 0 {
		panic(fmt.Sprintf("bug: %d accumulators in %d groups", acc, s.Groups))
	}
	chunk := acc / s.Groups
	if s.staged() && s.Staging.Count() < chunk {
		panic("bug: staging too small")
	}
	to := asm.Seq{asm.Comment{"coalescing store"}}
	for g := 0; g < s.Groups; g++ {
		to = append(to, asm.Comment{fmt.Sprintf("group %d", g)})
		stage, src := s.stage(g, chunk)
		to = append(to, stage...)
		for j := 0; j < chunk; j++ {
			m, n := s.Place(g*chunk + j)
			to = append(to, s.element(src(j), m, n)...)
		}
	}
	return to
}
