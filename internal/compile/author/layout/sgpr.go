package layout

import (
	"errors"
	"fmt"

	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/gpr"
	"igemmgen/internal/compile/author/index"
	"igemmgen/internal/compile/tunable"
)

var ErrCapacity = errors.New("register capacity exceeded")

func capacity(file string, got, limit int, cfg *tunable.Config) error {
	return fmt.Errorf("%w: %d %s registers exceed %d (%s)", ErrCapacity, got, file, limit, cfg.String())
}

// Sgpr holds the scalar register plan. Symbols a config does not need
// are nil.
type Sgpr struct {
	*gpr.Table

	Ka, Bx, PIn, PWei, POut                     *gpr.Sym
	Hi, Wi, N, K, C, Ho, Wo                     *gpr.Sym
	StrideH, StrideW, DilationH, DilationW      *gpr.Sym
	PadH, PadW, Y, X, Group                     *gpr.Sym
	InStrideWi, InStrideN                       *gpr.Sym
	WeiStrideK0, WeiStrideK, OutStrideWo        *gpr.Sym
	BlockIg, BlockIk, BlockInb                  *gpr.Sym
	MoveSliceStrideC                            *gpr.Sym
	NumC, MoveSliceC, InDiffSubWi, DiffY, DiffX *gpr.Sym
	NumY, NumX                                  *gpr.Sym
	Knum, DimB, DimM, DimN, DimMr, Kitr         *gpr.Sym
	WeiOffset                                   *gpr.Sym
	ShiftPack0, ShiftPack1                      *gpr.Sym
	Magic0, Magic4, Magic5, Magic6              *gpr.Sym
	Tmp                                         *gpr.Sym
}

// WeiRowStride is the scalar holding the byte distance between the
// weight rows of one thread.
func (s *Sgpr) WeiRowStride() *gpr.Sym {
	if s.WeiStrideK0 != nil {
		return s.WeiStrideK0
	}
	return s.WeiStrideK
}

func PlanSgpr(cfg *tunable.Config) (*Sgpr, error) {
	t := gpr.NewTable(asm.SGPR, "s_end")
	s := &Sgpr{Table: t}
	nxe := cfg.Nxe != 0
	sides := cfg.Sides()

	s.Ka = t.Alloc("s_ka", 2)
	s.Bx = t.Alloc("s_bx", 2)
	s.PIn = t.Alloc("s_p_in", 4)
	s.PWei = t.Alloc("s_p_wei", 4)
	s.POut = t.Alloc("s_p_out", 4)

	s.Hi = t.AllocAligned("s_hi", 1, 4)
	s.Wi = t.Alloc("s_wi", 1)
	s.N = t.Alloc("s_n", 1)
	s.K = t.Alloc("s_k", 1)
	s.C = t.Alloc("s_c", 1)
	if nxe {
		s.Ho = t.Alloc("s_ho", 1)
		s.Wo = t.Alloc("s_wo", 1)
		s.StrideH = t.Alloc("s_stride_h", 1)
		s.StrideW = t.Alloc("s_stride_w", 1)
		s.DilationH = t.Alloc("s_dilation_h", 1)
		s.DilationW = t.Alloc("s_dilation_w", 1)
		s.PadH = t.Alloc("s_pad_h", 1)
		s.PadW = t.Alloc("s_pad_w", 1)
		s.Y = t.Alloc("s_y", 1)
		s.X = t.Alloc("s_x", 1)
	}
	s.Group = t.Alloc("s_group", 1)

	s.InStrideWi = t.Alloc("s_in_stride_wi", 1)
	if nxe {
		s.InStrideN = t.Alloc("s_in_stride_n", 1)
	}
	if cfg.TensorBThread[index.D0] != 1 {
		s.WeiStrideK0 = t.Alloc("s_wei_stride_k0", 1)
	}
	s.WeiStrideK = t.Alloc("s_wei_stride_k", 1)
	s.OutStrideWo = t.Alloc("s_out_stride_wo", 1)

	s.BlockIg = t.Alloc("s_block_gtc_ig", 1)
	s.BlockIk = t.Alloc("s_block_gtc_ik", 1)
	s.BlockInb = t.Alloc("s_block_gtc_inb", 1)

	s.MoveSliceStrideC = t.Alloc("s_move_slice_k_stride_c", 1)
	if nxe {
		s.NumC = t.Alloc("s_gemm_k_num_c", 1)
		s.MoveSliceC = t.Alloc("s_move_slice_k_c", 1)
		s.InDiffSubWi = t.Alloc("s_in_diff_sub_wi", 1)
		s.DiffY = t.Alloc("s_move_slice_k_in_stride_diff_y", 1)
		s.DiffX = t.Alloc("s_move_slice_k_in_stride_diff_x", 1)
		s.NumY = t.Alias("s_gemm_k_num_y", s.Y, 0, 1)
		s.NumX = t.Alias("s_gemm_k_num_x", s.X, 0, 1)
	}
	s.Knum = t.Alias("s_knum", s.Bx, 1, 1)

	s.DimB = t.Alloc("s_dim_b", 1)
	s.DimM = t.Alloc("s_dim_m", 1)
	s.DimN = t.Alloc("s_dim_n", 1)
	s.DimMr = t.Alloc("s_dim_mr", 1)
	s.Kitr = t.Alias("s_kitr", s.Ka, 1, 1)

	if rows := sides.B.Rows; cfg.PrecacheSoffset && rows > 1 {
		s.WeiOffset = t.Alloc("s_wei_offset", rows-1)
	}

	if cfg.MagicDivision {
		s.ShiftPack0 = t.Alias("s_shift_pack_0", s.POut, 2, 1)
		s.ShiftPack1 = t.Alias("s_shift_pack_1", s.POut, 3, 1)
		s.Magic0 = t.Alias("s_magic_0", s.PWei, 2, 1)
		s.Magic4 = t.Alias("s_magic_4", s.MoveSliceStrideC, 0, 1)
		s.Magic5 = t.Alias("s_magic_5", s.Knum, 0, 1)
		s.Magic6 = t.Alias("s_magic_6", s.BlockIg, 0, 1)
	}

	s.Tmp = t.AllocAligned("s_tmp", 6, 2)

	if err := t.Check(); err != nil {
		panic("bug: " + err.Error())
	}
	if n := t.Count(); n > tunable.MaxSGPRs {
		return nil, capacity("scalar", n, tunable.MaxSGPRs, cfg)
	}
	return s, nil
}
