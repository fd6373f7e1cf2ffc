package layout

import (
	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/gpr"
	"igemmgen/internal/compile/tunable"
)

type Vgpr struct {
	*gpr.Table

	C                              *gpr.Sym
	A, B, GldA, GldB               *gpr.Sym
	SstAOs, SstBOs, SldAOs, SldBOs *gpr.Sym
	InOs, InIhi, InIwi             *gpr.Sym
	InFlag, InFlagN                *gpr.Sym
	WeiOs, Ic, InInb, WeiIk        *gpr.Sym
	InIy, InIx                     *gpr.Sym
	SliceIc, SliceIy, SliceIx      *gpr.Sym
	GemmIn, GemmIm                 *gpr.Sym
	OutOs, OutIm, OutIn            *gpr.Sym
	Tmp                            *gpr.Sym

	// Staging is the VGPR count the epilogue stages one coalescing
	// group in, starting at C. It may run past C into registers that are
	// dead by then.
	Staging int
}

// reusable counts the registers declared right after v_c that the
// epilogue may overwrite.
func reusable(cfg *tunable.Config) int {
	return cfg.OperandRegsA() + cfg.OperandRegsB() + cfg.GldRegsA() + cfg.GldRegsB() + 4
}

func PlanVgpr(cfg *tunable.Config) (*Vgpr, error) {
	t := gpr.NewTable(asm.VGPR, "v_end")
	v := &Vgpr{Table: t}
	nxe := cfg.Nxe != 0
	rows := cfg.Sides().A.Rows
	acc := cfg.Accumulators()

	if cfg.Xdlops != nil {
		chunk := acc / cfg.CoalescingGroups
		v.C = t.Alloc("v_c", max(2, chunk-reusable(cfg)))
		v.Staging = chunk
	} else {
		v.C = t.Alloc("v_c", acc)
		v.Staging = acc
	}
	v.A = t.Alloc("v_a", cfg.OperandRegsA())
	v.B = t.Alloc("v_b", cfg.OperandRegsB())
	v.GldA = t.Alloc("v_gld_a", cfg.GldRegsA())
	v.GldB = t.Alloc("v_gld_b", cfg.GldRegsB())
	v.SstAOs = t.Alloc("v_sst_a_os", 1)
	v.SstBOs = t.Alloc("v_sst_b_os", 1)
	v.SldAOs = t.Alloc("v_sld_a_os", 1)
	v.SldBOs = t.Alloc("v_sld_b_os", 1)

	v.InOs = t.Alloc("v_in_os", rows)
	if nxe {
		v.InIhi = t.Alloc("v_in_ihi", rows)
		v.InIwi = t.Alloc("v_in_iwi", rows)
	}
	v.InFlag = t.Alloc("v_in_flag", rows)
	if nxe {
		v.InFlagN = t.Alloc("v_in_flag_n", rows)
	}

	v.WeiOs = t.Alloc("v_wei_os", 1)
	v.Ic = t.Alloc("v_gtc_ic", 1)
	v.InInb = t.Alloc("v_in_inb", 1)
	v.WeiIk = t.Alloc("v_wei_ik", 1)
	if nxe {
		v.InIy = t.Alloc("v_in_iy", 1)
		v.InIx = t.Alloc("v_in_ix", 1)
	}
	v.SliceIc = t.Alias("v_move_slice_k_ic", v.Ic, 0, 1)
	if nxe {
		v.SliceIy = t.Alias("v_move_slice_k_iy", v.InIy, 0, 1)
		v.SliceIx = t.Alias("v_move_slice_k_ix", v.InIx, 0, 1)
	}

	v.GemmIn = t.Alloc("v_gemm_in", 1)
	v.GemmIm = t.Alloc("v_gemm_im", 1)
	v.OutOs = t.Alloc("v_out_os", 1)
	v.OutIm = t.Alloc("v_out_im", 1)
	v.OutIn = t.Alloc("v_out_in", 1)
	v.Tmp = t.AllocAligned("v_tmp", 6, 2)

	if err := t.Check(); err != nil {
		panic("bug: " + err.Error())
	}
	if v.Staging > v.C.Len+reusableIfXdlops(cfg) {
		panic("bug: staging does not fit")
	}
	if n := t.Count(); n > tunable.MaxVGPRs {
		return nil, capacity("vector", n, tunable.MaxVGPRs, cfg)
	}
	return v, nil
}

func reusableIfXdlops(cfg *tunable.Config) int {
	if cfg.Xdlops == nil {
		return 0
	}
	return reusable(cfg)
}

type Agpr struct {
	*gpr.Table
	C *gpr.Sym
}

func PlanAgpr(cfg *tunable.Config) (*Agpr, error) {
	if cfg.Xdlops == nil {
		return nil, nil
	}
	t := gpr.NewTable(asm.AGPR, "a_end")
	a := &Agpr{Table: t, C: t.Alloc("a_c", cfg.Accumulators())}
	if n := t.Count(); n > tunable.MaxAGPRs {
		return nil, capacity("accumulation", n, tunable.MaxAGPRs, cfg)
	}
	return a, nil
}
