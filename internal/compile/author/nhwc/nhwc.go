// Package nhwc holds the address macros of NHWC input tensors: validity
// flags, spatial coordinate updates and the sliding of the gemm k window
// across c, x and y.
package nhwc

import (
	"fmt"

	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/isa"
	"igemmgen/internal/compile/author/macro"
)

func sreg(name string) macro.Formal { return macro.Reg(name, asm.SGPR) }

func vreg(name string) macro.Formal { return macro.Reg(name, asm.VGPR) }

func vregs(name string, n int) macro.Formal { return macro.Regs(name, asm.VGPR, n) }

func reg(o asm.Operand) asm.Reg { return o.(asm.Reg) }

func flag(dst, from asm.Operand, ih, iw, h, w asm.Reg) asm.Seq {
	return asm.Seq{
		isa.VCmpGtU32.Of(isa.VCC, h, ih),
		isa.VCndmaskB32.Of(dst, asm.Imm(0), from, isa.VCC),
		isa.VCmpGtU32.Of(isa.VCC, w, iw),
		isa.VCndmaskB32.Of(dst, asm.Imm(0), dst, isa.VCC),
	}
}

// SetFlagHW sets v_flag to 1 where 0 <= ih < h and 0 <= iw < w.
// Coordinates left of the padding wrap to large unsigned values.
func SetFlagHW(kind macro.Kind) *macro.Macro {
	return macro.New(kind, ".v_set_flag_hw", []macro.Formal{
		vreg("v_flag"), vreg("v_ih"), vreg("v_iw"), sreg("s_h"), sreg("s_w"),
	}, func(a []asm.Operand) asm.Gen {
		return flag(a[0], asm.Imm(1), reg(a[1]), reg(a[2]), reg(a[3]), reg(a[4]))
	})
}

// SetFlagNHW is SetFlagHW masked by the batch flag v_flag_n.
func SetFlagNHW(kind macro.Kind) *macro.Macro {
	return macro.New(kind, ".v_set_flag_nhw", []macro.Formal{
		vreg("v_flag"), vreg("v_flag_n"), vreg("v_ih"), vreg("v_iw"), sreg("s_h"), sreg("s_w"),
	}, func(a []asm.Operand) asm.Gen {
		return flag(a[0], a[1], reg(a[2]), reg(a[3]), reg(a[4]), reg(a[5]))
	})
}

// InUpdateHW computes input coordinates from output coordinates that are
// already scaled by stride and biased by padding:
// ih = iho + dilation_h*iy, iw = iwo + dilation_w*ix.
func InUpdateHW(kind macro.Kind) *macro.Macro {
	return macro.New(kind, ".v_in_update_hw", []macro.Formal{
		vreg("v_in_ihi"), vreg("v_in_iwi"), vreg("v_in_iho"), vreg("v_in_iwo"),
		vreg("v_in_iy"), vreg("v_in_ix"), sreg("s_dilation_h"), sreg("s_dilation_w"),
	}, func(a []asm.Operand) asm.Gen {
		return asm.Seq{
			isa.VMadI32I24.Of(a[0], a[6], a[4], a[2]),
			isa.VMadI32I24.Of(a[1], a[7], a[5], a[3]),
		}
	})
}

// InUpdateOS computes v_os = v_os_base + (ih*wi + iw)*s_stride_wi, with
// the stride in bytes.
func InUpdateOS(kind macro.Kind) *macro.Macro {
	return macro.New(kind, ".v_in_update_os", []macro.Formal{
		vreg("v_in_os"), vreg("v_in_os_base"), vreg("v_in_ihi"), vreg("v_in_iwi"),
		sreg("s_wi"), sreg("s_in_stride_wi"), vreg("v_tmp"),
	}, func(a []asm.Operand) asm.Gen {
		tmp := a[6]
		return asm.Seq{
			isa.VMulLoU32.Of(tmp, a[4], a[2]),
			isa.VAddU32.Of(tmp, tmp, a[3]),
			isa.VMulLoU32.Of(tmp, a[5], tmp),
			isa.VAddU32.Of(a[0], a[1], tmp),
		}
	})
}

// Window is the register set a slide touches. Rows is the number of
// input pixels per thread.
type Window struct {
	Rows int

	InOs, WeiOs            asm.Reg
	Ic, Iy, Ix             asm.Reg
	Ihi, Iwi, Flag, FlagN  asm.Reg
	StrideC, StepC         asm.Reg
	NumC, NumX             asm.Reg
	DiffX, DiffY, DiffSubW asm.Reg
	DilationH, DilationW   asm.Reg
	Hi, Wi                 asm.Reg
}

func (w Window) args() []asm.Operand {
	return []asm.Operand{
		w.InOs, w.WeiOs, w.Ic, w.Iy, w.Ix, w.Ihi, w.Iwi, w.Flag, w.FlagN,
		w.StrideC, w.StepC, w.NumC, w.NumX, w.DiffX, w.DiffY, w.DiffSubW,
		w.DilationH, w.DilationW, w.Hi, w.Wi,
	}
}

// MoveSliceWindow advances gemm k by one block for a general
// convolution. Channel overflow carries into x, x overflow into y; each
// carry runs with exec narrowed to the lanes that overflow.
func MoveSliceWindow(kind macro.Kind, rows int) *macro.Macro {
	formals := []macro.Formal{
		vregs("v_in_os", rows), vreg("v_wei_os"),
		vreg("v_ic"), vreg("v_iy"), vreg("v_ix"),
		vregs("v_in_ihi", rows), vregs("v_in_iwi", rows),
		vregs("v_in_flag", rows), vregs("v_in_flag_n", rows),
		sreg("s_move_slice_k_stride_c"), sreg("s_move_slice_k_c"),
		sreg("s_gemm_k_num_c"), sreg("s_gemm_k_num_x"),
		sreg("s_diff_x"), sreg("s_diff_y"), sreg("s_diff_sub_wi"),
		sreg("s_dilation_h"), sreg("s_dilation_w"), sreg("s_hi"), sreg("s_wi"),
	}
	name := fmt.Sprintf(".v_fwd_gtc_nhwc_move_slice_window_e1_c_r%d", rows)
	return macro.New(kind, name, formals, func(a []asm.Operand) asm.Gen {
		os, weiOs, ic, iy, ix := reg(a[0]), reg(a[1]), reg(a[2]), reg(a[3]), reg(a[4])
		ihi, iwi, fl, fln := reg(a[5]), reg(a[6]), reg(a[7]), reg(a[8])
		strideC, stepC, numC, numX := reg(a[9]), reg(a[10]), reg(a[11]), reg(a[12])
		diffX, diffY, diffSub := reg(a[13]), reg(a[14]), reg(a[15])
		dh, dw, hi, wi := reg(a[16]), reg(a[17]), reg(a[18]), reg(a[19])

		to := asm.Seq{isa.VAddU32.Of(ic, stepC, ic)}
		for r := 0; r < rows; r++ {
			to = append(to, isa.VAddU32.Of(os.At(r), strideC, os.At(r)))
		}
		to = append(to,
			isa.VAddU32.Of(weiOs, strideC, weiOs),
			isa.VCmpxLeU32.Of(isa.VCC, numC, ic),
			isa.VSubrevU32.Of(ic, numC, ic),
			isa.VAddU32.Of(ix, asm.Imm(1), ix),
		)
		for r := 0; r < rows; r++ {
			to = append(to,
				isa.VAddU32.Of(os.At(r), diffX, os.At(r)),
				isa.VAddU32.Of(iwi.At(r), dw, iwi.At(r)),
			)
		}
		to = append(to,
			isa.ExecAll(),
			isa.VCmpxLeU32.Of(isa.VCC, numX, ix),
			isa.VSubrevU32.Of(ix, numX, ix),
			isa.VAddU32.Of(iy, asm.Imm(1), iy),
		)
		for r := 0; r < rows; r++ {
			to = append(to,
				isa.VAddU32.Of(os.At(r), diffY, os.At(r)),
				isa.VSubrevU32.Of(iwi.At(r), diffSub, iwi.At(r)),
				isa.VAddU32.Of(ihi.At(r), dh, ihi.At(r)),
			)
		}
		to = append(to, isa.ExecAll())
		for r := 0; r < rows; r++ {
			to = append(to, flag(fl.At(r), fln.At(r), ihi.At(r), iwi.At(r), hi, wi)...)
		}
		return to
	})
}

// CallMoveSliceWindow binds w to MoveSliceWindow.
func CallMoveSliceWindow(m *macro.Macro, w Window) asm.Gen {
	return m.Call(w.args()...)
}

// MoveSliceWindowNxe0 advances gemm k for a 1x1 unit convolution, where
// gemm k is just c and both tensors step linearly.
func MoveSliceWindowNxe0(kind macro.Kind, rows int) *macro.Macro {
	name := fmt.Sprintf(".v_fwd_gtc_nhwc_move_slice_window_nxe0_r%d", rows)
	return macro.New(kind, name, []macro.Formal{
		vregs("v_in_os", rows), vreg("v_wei_os"), sreg("s_move_slice_k_stride_c"),
	}, func(a []asm.Operand) asm.Gen {
		os, weiOs, strideC := reg(a[0]), reg(a[1]), reg(a[2])
		var to asm.Seq
		for r := 0; r < rows; r++ {
			to = append(to, isa.VAddU32.Of(os.At(r), strideC, os.At(r)))
		}
		return append(to, isa.VAddU32.Of(weiOs, strideC, weiOs))
	})
}
