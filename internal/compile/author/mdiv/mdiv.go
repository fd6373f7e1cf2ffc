package mdiv

import (
	"fmt"

	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/isa"
	"igemmgen/internal/compile/author/macro"
)

// Pair is the host side of a magic division: for 0 <= n < 1<<31,
// n/d == (mulhi(n, Magic) + n) >> Shift.
type Pair struct {
	Magic uint32
	Shift uint32
}

func Magic(d uint32) (Pair, error) {
	if d == 0 || d > 1<<31 {
		return Pair{}, fmt.Errorf("magic division by %d", d)
	}
	shift := uint32(0)
	for uint64(1)<<shift < uint64(d) {
		shift++
	}
	magic := (uint64(1)<<32)*((uint64(1)<<shift)-uint64(d))/uint64(d) + 1
	return Pair{Magic: uint32(magic), Shift: shift}, nil
}

// Div is what the kernel computes with p.
func (p Pair) Div(n uint32) uint32 {
	hi := uint32((uint64(n) * uint64(p.Magic)) >> 32)
	return (hi + n) >> p.Shift
}

// PackShifts packs up to four shifts, one per byte, low byte first.
func PackShifts(shifts ...uint32) uint32 {
	if len(shifts) > 4 {
		panic("bug")
	}
	var pack uint32
	for i, s := range shifts {
		pack |= (s & 0xff) << (8 * uint(i))
	}
	return pack
}

// ShiftField is the s_bfe_u32 operand selecting byte i of a shift pack.
func ShiftField(i int) asm.Hex {
	return asm.Hex(0x00080000 | 8*i)
}

func sreg(name string) macro.Formal { return macro.Reg(name, asm.SGPR) }

func vreg(name string) macro.Formal { return macro.Reg(name, asm.VGPR) }

func reg(o asm.Operand) asm.Reg { return o.(asm.Reg) }

// RemSS is s_rem, s_quot = s_numer divmod s_denom using a magic pair.
// s_quot may share a register with s_magic.
func RemSS(kind macro.Kind) *macro.Macro {
	return macro.New(kind, ".mdiv_u32_rem_ss", []macro.Formal{
		sreg("s_rem"), sreg("s_quot"), sreg("s_numer"),
		sreg("s_magic"), sreg("s_shift"), sreg("s_denom"), sreg("s_tmp"),
	}, func(a []asm.Operand) asm.Gen {
		rem, quot, numer := reg(a[0]), reg(a[1]), reg(a[2])
		magic, shift, denom, tmp := reg(a[3]), reg(a[4]), reg(a[5]), reg(a[6])
		return asm.Seq{
			isa.SMulHiU32.Of(tmp, magic, numer),
			isa.SAddU32.Of(tmp, tmp, numer),
			isa.SLshrB32.Of(quot, tmp, shift),
			isa.SMulI32.Of(tmp, denom, quot),
			isa.SSubU32.Of(rem, numer, tmp),
		}
	})
}

// RemVS is v_rem, v_quot = v_numer divmod s_denom using a magic pair.
func RemVS(kind macro.Kind) *macro.Macro {
	return macro.New(kind, ".mdiv_u32_rem_vs", []macro.Formal{
		vreg("v_rem"), vreg("v_quot"), vreg("v_numer"),
		sreg("s_magic"), sreg("s_shift"), sreg("s_denom"), vreg("v_tmp"),
	}, func(a []asm.Operand) asm.Gen {
		rem, quot, numer := reg(a[0]), reg(a[1]), reg(a[2])
		magic, shift, denom, tmp := reg(a[3]), reg(a[4]), reg(a[5]), reg(a[6])
		return asm.Seq{
			isa.VMulHiU32.Of(tmp, magic, numer),
			isa.VAddU32.Of(tmp, tmp, numer),
			isa.VLshrrevB32.Of(quot, shift, tmp),
			isa.VMulLoU32.Of(tmp, denom, quot),
			isa.VSubU32.Of(rem, numer, tmp),
		}
	})
}

// Float bits of 2^32 - 512, the largest float below 2^32 that keeps the
// reciprocal estimate an underestimate.
const recipScale asm.Hex = 0x4f7ffffe

// exact leaves n/d in t+1 and n%d in t+2, clobbering t.
func exact(n, d, t asm.Reg) asm.Seq {
	z, q, r := t.At(0), t.At(1), t.At(2)
	to := asm.Seq{
		isa.VCvtF32U32.Of(z, d),
		isa.VRcpIflagF32.Of(z, z),
		isa.VMulF32.Of(z, recipScale, z),
		isa.VCvtU32F32.Of(z, z),
		isa.VMulLoU32.Of(q, d, z),
		isa.VSubU32.Of(q, asm.Imm(0), q),
		isa.VMulHiU32.Of(q, z, q),
		isa.VAddU32.Of(z, z, q),
		isa.VMulHiU32.Of(q, n, z),
		isa.VMulLoU32.Of(r, d, q),
		isa.VSubU32.Of(r, n, r),
	}
	for i := 0; i < 2; i++ {
		to = append(to,
			isa.VCmpLeU32.Of(isa.VCC, d, r),
			isa.VAddU32.Of(z, asm.Imm(1), q),
			isa.VCndmaskB32.Of(q, q, z, isa.VCC),
			isa.VSubrevU32.Of(z, d, r),
			isa.VCndmaskB32.Of(r, r, z, isa.VCC),
		)
	}
	return to
}

// DivRemVS is exact division without magic numbers. v_tmp names three
// scratch registers.
func DivRemVS(kind macro.Kind) *macro.Macro {
	return macro.New(kind, ".v_u32_div_rem_vs", []macro.Formal{
		vreg("v_rem"), vreg("v_quot"), vreg("v_numer"), sreg("s_denom"),
		macro.Regs("v_tmp", asm.VGPR, 3),
	}, func(a []asm.Operand) asm.Gen {
		rem, quot, numer, denom, tmp := reg(a[0]), reg(a[1]), reg(a[2]), reg(a[3]), reg(a[4])
		return append(exact(numer, denom, tmp),
			isa.VMovB32.Of(quot, tmp.At(1)),
			isa.VMovB32.Of(rem, tmp.At(2)),
		)
	})
}

// DivRemSS divides scalars through the vector unit. v_tmp names four
// scratch registers.
func DivRemSS(kind macro.Kind) *macro.Macro {
	return macro.New(kind, ".v_u32_div_rem_ss", []macro.Formal{
		sreg("s_rem"), sreg("s_quot"), sreg("s_numer"), sreg("s_denom"),
		macro.Regs("v_tmp", asm.VGPR, 4),
	}, func(a []asm.Operand) asm.Gen {
		rem, quot, numer, denom, tmp := reg(a[0]), reg(a[1]), reg(a[2]), reg(a[3]), reg(a[4])
		to := asm.Seq{isa.VMovB32.Of(tmp.At(3), numer)}
		to = append(to, exact(tmp.At(3), denom, tmp)...)
		return append(to,
			isa.VReadfirstlane.Of(quot, tmp.At(1)),
			isa.VReadfirstlane.Of(rem, tmp.At(2)),
		)
	})
}
