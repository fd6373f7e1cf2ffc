// Package xfer moves tiles between global memory, registers and LDS.
package xfer

import (
	"fmt"

	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/isa"
	"igemmgen/internal/compile/author/macro"
)

// Dispatch peels one cluster dimension off the flat thread id in tid:
// dst = (tid % cluster) * thread, then tid /= cluster. The last dimension
// takes whatever is left of tid.
func Dispatch(dst, tid asm.Reg, cluster, thread int, last bool) asm.Seq {
	if last {
		if thread == 1 {
			return asm.Seq{isa.VMovB32.Of(dst, tid)}
		}
		return asm.Seq{isa.VLshlrevB32.Of(dst, asm.Imm(isa.Log2(thread)), tid)}
	}
	if cluster == 1 {
		return asm.Seq{isa.VMovB32.Of(dst, asm.Imm(0))}
	}
	to := asm.Seq{isa.VAndB32.Of(dst, asm.Imm(cluster-1), tid)}
	if thread != 1 {
		to = append(to, isa.VLshlrevB32.Of(dst, asm.Imm(isa.Log2(thread)), dst))
	}
	return append(to, isa.VLshrrevB32.Of(tid, asm.Imm(isa.Log2(cluster)), tid))
}

// GlobalLoadPlan is the shape of one thread's global load: Rows
// separately addressed rows of Cols contiguous elements, Vector elements
// per instruction.
type GlobalLoadPlan struct {
	Rows      int
	Cols      int
	Vector    int
	DataBytes int
}

func (p GlobalLoadPlan) Regs() int { return p.Rows * p.Cols * p.DataBytes / 4 }

func (p GlobalLoadPlan) Issues() int { return p.Rows * p.Cols / p.Vector }

func (p GlobalLoadPlan) dwords() int { return p.Vector * p.DataBytes / 4 }

func (p GlobalLoadPlan) check() {
	if p.Cols%p.Vector != 0 || p.Vector*p.DataBytes%4 != 0 || p.dwords() > 4 {
		panic(fmt.Sprintf("bug: load plan %+v", p))
	}
}

// row loads one row given its voffset and soffset.
func (p GlobalLoadPlan) row(dst, vos, rsrc asm.Reg, soff asm.Operand, r int) asm.Seq {
	to := make(asm.Seq, 0, p.Cols/p.Vector)
	for j := 0; j < p.Cols/p.Vector; j++ {
		at := (r*p.Cols + j*p.Vector) * p.DataBytes / 4
		to = append(to, isa.BufferLoad(dst.Span(at, p.dwords()), vos, rsrc, soff, j*p.Vector*p.DataBytes))
	}
	return to
}

func (p GlobalLoadPlan) name(base string) string {
	return fmt.Sprintf("%s_r%dx%d_v%d_b%d", base, p.Rows, p.Cols, p.Vector, p.DataBytes)
}

func reg(o asm.Operand) asm.Reg { return o.(asm.Reg) }

// InputLoad loads rows with a voffset each. When flagged, a row is only
// read in lanes whose flag is 1 and reads as zero elsewhere.
func InputLoad(kind macro.Kind, p GlobalLoadPlan, flagged bool) *macro.Macro {
	p.check()
	name := p.name(".v_gld_in")
	formals := []macro.Formal{
		macro.Regs("v_dst", asm.VGPR, p.Regs()),
		macro.Regs("s_ptr", asm.SGPR, 4),
		macro.Regs("v_os", asm.VGPR, p.Rows),
	}
	if flagged {
		name += "_flag"
		formals = append(formals, macro.Regs("v_flag", asm.VGPR, p.Rows))
	}
	return macro.New(kind, name, formals, func(a []asm.Operand) asm.Gen {
		dst, ptr, os := reg(a[0]), reg(a[1]), reg(a[2])
		var to asm.Seq
		if flagged {
			for i := 0; i < p.Regs(); i++ {
				to = append(to, isa.VMovB32.Of(dst.At(i), asm.Imm(0)))
			}
		}
		for r := 0; r < p.Rows; r++ {
			if flagged {
				to = append(to, isa.VCmpxLeU32.Of(isa.VCC, asm.Imm(1), reg(a[3]).At(r)))
			}
			to = append(to, p.row(dst, os.At(r), ptr, asm.Imm(0), r)...)
			if flagged {
				to = append(to, isa.ExecAll())
			}
		}
		return to
	})
}

// WeightLoad loads rows that share one voffset and differ by a scalar
// row stride. With precache the soffset of row r >= 1 is s_offset+r-1.
func WeightLoad(kind macro.Kind, p GlobalLoadPlan, precache bool) *macro.Macro {
	p.check()
	name := p.name(".v_gld_wei")
	formals := []macro.Formal{
		macro.Regs("v_dst", asm.VGPR, p.Regs()),
		macro.Regs("s_ptr", asm.SGPR, 4),
		macro.Reg("v_os", asm.VGPR),
	}
	if precache && p.Rows > 1 {
		name += "_pc"
		formals = append(formals, macro.Regs("s_offset", asm.SGPR, p.Rows-1))
	} else if p.Rows > 1 {
		name += "_st"
		formals = append(formals, macro.Reg("s_stride", asm.SGPR), macro.Reg("s_tmp", asm.SGPR))
	}
	return macro.New(kind, name, formals, func(a []asm.Operand) asm.Gen {
		dst, ptr, os := reg(a[0]), reg(a[1]), reg(a[2])
		var to asm.Seq
		for r := 0; r < p.Rows; r++ {
			var soff asm.Operand = asm.Imm(0)
			switch {
			case r == 0:
			case precache:
				soff = reg(a[3]).At(r - 1)
			case r == 1:
				to = append(to, isa.SMovB32.Of(reg(a[4]), reg(a[3])))
				soff = reg(a[4])
			default:
				to = append(to, isa.SAddU32.Of(reg(a[4]), reg(a[4]), reg(a[3])))
				soff = reg(a[4])
			}
			to = append(to, p.row(dst, os, ptr, soff, r)...)
		}
		return to
	})
}

// LdsTile is one operand's LDS tile, laid out as [k/KPack][Dim][KPack].
type LdsTile struct {
	Dim       int
	KPack     int
	DataBytes int
}

// Offset is the byte offset of element (k, pos).
func (t LdsTile) Offset(k, pos int) int {
	return ((k/t.KPack*t.Dim+pos)*t.KPack + k%t.KPack) * t.DataBytes
}

// SharedStorePlan places a thread's loaded rows into an LDS tile. Row r
// of the thread sits RowStride positions after row r-1.
type SharedStorePlan struct {
	Rows      int
	Cols      int
	KPack     int
	DataBytes int
	Dim       int
	RowStride int
}

func (p SharedStorePlan) Regs() int { return p.Rows * p.Cols * p.DataBytes / 4 }

func (p SharedStorePlan) Tile() LdsTile {
	return LdsTile{Dim: p.Dim, KPack: p.KPack, DataBytes: p.DataBytes}
}

// Offset is where the KPack elements q*KPack.. of row r go, relative to
// the thread's store address.
func (p SharedStorePlan) Offset(r, q int) int {
	return p.Tile().Offset(q*p.KPack, r*p.RowStride)
}

func SharedStore(kind macro.Kind, p SharedStorePlan) *macro.Macro {
	if p.Cols%p.KPack != 0 || p.KPack*p.DataBytes%4 != 0 {
		panic(fmt.Sprintf("bug: store plan %+v", p))
	}
	name := fmt.Sprintf(".v_sst_r%dx%d_k%d_b%d_d%d_s%d", p.Rows, p.Cols, p.KPack, p.DataBytes, p.Dim, p.RowStride)
	return macro.New(kind, name, []macro.Formal{
		macro.Regs("v_src", asm.VGPR, p.Regs()),
		macro.Reg("v_sst_os", asm.VGPR),
	}, func(a []asm.Operand) asm.Gen {
		src, os := reg(a[0]), reg(a[1])
		n := p.KPack * p.DataBytes / 4
		var to asm.Seq
		for r := 0; r < p.Rows; r++ {
			for q := 0; q < p.Cols/p.KPack; q++ {
				at := (r*p.Cols + q*p.KPack) * p.DataBytes / 4
				to = append(to, isa.DsWrite(os, src.Span(at, n), p.Offset(r, q)))
			}
		}
		return to
	})
}
