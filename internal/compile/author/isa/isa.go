package isa

import (
	"fmt"
	"strconv"

	"igemmgen/internal/compile/author/asm"
)

const (
	SAddU32          asm.Op = "s_add_u32"
	SAddcU32         asm.Op = "s_addc_u32"
	SAndB32          asm.Op = "s_and_b32"
	SBarrier         asm.Op = "s_barrier"
	SBfeU32          asm.Op = "s_bfe_u32"
	SBranch          asm.Op = "s_branch"
	SCbranchScc0     asm.Op = "s_cbranch_scc0"
	SCbranchScc1     asm.Op = "s_cbranch_scc1"
	SCmpGtI32        asm.Op = "s_cmp_gt_i32"
	SEndpgm          asm.Op = "s_endpgm"
	SLoadDword       asm.Op = "s_load_dword"
	SLoadDwordx2     asm.Op = "s_load_dwordx2"
	SLoadDwordx4     asm.Op = "s_load_dwordx4"
	SLoadDwordx8     asm.Op = "s_load_dwordx8"
	SLshlB32         asm.Op = "s_lshl_b32"
	SLshrB32         asm.Op = "s_lshr_b32"
	SMovB32          asm.Op = "s_mov_b32"
	SMovB64          asm.Op = "s_mov_b64"
	SMulHiU32        asm.Op = "s_mul_hi_u32"
	SMulI32          asm.Op = "s_mul_i32"
	SNop             asm.Op = "s_nop"
	SSubI32          asm.Op = "s_sub_i32"
	SSubU32          asm.Op = "s_sub_u32"
	SWaitcnt         asm.Op = "s_waitcnt"
	VAccvgprReadB32  asm.Op = "v_accvgpr_read_b32"
	VAccvgprWriteB32 asm.Op = "v_accvgpr_write_b32"
	VAddLshlU32      asm.Op = "v_add_lshl_u32"
	VAddU32          asm.Op = "v_add_u32"
	VAndB32          asm.Op = "v_and_b32"
	VCmpGtU32        asm.Op = "v_cmp_gt_u32"
	VCmpLeU32        asm.Op = "v_cmp_le_u32"
	VCmpxLeU32       asm.Op = "v_cmpx_le_u32"
	VCndmaskB32      asm.Op = "v_cndmask_b32"
	VCvtF16F32       asm.Op = "v_cvt_f16_f32"
	VCvtF32U32       asm.Op = "v_cvt_f32_u32"
	VCvtU32F32       asm.Op = "v_cvt_u32_f32"
	VFmacF32         asm.Op = "v_fmac_f32"
	VLshlOrB32       asm.Op = "v_lshl_or_b32"
	VLshlrevB32      asm.Op = "v_lshlrev_b32"
	VLshrrevB32      asm.Op = "v_lshrrev_b32"
	VMacF32          asm.Op = "v_mac_f32"
	VMadI32I24       asm.Op = "v_mad_i32_i24"
	VMadU32U24       asm.Op = "v_mad_u32_u24"
	VMovB32          asm.Op = "v_mov_b32"
	VMulF32          asm.Op = "v_mul_f32"
	VMulHiU32        asm.Op = "v_mul_hi_u32"
	VMulLoU32        asm.Op = "v_mul_lo_u32"
	VOrB32           asm.Op = "v_or_b32"
	VRcpIflagF32     asm.Op = "v_rcp_iflag_f32"
	VReadfirstlane   asm.Op = "v_readfirstlane_b32"
	VSubU32          asm.Op = "v_sub_u32"
	VSubrevU32       asm.Op = "v_subrev_u32"
	VXorB32          asm.Op = "v_xor_b32"
	DsReadB32        asm.Op = "ds_read_b32"
	DsReadB64        asm.Op = "ds_read_b64"
	DsReadB128       asm.Op = "ds_read_b128"
	DsWriteB32       asm.Op = "ds_write_b32"
	DsWriteB64       asm.Op = "ds_write_b64"
	DsWriteB128      asm.Op = "ds_write_b128"
	BufferLoadDword  asm.Op = "buffer_load_dword"
	BufferLoadX2     asm.Op = "buffer_load_dwordx2"
	BufferLoadX3     asm.Op = "buffer_load_dwordx3"
	BufferLoadX4     asm.Op = "buffer_load_dwordx4"
	BufferStoreDword asm.Op = "buffer_store_dword"
	BufferStoreShort asm.Op = "buffer_store_short"
)

var (
	VCC  = asm.Special("vcc")
	Exec = asm.Special("exec")
)

// Buffer resource words 2 and 3: unbounded num_records and the dword
// format flags the buffer instructions expect.
const (
	RsrcNumRecords asm.Hex = 0xffffffff
	RsrcConfig     asm.Hex = 0x27000
)

// ExecAll restores the execution mask to every lane.
func ExecAll() asm.Inst {
	return SMovB64.Of(Exec, asm.Imm(-1))
}

func SLoad(dst, base asm.Reg, off asm.Operand) asm.Inst {
	var op asm.Op
	switch dst.Count() {
	case 1:
		op = SLoadDword
	case 2:
		op = SLoadDwordx2
	case 4:
		op = SLoadDwordx4
	case 8:
		op = SLoadDwordx8
	default:
		panic("bug")
	}
	return op.Of(dst, base, off)
}

func offset(n int) []string {
	if n == 0 {
		return nil
	}
	return []string{"offset:" + strconv.Itoa(n)}
}

// BufferLoad reads dst.Count() dwords at rsrc + vaddr + soffset + off.
func BufferLoad(dst, vaddr, rsrc asm.Reg, soffset asm.Operand, off int) asm.Inst {
	if off < 0 || off > 4095 {
		panic("bug")
	}
	var op asm.Op
	switch dst.Count() {
	case 1:
		op = BufferLoadDword
	case 2:
		op = BufferLoadX2
	case 3:
		op = BufferLoadX3
	case 4:
		op = BufferLoadX4
	default:
		panic("bug")
	}
	return op.Of(dst, vaddr, rsrc, soffset).With(append([]string{"offen"}, offset(off)...)...)
}

// BufferStore writes the low bytes of src: 4 bytes as a dword, 2 as a short.
func BufferStore(src, vaddr, rsrc asm.Reg, soffset asm.Operand, bytes int) asm.Inst {
	op := BufferStoreDword
	if bytes == 2 {
		op = BufferStoreShort
	}
	return op.Of(src, vaddr, rsrc, soffset).With("offen")
}

func dsOp(bytes int, b32, b64, b128 asm.Op) asm.Op {
	switch bytes {
	case 4:
		return b32
	case 8:
		return b64
	case 16:
		return b128
	}
	panic("bug")
}

func checkDs(off int) {
	if off < 0 || off > 65535 {
		panic(fmt.Sprintf("bug: lds offset %d", off))
	}
}

// DsRead reads bytes from LDS into consecutive registers starting at dst,
// splitting into the widest reads available.
func DsRead(dst, addr asm.Reg, bytes, off int) asm.Seq {
	var to asm.Seq
	for done := 0; done < bytes; {
		n := 16
		for n > bytes-done {
			n >>= 1
		}
		checkDs(off + done)
		op := dsOp(n, DsReadB32, DsReadB64, DsReadB128)
		to = append(to, op.Of(dst.Span(done/4, n/4), addr).With(offset(off+done)...))
		done += n
	}
	return to
}

func DsWrite(addr, src asm.Reg, off int) asm.Inst {
	checkDs(off)
	op := dsOp(src.Count()*4, DsWriteB32, DsWriteB64, DsWriteB128)
	return op.Of(addr, src).With(offset(off)...)
}

func Waitcnt(vm, lgkm int) asm.Inst {
	var arg string
	if vm >= 0 {
		arg = "vmcnt(" + strconv.Itoa(vm) + ")"
	}
	if lgkm >= 0 {
		if arg != "" {
			arg += " "
		}
		arg += "lgkmcnt(" + strconv.Itoa(lgkm) + ")"
	}
	return SWaitcnt.Of(asm.Raw(arg))
}

// Log2 of a power of two.
func Log2(n int) int {
	if n <= 0 || n&(n-1) != 0 {
		panic("bug")
	}
	i := 0
	for n > 1 {
		n >>= 1
		i += 1
	}
	return i
}
