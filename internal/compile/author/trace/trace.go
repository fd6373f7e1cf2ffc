// Package trace runs instruction streams on a model of one wave.
package trace

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/x448/float16"

	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/isa"
)

const Lanes = 64

// Access is one lane of a memory instruction.
type Access struct {
	Op   asm.Op
	Lane int
	Addr uint32
	Data []uint32
}

type Wave struct {
	S    [128]uint32
	V    [256][Lanes]uint32
	A    [256][Lanes]uint32
	Exec uint64
	VCC  uint64
	SCC  bool

	// Syms resolves register and kernel argument symbols.
	Syms    map[string]int
	Kernarg []byte

	Accesses []Access
}

func New(syms map[string]int) *Wave {
	return &Wave{Exec: ^uint64(0), Syms: syms}
}

func (w *Wave) index(r asm.Reg) int {
	if r.Sym == "" {
		return r.Off
	}
	if strings.HasPrefix(r.Sym, `\`) {
		panic("bug: unbound formal " + r.Sym)
	}
	at, ok := w.Syms[r.Sym]
	if !ok {
		panic("bug: unknown symbol " + r.Sym)
	}
	return at + r.Off
}

func (w *Wave) SGPR(r asm.Reg) uint32 { return w.S[w.index(r)] }

func (w *Wave) SetSGPR(r asm.Reg, x uint32) { w.S[w.index(r)] = x }

func (w *Wave) VGPR(r asm.Reg, lane int) uint32 { return w.V[w.index(r)][lane] }

func (w *Wave) SetVGPR(r asm.Reg, lane int, x uint32) { w.V[w.index(r)][lane] = x }

// Fill sets r to f(lane) in every lane.
func (w *Wave) Fill(r asm.Reg, f func(lane int) uint32) {
	at := w.index(r)
	for l := 0; l < Lanes; l++ {
		w.V[at][l] = f(l)
	}
}

func (w *Wave) active(lane int) bool { return w.Exec>>uint(lane)&1 != 0 }

func (w *Wave) scalar(o asm.Operand) uint32 {
	switch x := o.(type) {
	case asm.Reg:
		if x.File != asm.SGPR {
			panic("bug: scalar read of " + string(asm.Text(x)))
		}
		return w.SGPR(x)
	case asm.Imm:
		return uint32(x)
	case asm.Hex:
		return uint32(x)
	case asm.SymImm:
		at, ok := w.Syms[string(x)]
		if !ok {
			panic("bug: unknown symbol " + string(x))
		}
		return uint32(at)
	case asm.Special:
		switch x {
		case isa.VCC:
			return uint32(w.VCC)
		case isa.Exec:
			return uint32(w.Exec)
		}
	}
	panic("bug: operand " + string(asm.Text(o)))
}

// lane reads o as a per-lane source.
func (w *Wave) lane(o asm.Operand, l int) uint32 {
	if r, ok := o.(asm.Reg); ok {
		switch r.File {
		case asm.VGPR:
			return w.VGPR(r, l)
		case asm.AGPR:
			return w.A[w.index(r)][l]
		}
	}
	return w.scalar(o)
}

func (w *Wave) mask(o asm.Operand) uint64 {
	switch o {
	case isa.VCC:
		return w.VCC
	case isa.Exec:
		return w.Exec
	}
	panic("bug: mask " + string(asm.Text(o)))
}

func f32(x uint32) float32 { return math.Float32frombits(x) }

func bits(x float32) uint32 { return math.Float32bits(x) }

func cvtU32(x float32) uint32 {
	switch {
	case x != x, x <= 0:
		return 0
	case x >= 4294967296:
		return math.MaxUint32
	}
	return uint32(x)
}

func sext24(x uint32) int32 { return int32(x<<8) >> 8 }

func modOffset(mods []string) int {
	for _, m := range mods {
		if v, ok := strings.CutPrefix(m, "offset:"); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				panic("bug: " + m)
			}
			return n
		}
	}
	return 0
}

var vop2 = map[asm.Op]func(a, b uint32) uint32{
	isa.VAddU32:     func(a, b uint32) uint32 { return a + b },
	isa.VSubU32:     func(a, b uint32) uint32 { return a - b },
	isa.VSubrevU32:  func(a, b uint32) uint32 { return b - a },
	isa.VAndB32:     func(a, b uint32) uint32 { return a & b },
	isa.VOrB32:      func(a, b uint32) uint32 { return a | b },
	isa.VXorB32:     func(a, b uint32) uint32 { return a ^ b },
	isa.VLshlrevB32: func(a, b uint32) uint32 { return b << (a & 31) },
	isa.VLshrrevB32: func(a, b uint32) uint32 { return b >> (a & 31) },
	isa.VMulLoU32:   func(a, b uint32) uint32 { return a * b },
	isa.VMulHiU32:   func(a, b uint32) uint32 { return uint32(uint64(a) * uint64(b) >> 32) },
	isa.VMulF32:     func(a, b uint32) uint32 { return bits(f32(a) * f32(b)) },
}

var vop3 = map[asm.Op]func(a, b, c uint32) uint32{
	isa.VAddLshlU32: func(a, b, c uint32) uint32 { return (a + b) << (c & 31) },
	isa.VLshlOrB32:  func(a, b, c uint32) uint32 { return a<<(b&31) | c },
	isa.VMadU32U24:  func(a, b, c uint32) uint32 { return (a&0xffffff)*(b&0xffffff) + c },
	isa.VMadI32I24:  func(a, b, c uint32) uint32 { return uint32(sext24(a)*sext24(b)) + c },
}

var vop1 = map[asm.Op]func(a uint32) uint32{
	isa.VMovB32:      func(a uint32) uint32 { return a },
	isa.VCvtF32U32:   func(a uint32) uint32 { return bits(float32(a)) },
	isa.VCvtU32F32:   func(a uint32) uint32 { return cvtU32(f32(a)) },
	isa.VRcpIflagF32: func(a uint32) uint32 { return bits(1 / f32(a)) },
	isa.VCvtF16F32:   func(a uint32) uint32 { return uint32(float16.Fromfloat32(f32(a)).Bits()) },
}

var vcmp = map[asm.Op]func(a, b uint32) bool{
	isa.VCmpGtU32:  func(a, b uint32) bool { return a > b },
	isa.VCmpLeU32:  func(a, b uint32) bool { return a <= b },
	isa.VCmpxLeU32: func(a, b uint32) bool { return a <= b },
}

var salu = map[asm.Op]func(a, b uint32) uint32{
	isa.SAndB32:   func(a, b uint32) uint32 { return a & b },
	isa.SLshlB32:  func(a, b uint32) uint32 { return a << (b & 31) },
	isa.SLshrB32:  func(a, b uint32) uint32 { return a >> (b & 31) },
	isa.SMulI32:   func(a, b uint32) uint32 { return a * b },
	isa.SMulHiU32: func(a, b uint32) uint32 { return uint32(uint64(a) * uint64(b) >> 32) },
	isa.SSubI32:   func(a, b uint32) uint32 { return a - b },
	isa.SBfeU32: func(a, b uint32) uint32 {
		off, width := b&31, b>>16&0x7f
		if width == 0 {
			return 0
		}
		return a >> off & (1<<width - 1)
	},
}

func (w *Wave) vwrite(dst asm.Operand, f func(l int) uint32) {
	r := dst.(asm.Reg)
	for l := 0; l < Lanes; l++ {
		if !w.active(l) {
			continue
		}
		x := f(l)
		if r.File == asm.AGPR {
			w.A[w.index(r)][l] = x
		} else {
			w.SetVGPR(r, l, x)
		}
	}
}

// Run executes the instructions of gen in order. Control flow is not
// modelled.
func (w *Wave) Run(gen asm.Gen) error {
	for _, in := range asm.Insts(gen) {
		if err := w.step(in); err != nil {
			return fmt.Errorf("%s: %w", strings.TrimSpace(string(asm.Text(in))), err)
		}
	}
	return nil
}

func (w *Wave) step(in asm.Inst) error {
	a := in.Args
	if f, ok := vop2[in.Op]; ok {
		w.vwrite(a[0], func(l int) uint32 { return f(w.lane(a[1], l), w.lane(a[2], l)) })
		return nil
	}
	if f, ok := vop3[in.Op]; ok {
		w.vwrite(a[0], func(l int) uint32 { return f(w.lane(a[1], l), w.lane(a[2], l), w.lane(a[3], l)) })
		return nil
	}
	if f, ok := vop1[in.Op]; ok {
		w.vwrite(a[0], func(l int) uint32 { return f(w.lane(a[1], l)) })
		return nil
	}
	if f, ok := vcmp[in.Op]; ok {
		var m uint64
		for l := 0; l < Lanes; l++ {
			if w.active(l) && f(w.lane(a[1], l), w.lane(a[2], l)) {
				m |= 1 << uint(l)
			}
		}
		w.VCC = m
		if in.Op == isa.VCmpxLeU32 {
			w.Exec = m
		}
		return nil
	}
	if f, ok := salu[in.Op]; ok {
		w.SetSGPR(a[0].(asm.Reg), f(w.scalar(a[1]), w.scalar(a[2])))
		return nil
	}
	switch in.Op {
	case isa.VCndmaskB32:
		m := w.mask(a[3])
		w.vwrite(a[0], func(l int) uint32 {
			if m>>uint(l)&1 != 0 {
				return w.lane(a[2], l)
			}
			return w.lane(a[1], l)
		})
	case isa.VMacF32, isa.VFmacF32:
		w.vwrite(a[0], func(l int) uint32 {
			return bits(f32(w.lane(a[1], l))*f32(w.lane(a[2], l)) + f32(w.lane(a[0], l)))
		})
	case isa.VAccvgprWriteB32, isa.VAccvgprReadB32:
		w.vwrite(a[0], func(l int) uint32 { return w.lane(a[1], l) })
	case isa.VReadfirstlane:
		for l := 0; l < Lanes; l++ {
			if w.active(l) {
				w.SetSGPR(a[0].(asm.Reg), w.lane(a[1], l))
				return nil
			}
		}
		return fmt.Errorf("no active lane")
	case isa.SMovB32:
		w.SetSGPR(a[0].(asm.Reg), w.scalar(a[1]))
	case isa.SMovB64:
		x := uint64(w.scalar(a[1]))
		if imm, ok := a[1].(asm.Imm); ok && imm < 0 {
			x = ^uint64(0)
		}
		switch a[0] {
		case isa.Exec:
			w.Exec = x
		case isa.VCC:
			w.VCC = x
		default:
			r := a[0].(asm.Reg)
			w.SetSGPR(r.At(0), uint32(x))
			w.SetSGPR(r.At(1), uint32(x>>32))
		}
	case isa.SAddU32:
		x, y := w.scalar(a[1]), w.scalar(a[2])
		w.SCC = uint64(x)+uint64(y) > math.MaxUint32
		w.SetSGPR(a[0].(asm.Reg), x+y)
	case isa.SAddcU32:
		x, y := uint64(w.scalar(a[1])), uint64(w.scalar(a[2]))
		if w.SCC {
			y++
		}
		w.SCC = x+y > math.MaxUint32
		w.SetSGPR(a[0].(asm.Reg), uint32(x+y))
	case isa.SSubU32:
		x, y := w.scalar(a[1]), w.scalar(a[2])
		w.SCC = y > x
		w.SetSGPR(a[0].(asm.Reg), x-y)
	case isa.SCmpGtI32:
		w.SCC = int32(w.scalar(a[0])) > int32(w.scalar(a[1]))
	case isa.SLoadDword, isa.SLoadDwordx2, isa.SLoadDwordx4, isa.SLoadDwordx8:
		dst := a[0].(asm.Reg)
		off := int(w.scalar(a[2]))
		for i := 0; i < dst.Count(); i++ {
			at := off + 4*i
			if at+4 > len(w.Kernarg) {
				return fmt.Errorf("kernarg read at %d", at)
			}
			w.SetSGPR(dst.At(i), binary.LittleEndian.Uint32(w.Kernarg[at:]))
		}
	case isa.BufferLoadDword, isa.BufferLoadX2, isa.BufferLoadX3, isa.BufferLoadX4,
		isa.BufferStoreDword, isa.BufferStoreShort:
		w.buffer(in)
	case isa.DsReadB32, isa.DsReadB64, isa.DsReadB128,
		isa.DsWriteB32, isa.DsWriteB64, isa.DsWriteB128:
		w.ds(in)
	case isa.SWaitcnt, isa.SNop, isa.SBarrier, isa.SEndpgm:
	default:
		return fmt.Errorf("not modelled")
	}
	return nil
}

func (w *Wave) buffer(in asm.Inst) {
	data, vaddr := in.Args[0].(asm.Reg), in.Args[1]
	soff := w.scalar(in.Args[3])
	off := uint32(modOffset(in.Mods))
	load := in.Op != isa.BufferStoreDword && in.Op != isa.BufferStoreShort
	for l := 0; l < Lanes; l++ {
		if !w.active(l) {
			continue
		}
		acc := Access{Op: in.Op, Lane: l, Addr: w.lane(vaddr, l) + soff + off}
		for i := 0; i < data.Count(); i++ {
			if load {
				w.SetVGPR(data.At(i), l, 0)
			} else {
				acc.Data = append(acc.Data, w.VGPR(data.At(i), l))
			}
		}
		w.Accesses = append(w.Accesses, acc)
	}
}

func (w *Wave) ds(in asm.Inst) {
	read := in.Op == isa.DsReadB32 || in.Op == isa.DsReadB64 || in.Op == isa.DsReadB128
	data, addr := in.Args[0].(asm.Reg), in.Args[1]
	if !read {
		addr, data = in.Args[0], in.Args[1].(asm.Reg)
	}
	off := uint32(modOffset(in.Mods))
	for l := 0; l < Lanes; l++ {
		if !w.active(l) {
			continue
		}
		acc := Access{Op: in.Op, Lane: l, Addr: w.lane(addr, l) + off}
		for i := 0; i < data.Count(); i++ {
			if read {
				w.SetVGPR(data.At(i), l, 0)
			} else {
				acc.Data = append(acc.Data, w.VGPR(data.At(i), l))
			}
		}
		w.Accesses = append(w.Accesses, acc)
	}
}
