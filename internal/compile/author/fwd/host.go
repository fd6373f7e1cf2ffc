package fwd

import (
	"encoding/binary"
	"errors"
	"fmt"

	"igemmgen/internal/compile/author/mdiv"
)

// Problem is one grouped forward convolution. C and K count channels
// per group.
type Problem struct {
	N, C, Hi, Wi, K, Group int
	Y, X                   int
	StrideH, StrideW       int
	DilationH, DilationW   int
	PadH, PadW             int
}

func (p *Problem) Ho() int {
	return (p.Hi+2*p.PadH-p.DilationH*(p.Y-1)-1)/p.StrideH + 1
}

func (p *Problem) Wo() int {
	return (p.Wi+2*p.PadW-p.DilationW*(p.X-1)-1)/p.StrideW + 1
}

func ceilQuo(n, d int) int { return (n + d - 1) / d }

// Buffers are the device addresses of the three tensors.
type Buffers struct {
	In, Wei, Out uint64
}

// blocks is the block count per group along gemm m and gemm n.
func (k *Kernel) blocks(p *Problem) (m, n int) {
	dimB := p.Hi * p.Wi
	if k.nxe() {
		dimB = p.Ho() * p.Wo()
	}
	return ceilQuo(p.N*dimB, k.cfg.GemmMPerBlock), ceilQuo(p.K, k.cfg.GemmNPerBlock)
}

// Grid is the number of workgroups to launch for p.
func (k *Kernel) Grid(p *Problem) int {
	m, n := k.blocks(p)
	return p.Group * m * n
}

func (k *Kernel) check(p *Problem) error {
	for _, n := range []int{p.N, p.C, p.Hi, p.Wi, p.K, p.Group, p.Y, p.X,
		p.StrideH, p.StrideW, p.DilationH, p.DilationW} {
		if n < 1 {
			return errors.New("nonpositive convolution size")
		}
	}
	if p.PadH < 0 || p.PadW < 0 {
		return errors.New("negative padding")
	}
	if p.Ho() < 1 || p.Wo() < 1 {
		return fmt.Errorf("empty output %dx%d", p.Ho(), p.Wo())
	}
	if kpb := k.cfg.GemmKPerBlock; p.C%kpb != 0 {
		return fmt.Errorf("c %d is not a multiple of gemm k per block %d", p.C, kpb)
	}
	if !k.nxe() && (p.Y != 1 || p.X != 1 || p.StrideH != 1 || p.StrideW != 1 ||
		p.DilationH != 1 || p.DilationW != 1 || p.PadH != 0 || p.PadW != 0) {
		return errors.New("kernel needs a 1x1 unit-stride convolution without padding")
	}
	return nil
}

// Args packs the kernel argument blob for p.
func (k *Kernel) Args(p *Problem, buf Buffers) ([]byte, error) {
	if err := k.check(p); err != nil {
		return nil, err
	}
	vals := map[string]uint32{
		"hi": uint32(p.Hi), "wi": uint32(p.Wi), "n": uint32(p.N), "k": uint32(p.K),
		"c": uint32(p.C), "ho": uint32(p.Ho()), "wo": uint32(p.Wo()),
		"stride_h": uint32(p.StrideH), "stride_w": uint32(p.StrideW),
		"dilation_h": uint32(p.DilationH), "dilation_w": uint32(p.DilationW),
		"pad_h": uint32(p.PadH), "pad_w": uint32(p.PadW),
		"y": uint32(p.Y), "x": uint32(p.X), "group": uint32(p.Group),
	}
	if k.cfg.MagicDivision {
		m, n := k.blocks(p)
		fast := n
		if k.cfg.SourceAccessOrder == 1 {
			fast = m
		}
		dimB := p.Hi * p.Wi
		if k.nxe() {
			dimB = p.Ho() * p.Wo()
		}
		var pairs [7]mdiv.Pair
		for i, d := range map[int]int{0: fast, 4: dimB, 5: p.Wo(), 6: m * n} {
			pair, err := mdiv.Magic(uint32(d))
			if err != nil {
				return nil, err
			}
			pairs[i] = pair
		}
		for i, pair := range pairs {
			vals[fmt.Sprintf("magic_%d", i)] = pair.Magic
		}
		vals["shift_pack_0"] = mdiv.PackShifts(pairs[0].Shift, pairs[1].Shift, pairs[2].Shift, pairs[3].Shift)
		vals["shift_pack_1"] = mdiv.PackShifts(pairs[4].Shift, pairs[5].Shift, pairs[6].Shift)
	}
	blob := make([]byte, k.karg.Size())
	for name, ptr := range map[string]uint64{"p_in": buf.In, "p_wei": buf.Wei, "p_out": buf.Out} {
		binary.LittleEndian.PutUint64(blob[k.karg.Offset(name):], ptr)
	}
	for name, x := range vals {
		binary.LittleEndian.PutUint32(blob[k.karg.Offset(name):], x)
	}
	return blob, nil
}
