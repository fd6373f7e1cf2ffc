package tunable

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"igemmgen/internal/compile/author/index"
	"igemmgen/internal/raw"
)

// Hardware limits per kernel.
const (
	MaxSGPRs = 102
	MaxVGPRs = 256
	MaxAGPRs = 256
	MaxLDS   = 65536
	Wave     = 64
)

var ErrNotImplemented = errors.New("not implemented")

type Mac struct {
	MPerThread int
	MLevel0    int
	MLevel1    int
	NPerThread int
	NLevel0    int
	NLevel1    int
}

type Xdlops struct {
	TileM   int
	TileN   int
	TileK   int
	StepM   int
	StepN   int
	RepeatM int
	RepeatN int
}

// Mfma describes one matrix-core instruction. Each lane holds AccRegs
// results and OperandRegs registers of each operand per issue; KPack
// elements of gemm K sit side by side in one operand lane.
type Mfma struct {
	TileM, TileN, TileK int
	Precision           raw.Precision
	Op                  string
	AccRegs             int
	OperandRegs         int
	KPack               int
}

var Mfmas = []Mfma{
	{32, 32, 2, raw.FP32, "v_mfma_f32_32x32x2f32", 16, 1, 1},
	{16, 16, 4, raw.FP32, "v_mfma_f32_16x16x4f32", 4, 1, 1},
	{32, 32, 8, raw.FP16, "v_mfma_f32_32x32x8f16", 16, 2, 4},
	{16, 16, 16, raw.FP16, "v_mfma_f32_16x16x16f16", 4, 2, 4},
	{32, 32, 4, raw.BF16, "v_mfma_f32_32x32x4bf16", 16, 1, 2},
	{16, 16, 8, raw.BF16, "v_mfma_f32_16x16x8bf16", 4, 1, 2},
}

// Config is one fully described kernel variant. Exactly one of Mac and
// Xdlops is set.
type Config struct {
	Prefix            string
	Arch              raw.Arch
	Macros            raw.MacroStyle
	Precision         raw.Precision
	Nxe               int
	GemmMPerBlock     int
	GemmNPerBlock     int
	GemmKPerBlock     int
	TensorAThread     [4]int
	TensorACluster    [4]int
	TensorBThread     [4]int
	TensorBCluster    [4]int
	LdsBuffers        int
	CoalescingGroups  int
	Interleave        bool
	PrecacheSoffset   bool
	MagicDivision     bool
	SourceAccessOrder int
	Mac               *Mac
	Xdlops            *Xdlops
}

func FromRaw(c *raw.Config, t *raw.Tunable) *Config {
	return &Config{
		Prefix:            c.Prefix,
		Arch:              c.Arch,
		Macros:            c.Macros,
		Precision:         t.Precision,
		Nxe:               t.Nxe,
		GemmMPerBlock:     t.GemmMPerBlock,
		GemmNPerBlock:     t.GemmNPerBlock,
		GemmKPerBlock:     t.GemmKPerBlock,
		TensorAThread:     t.TensorAThread,
		TensorACluster:    t.TensorACluster,
		TensorBThread:     t.TensorBThread,
		TensorBCluster:    t.TensorBCluster,
		LdsBuffers:        t.LdsBuffers,
		CoalescingGroups:  t.CoalescingGroups,
		Interleave:        t.Interleave,
		PrecacheSoffset:   t.PrecacheSoffset,
		MagicDivision:     t.MagicDivision,
		SourceAccessOrder: t.SourceAccessOrder,
	}
}

func (c *Config) A() index.Operand {
	return index.Operand{Thread: c.TensorAThread, Cluster: c.TensorACluster}
}

func (c *Config) B() index.Operand {
	return index.Operand{Thread: c.TensorBThread, Cluster: c.TensorBCluster}
}

// Sides panics unless c has passed Validate.
func (c *Config) Sides() *index.Result {
	res, err := index.Decompose(c.A(), c.B())
	if err != nil {
		panic("bug: " + err.Error())
	}
	return res
}

func (c *Config) DataBytes() int {
	if c.Precision == raw.FP32 {
		return 4
	}
	return 2
}

// Inst is the matrix-core instruction of an Xdlops config.
func (c *Config) Inst() *Mfma {
	x := c.Xdlops
	for i := range Mfmas {
		m := &Mfmas[i]
		if m.TileM == x.TileM && m.TileN == x.TileN && m.TileK == x.TileK && m.Precision == c.Precision {
			return m
		}
	}
	return nil
}

func (c *Config) KPack() int {
	if c.Xdlops == nil {
		return 1
	}
	return c.Inst().KPack
}

func (c *Config) WavesM() int {
	x := c.Xdlops
	return c.GemmMPerBlock / (x.TileM * x.StepM * x.RepeatM)
}

func (c *Config) WavesN() int {
	x := c.Xdlops
	return c.GemmNPerBlock / (x.TileN * x.StepN * x.RepeatN)
}

// RepeatM is how many times a Mac thread tile repeats along gemm M.
func (c *Config) RepeatM() int {
	m := c.Mac
	return c.GemmMPerBlock / (m.MPerThread * m.MLevel0 * m.MLevel1)
}

func (c *Config) RepeatN() int {
	m := c.Mac
	return c.GemmNPerBlock / (m.NPerThread * m.NLevel0 * m.NLevel1)
}

// ThreadTileM is the gemm M elements a Mac thread accumulates.
func (c *Config) ThreadTileM() int { return c.Mac.MPerThread * c.RepeatM() }

func (c *Config) ThreadTileN() int { return c.Mac.NPerThread * c.RepeatN() }

func (c *Config) BlockSize() int {
	if m := c.Mac; m != nil {
		return m.MLevel0 * m.MLevel1 * m.NLevel0 * m.NLevel1
	}
	return c.WavesM() * c.WavesN() * Wave
}

// Accumulators is the per-thread count of 32-bit results.
func (c *Config) Accumulators() int {
	if c.Mac != nil {
		return c.ThreadTileM() * c.ThreadTileN()
	}
	x := c.Xdlops
	return c.Inst().AccRegs * x.StepM * x.RepeatM * x.StepN * x.RepeatN
}

// OperandRegsA is the VGPRs holding gemm A operands for one compute step.
func (c *Config) OperandRegsA() int {
	if c.Mac != nil {
		return c.ThreadTileM()
	}
	x := c.Xdlops
	return c.Inst().OperandRegs * x.StepM * x.RepeatM
}

func (c *Config) OperandRegsB() int {
	if c.Mac != nil {
		return c.ThreadTileN()
	}
	x := c.Xdlops
	return c.Inst().OperandRegs * x.StepN * x.RepeatN
}

// GldRegsA is the VGPRs one thread's global load of tensor a fills.
func (c *Config) GldRegsA() int {
	s := c.Sides().A
	return s.Rows * c.TensorAThread[index.C] * c.DataBytes() / 4
}

func (c *Config) GldRegsB() int {
	s := c.Sides().B
	return s.Rows * c.TensorBThread[index.C] * c.DataBytes() / 4
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (c *Config) LdsBytesA() int {
	return c.GemmKPerBlock * c.GemmMPerBlock * c.DataBytes()
}

func (c *Config) LdsBytesB() int {
	return c.GemmKPerBlock * c.GemmNPerBlock * c.DataBytes()
}

// LdsOffsetB is where tensor b starts within one LDS stage.
func (c *Config) LdsOffsetB() int { return nextPow2(c.LdsBytesA()) }

// LdsSingle is the size of one LDS stage, a power of two so stages can be
// switched with xor.
func (c *Config) LdsSingle() int {
	return nextPow2(nextPow2(c.LdsBytesA()) + nextPow2(c.LdsBytesB()))
}

func (c *Config) LdsTotal() int { return c.LdsSingle() * c.LdsBuffers }

// ComputeOp is the vector multiply-accumulate of a Mac config.
func (c *Config) ComputeOp() string {
	if c.Arch == raw.Gfx90a {
		return "v_fmac_f32"
	}
	return "v_mac_f32"
}

func pow2(n int) bool { return n > 0 && n&(n-1) == 0 }

func notImplemented(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotImplemented}, args...)...)
}

// Validate checks everything generation relies on. Errors from the lengths
// wrap index.ErrStructure, unsupported combinations wrap ErrNotImplemented.
func (c *Config) Validate() error {
	if (c.Mac == nil) == (c.Xdlops == nil) {
		return errors.New("exactly one of Mac and Xdlops must be given")
	}
	for _, at := range []struct {
		name string
		n    int
	}{
		{"GemmMPerBlock", c.GemmMPerBlock},
		{"GemmNPerBlock", c.GemmNPerBlock},
		{"GemmKPerBlock", c.GemmKPerBlock},
		{"CoalescingGroups", c.CoalescingGroups},
	} {
		if !pow2(at.n) {
			return fmt.Errorf("%s %d is not a power of two", at.name, at.n)
		}
	}
	for _, v := range [][4]int{c.TensorAThread, c.TensorACluster, c.TensorBThread, c.TensorBCluster} {
		for _, n := range v {
			if !pow2(n) {
				return fmt.Errorf("length %d is not a power of two", n)
			}
		}
	}
	if c.Nxe != 0 && c.Nxe != 1 {
		return fmt.Errorf("nxe %d", c.Nxe)
	}
	if c.LdsBuffers != 1 && c.LdsBuffers != 2 {
		return fmt.Errorf("lds buffers %d", c.LdsBuffers)
	}
	if c.SourceAccessOrder != 0 && c.SourceAccessOrder != 1 {
		return fmt.Errorf("source access order %d", c.SourceAccessOrder)
	}
	res, err := index.Decompose(c.A(), c.B())
	if err != nil {
		return err
	}
	a, b := res.A.Totals, res.B.Totals
	if a[index.C] != c.GemmKPerBlock {
		return fmt.Errorf("%w: tensor a covers %d of gemm k, want %d",
			index.ErrStructure, a[index.C], c.GemmKPerBlock)
	}
	if m := a[index.D0] * a[index.D1]; m != c.GemmMPerBlock {
		return fmt.Errorf("%w: tensor a covers %d of gemm m, want %d",
			index.ErrStructure, m, c.GemmMPerBlock)
	}
	if n := b[index.D0] * b[index.D1]; n != c.GemmNPerBlock {
		return fmt.Errorf("%w: tensor b covers %d of gemm n, want %d",
			index.ErrStructure, n, c.GemmNPerBlock)
	}
	if err := c.validateCompute(); err != nil {
		return err
	}
	block := c.BlockSize()
	if block < Wave || block > 1024 {
		return fmt.Errorf("block size %d", block)
	}
	if pa, pb := index.Product(c.TensorACluster), index.Product(c.TensorBCluster); pa != block || pb != block {
		return fmt.Errorf("%w: clusters hold %d and %d threads, block is %d",
			index.ErrStructure, pa, pb, block)
	}
	db, kp := c.DataBytes(), c.KPack()
	for _, tc := range []int{c.TensorAThread[index.C], c.TensorBThread[index.C]} {
		if tc*db%4 != 0 {
			return notImplemented("thread c length %d of %s is not whole dwords", tc, c.Precision)
		}
		if tc%kp != 0 {
			return notImplemented("thread c length %d is not a multiple of k pack %d", tc, kp)
		}
	}
	if acc := c.Accumulators(); acc%c.CoalescingGroups != 0 {
		return fmt.Errorf("%d accumulators do not split into %d groups", acc, c.CoalescingGroups)
	}
	if lds := c.LdsTotal(); lds > MaxLDS {
		return fmt.Errorf("lds %d bytes exceeds %d", lds, MaxLDS)
	}
	return nil
}

func (c *Config) validateCompute() error {
	if m := c.Mac; m != nil {
		if c.Precision != raw.FP32 {
			return notImplemented("mac with %s", c.Precision)
		}
		for _, n := range []int{m.MPerThread, m.MLevel0, m.MLevel1, m.NPerThread, m.NLevel0, m.NLevel1} {
			if !pow2(n) {
				return fmt.Errorf("mac length %d is not a power of two", n)
			}
		}
		if m.MPerThread*m.MLevel0*m.MLevel1 > c.GemmMPerBlock ||
			m.NPerThread*m.NLevel0*m.NLevel1 > c.GemmNPerBlock {
			return fmt.Errorf("mac thread clusters exceed the block tile")
		}
		if c.Accumulators() > MaxVGPRs {
			return fmt.Errorf("%d accumulators exceed %d vgprs", c.Accumulators(), MaxVGPRs)
		}
		return nil
	}
	if c.Arch == raw.Gfx906 {
		return notImplemented("xdlops on %s", c.Arch)
	}
	x := c.Xdlops
	for _, n := range []int{x.StepM, x.StepN, x.RepeatM, x.RepeatN} {
		if !pow2(n) {
			return fmt.Errorf("xdlops length %d is not a power of two", n)
		}
	}
	inst := c.Inst()
	if inst == nil {
		return notImplemented("xdlops %dx%dx%d %s", x.TileM, x.TileN, x.TileK, c.Precision)
	}
	if x.TileM*x.StepM*x.RepeatM > c.GemmMPerBlock || x.TileN*x.StepN*x.RepeatN > c.GemmNPerBlock {
		return fmt.Errorf("wave tile exceeds the block tile")
	}
	if c.GemmKPerBlock%x.TileK != 0 {
		return fmt.Errorf("gemm k per block %d is not a multiple of tile k %d", c.GemmKPerBlock, x.TileK)
	}
	if acc := c.Accumulators(); acc*c.BlockSize() != c.GemmMPerBlock*c.GemmNPerBlock {
		return fmt.Errorf("%w: %d accumulators per lane do not cover the block tile", index.ErrStructure, acc)
	}
	if c.Accumulators() > MaxAGPRs {
		return fmt.Errorf("%d accumulators exceed %d agprs", c.Accumulators(), MaxAGPRs)
	}
	return nil
}

func lengths(v [4]int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "x")
}

// Name is the kernel symbol. Distinct configs get distinct names.
func (c *Config) Name() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s_fwd_gtc_%s_nhwc_%s_bx0_ex%d_bt%dx%dx%d_",
		c.Prefix, c.Arch, c.Precision, c.Nxe,
		c.GemmMPerBlock, c.GemmNPerBlock, c.GemmKPerBlock)
	if x := c.Xdlops; x != nil {
		fmt.Fprintf(&sb, "wt%dx%dx%d_ws%dx%d_wr%dx%d_",
			x.TileM, x.TileN, x.TileK, x.StepM, x.StepN, x.RepeatM, x.RepeatN)
	} else {
		m := c.Mac
		fmt.Fprintf(&sb, "tt%dx%d_gm%dx%dx%d_gn%dx%dx%d_",
			c.ThreadTileM(), c.ThreadTileN(),
			m.MPerThread, m.MLevel0, m.MLevel1, m.NPerThread, m.NLevel0, m.NLevel1)
	}
	fmt.Fprintf(&sb, "ta%s_%s_tb%s_%s",
		lengths(c.TensorAThread), lengths(c.TensorACluster),
		lengths(c.TensorBThread), lengths(c.TensorBCluster))
	if c.LdsBuffers != 1 {
		fmt.Fprintf(&sb, "_lb%d", c.LdsBuffers)
	}
	if c.PrecacheSoffset {
		sb.WriteString("_pta")
	}
	if c.MagicDivision {
		sb.WriteString("_mh")
	}
	if c.Interleave {
		sb.WriteString("_il")
	}
	if c.CoalescingGroups != 1 {
		fmt.Fprintf(&sb, "_cs%d", c.CoalescingGroups)
	}
	if c.SourceAccessOrder != 0 {
		fmt.Fprintf(&sb, "_so%d", c.SourceAccessOrder)
	}
	return sb.String()
}

// String serializes every field, for diagnostics.
func (c *Config) String() string {
	b2i := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}
	parts := []string{
		"Arch:" + c.Arch.String(),
		"Precision:" + c.Precision.String(),
		"Nxe:" + strconv.Itoa(c.Nxe),
		"GemmMPerBlock:" + strconv.Itoa(c.GemmMPerBlock),
		"GemmNPerBlock:" + strconv.Itoa(c.GemmNPerBlock),
		"GemmKPerBlock:" + strconv.Itoa(c.GemmKPerBlock),
		"TensorAThread:" + lengths(c.TensorAThread),
		"TensorACluster:" + lengths(c.TensorACluster),
		"TensorBThread:" + lengths(c.TensorBThread),
		"TensorBCluster:" + lengths(c.TensorBCluster),
		"LdsBuffers:" + strconv.Itoa(c.LdsBuffers),
		"CoalescingGroups:" + strconv.Itoa(c.CoalescingGroups),
		"Interleave:" + strconv.Itoa(b2i(c.Interleave)),
		"PrecacheSoffset:" + strconv.Itoa(b2i(c.PrecacheSoffset)),
		"MagicDivision:" + strconv.Itoa(b2i(c.MagicDivision)),
		"SourceAccessOrder:" + strconv.Itoa(c.SourceAccessOrder),
	}
	if m := c.Mac; m != nil {
		parts = append(parts, fmt.Sprintf("Mac:%dx%dx%d,%dx%dx%d",
			m.MPerThread, m.MLevel0, m.MLevel1, m.NPerThread, m.NLevel0, m.NLevel1))
	}
	if x := c.Xdlops; x != nil {
		parts = append(parts, fmt.Sprintf("Xdlops:%dx%dx%d,%dx%d,%dx%d",
			x.TileM, x.TileN, x.TileK, x.StepM, x.StepN, x.RepeatM, x.RepeatN))
	}
	return strings.Join(parts, ", ")
}
