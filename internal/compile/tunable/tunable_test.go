package tunable

import (
	"errors"
	"strings"
	"testing"

	"igemmgen/internal/compile/author/index"
	"igemmgen/internal/raw"
)

func xdlopsFp32() *Config {
	return &Config{
		Prefix:           "igemm",
		Arch:             raw.Gfx908,
		Precision:        raw.FP32,
		Nxe:              1,
		GemmMPerBlock:    256,
		GemmNPerBlock:    128,
		GemmKPerBlock:    16,
		TensorAThread:    [4]int{1, 4, 2, 1},
		TensorACluster:   [4]int{1, 4, 1, 128},
		TensorBThread:    [4]int{1, 4, 1, 1},
		TensorBCluster:   [4]int{1, 4, 1, 128},
		LdsBuffers:       1,
		CoalescingGroups: 1,
		MagicDivision:    true,
		Xdlops:           &Xdlops{TileM: 32, TileN: 32, TileK: 2, StepM: 1, StepN: 1, RepeatM: 2, RepeatN: 2},
	}
}

func macFp32() *Config {
	return &Config{
		Prefix:           "igemm",
		Arch:             raw.Gfx906,
		Precision:        raw.FP32,
		GemmMPerBlock:    128,
		GemmNPerBlock:    128,
		GemmKPerBlock:    8,
		TensorAThread:    [4]int{1, 4, 1, 1},
		TensorACluster:   [4]int{1, 2, 1, 128},
		TensorBThread:    [4]int{1, 4, 1, 1},
		TensorBCluster:   [4]int{1, 2, 1, 128},
		LdsBuffers:       2,
		CoalescingGroups: 2,
		Interleave:       true,
		Mac:              &Mac{MPerThread: 4, MLevel0: 4, MLevel1: 4, NPerThread: 4, NLevel0: 4, NLevel1: 4},
	}
}

func TestDerivedXdlops(t *testing.T) {
	c := xdlopsFp32()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	got := []int{
		c.WavesM(), c.WavesN(), c.BlockSize(), c.Accumulators(),
		c.OperandRegsA(), c.OperandRegsB(), c.GldRegsA(), c.GldRegsB(),
		c.LdsBytesA(), c.LdsBytesB(), c.LdsOffsetB(), c.LdsTotal(), c.KPack(),
	}
	want := []int{4, 2, 512, 64, 2, 2, 8, 4, 16384, 8192, 16384, 32768, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("derived %v, want %v", got, want)
		}
	}
	if op := c.Inst().Op; op != "v_mfma_f32_32x32x2f32" {
		t.Errorf("inst %s", op)
	}
}

func TestDerivedMac(t *testing.T) {
	c := macFp32()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.BlockSize() != 256 || c.ThreadTileM() != 8 || c.Accumulators() != 64 {
		t.Fatalf("block %d tile %d acc %d", c.BlockSize(), c.ThreadTileM(), c.Accumulators())
	}
	if c.LdsTotal() != 2*8192 {
		t.Fatalf("lds %d", c.LdsTotal())
	}
	if c.ComputeOp() != "v_mac_f32" {
		t.Fatal(c.ComputeOp())
	}
	c.Arch = raw.Gfx90a
	if c.ComputeOp() != "v_fmac_f32" {
		t.Fatal(c.ComputeOp())
	}
}

// Every valid config tiles the block exactly.
func TestTilesCoverBlock(t *testing.T) {
	for _, c := range []*Config{xdlopsFp32(), macFp32()} {
		if err := c.Validate(); err != nil {
			t.Fatal(err)
		}
		s := c.Sides()
		for d := 0; d < 4; d++ {
			if c.TensorAThread[d]*c.TensorACluster[d] != s.A.Totals[d] {
				t.Errorf("tensor a dim %d", d)
			}
		}
		if s.A.Totals[index.C] != c.GemmKPerBlock || s.B.Totals[index.C] != c.GemmKPerBlock {
			t.Errorf("k totals")
		}
		if s.A.Totals[index.D0]*s.A.Totals[index.D1] != c.GemmMPerBlock {
			t.Errorf("m totals")
		}
		if s.B.Totals[index.D0]*s.B.Totals[index.D1] != c.GemmNPerBlock {
			t.Errorf("n totals")
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		edit func(*Config)
		want error
	}{
		{"xdlops gfx906", func(c *Config) { c.Arch = raw.Gfx906 }, ErrNotImplemented},
		{"unknown tile", func(c *Config) { c.Xdlops.TileK = 4 }, ErrNotImplemented},
		{"fp16 odd c", func(c *Config) {
			c.Precision = raw.FP16
			c.Xdlops.TileK = 8
			c.TensorAThread[index.C] = 1
			c.TensorBThread[index.C] = 1
			c.TensorACluster = [4]int{1, 16, 1, 32}
			c.TensorBCluster = [4]int{1, 16, 1, 32}
			c.TensorAThread[index.D0] = 8
			c.TensorBThread[index.D0] = 4
		}, ErrNotImplemented},
		{"m totals", func(c *Config) { c.GemmMPerBlock = 128 }, index.ErrStructure},
		{"c mismatch", func(c *Config) { c.TensorBThread[index.C] = 2 }, index.ErrStructure},
	}
	for _, c := range cases {
		cfg := xdlopsFp32()
		c.edit(cfg)
		if err := cfg.Validate(); !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
		}
	}
	mac := macFp32()
	mac.Precision = raw.FP16
	if err := mac.Validate(); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("mac fp16: %v", err)
	}
}

func TestName(t *testing.T) {
	want := "igemm_fwd_gtc_gfx908_nhwc_fp32_bx0_ex1_bt256x128x16_wt32x32x2_ws1x1_wr2x2_" +
		"ta1x4x2x1_1x4x1x128_tb1x4x1x1_1x4x1x128_mh"
	if got := xdlopsFp32().Name(); got != want {
		t.Errorf("got %s", got)
	}
	want = "igemm_fwd_gtc_gfx906_nhwc_fp32_bx0_ex0_bt128x128x8_tt8x8_gm4x4x4_gn4x4x4_" +
		"ta1x4x1x1_1x2x1x128_tb1x4x1x1_1x2x1x128_lb2_il_cs2"
	if got := macFp32().Name(); got != want {
		t.Errorf("got %s", got)
	}
}

func TestString(t *testing.T) {
	s := xdlopsFp32().String()
	for _, want := range []string{"Arch:gfx908", "TensorAThread:1x4x2x1", "MagicDivision:1", "Xdlops:32x32x2,1x1,2x2"} {
		if !strings.Contains(s, want) {
			t.Errorf("%q missing %q", s, want)
		}
	}
}
