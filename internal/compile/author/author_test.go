package author

import (
	"errors"
	"strings"
	"testing"

	"igemmgen/internal/compile/author/layout"
	"igemmgen/internal/compile/plan"
	"igemmgen/internal/compile/tunable"
	"igemmgen/internal/raw"
)

func mac(nxe int) *tunable.Config {
	return &tunable.Config{
		Prefix: "conv", Arch: raw.Gfx908, Precision: raw.FP32,
		Nxe: nxe, GemmMPerBlock: 64, GemmNPerBlock: 64, GemmKPerBlock: 8,
		TensorAThread: [4]int{1, 2, 4, 1}, TensorACluster: [4]int{1, 4, 1, 16},
		TensorBThread: [4]int{1, 2, 4, 1}, TensorBCluster: [4]int{1, 4, 1, 16},
		LdsBuffers: 2, CoalescingGroups: 1, PrecacheSoffset: true, MagicDivision: true,
		Mac: &tunable.Mac{MPerThread: 4, MLevel0: 4, MLevel1: 2, NPerThread: 4, NLevel0: 4, NLevel1: 2},
	}
}

func twoKernels() *plan.Plan {
	return &plan.Plan{
		Config: &raw.Config{Prefix: "conv", Arch: raw.Gfx908},
		Seq: []*plan.Kernel{
			{Lines: [2]int{2, 3}, Config: mac(1)},
			{Lines: [2]int{4, 5}, Config: mac(0)},
		},
	}
}

func TestImplement(t *testing.T) {
	res, err := Implement(twoKernels())
	if err != nil {
		t.Fatal(err)
	}
	text := string(res.Text)
	if !strings.HasPrefix(text, "; generated by igemmgen version ") {
		t.Fatalf("header:\n%.200s", text)
	}
	if !strings.Contains(text, ".amdgcn_target \"amdgcn-amd-amdhsa--gfx908\"\n") {
		t.Error("no target directive")
	}
	// Both kernels load weights the same way and share one definition.
	if n := strings.Count(text, ".macro .v_gld_wei_"); n != 1 {
		t.Errorf("%d weight load definitions", n)
	}
	if len(res.Descriptors) != 2 {
		t.Fatalf("%d descriptors", len(res.Descriptors))
	}
	a, b := res.Descriptors[0].Name, res.Descriptors[1].Name
	if a == b {
		t.Fatalf("both kernels are %s", a)
	}
	ia, ib := strings.Index(text, "\n"+a+":\n"), strings.Index(text, "\n"+b+":\n")
	meta := strings.Index(text, ".amdgpu_metadata\n")
	if ia < 0 || ib < ia || meta < ib {
		t.Errorf("sections out of order: %d %d %d", ia, ib, meta)
	}
	if !strings.HasSuffix(text, ".end_amdgpu_metadata\n") {
		t.Error("metadata does not end the file")
	}
	again, err := Implement(twoKernels())
	if err != nil || string(again.Text) != text {
		t.Error("second run differs")
	}
}

func TestCodeObjectV4(t *testing.T) {
	pl := twoKernels()
	pl.Config.CodeObject = raw.V4
	res, err := Implement(pl)
	if err != nil {
		t.Fatal(err)
	}
	text := string(res.Text)
	if !strings.Contains(text, ".amdgcn_target \"amdgcn-amd-amdhsa--gfx908\"\n.amdhsa_code_object_version 4\n") {
		t.Errorf("header:\n%.300s", text)
	}
	if !strings.Contains(text, "amdhsa.version: [ 1, 1 ]\n") {
		t.Error("metadata version is not v4")
	}
	v3, err := Implement(twoKernels())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(v3.Text), "amdhsa_code_object_version") {
		t.Error("v3 file names a code object version")
	}
}

func TestImplementCapacity(t *testing.T) {
	pl := twoKernels()
	big := &tunable.Config{
		Prefix: "conv", Arch: raw.Gfx908, Precision: raw.FP32,
		Nxe: 1, GemmMPerBlock: 16, GemmNPerBlock: 1024, GemmKPerBlock: 4,
		TensorAThread: [4]int{1, 1, 1, 1}, TensorACluster: [4]int{1, 4, 1, 16},
		TensorBThread: [4]int{1, 1, 64, 1}, TensorBCluster: [4]int{1, 4, 1, 16},
		LdsBuffers: 1, CoalescingGroups: 1, PrecacheSoffset: true,
		Mac: &tunable.Mac{MPerThread: 4, MLevel0: 2, MLevel1: 2, NPerThread: 4, NLevel0: 4, NLevel1: 4},
	}
	pl.Seq = append(pl.Seq, &plan.Kernel{Lines: [2]int{6, 7}, Config: big})
	res, err := Implement(pl)
	if res != nil || !errors.Is(err, layout.ErrCapacity) {
		t.Fatalf("got %v, %v", res, err)
	}
	var ke *KernelError
	if !errors.As(err, &ke) || ke.Kernel.Lines != [2]int{6, 7} {
		t.Fatalf("error %#v", err)
	}
}
