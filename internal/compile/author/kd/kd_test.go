package kd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/layout"
	"igemmgen/internal/raw"
)

func in(arch raw.Arch, magic bool) In {
	return In{
		Name: "igemm_k", Arch: arch, Precision: raw.FP16, BlockSize: 256,
		Karg: layout.PlanKarg(magic), SGPRs: 70, VGPRs: 61, AGPRs: 64,
		LDSBytes: 32768, Macros: []string{".v_gld_in_r2x8_v8_b2_flag"},
	}
}

func TestBuildArgs(t *testing.T) {
	d := Build(in(raw.Gfx908, true))
	yes, no := true, false
	want := []Arg{
		{Name: "p_in", Size: 8, Offset: 0, Kind: "global_buffer", ValueType: "f16", AddressSpace: "global", Const: &yes},
		{Name: "p_wei", Size: 8, Offset: 8, Kind: "global_buffer", ValueType: "f16", AddressSpace: "global", Const: &yes},
		{Name: "p_out", Size: 8, Offset: 16, Kind: "global_buffer", ValueType: "f16", AddressSpace: "global", Const: &no},
		{Name: "hi", Size: 4, Offset: 24, Kind: "by_value", ValueType: "i32"},
	}
	if diff := cmp.Diff(want, d.Args[:4]); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}
	if last := d.Args[len(d.Args)-1]; last.Name != "__pack_0" || last.Offset != 124 {
		t.Errorf("last arg %+v", last)
	}
	if d.KernargBytes != 128 || d.VGPRs != 64 || d.AccumOffset != 0 || d.WavefrontSGPRs() != 76 {
		t.Errorf("%+v", d)
	}
	if plain := Build(in(raw.Gfx908, false)); plain.KernargBytes != 88 || len(plain.Args) != 19 {
		t.Errorf("without magic: %d bytes, %d args", plain.KernargBytes, len(plain.Args))
	}
}

func TestUnifiedFile(t *testing.T) {
	d := Build(in(raw.Gfx90a, false))
	if d.AccumOffset != 64 || d.VGPRs != 128 {
		t.Fatalf("accum offset %d, vgprs %d", d.AccumOffset, d.VGPRs)
	}
	if text := string(asm.Text(Kernel(d))); !strings.Contains(text, "    .amdhsa_accum_offset 64\n.end_amdhsa_kernel\n") {
		t.Fatalf("kernel block:\n%s", text)
	}
}

func TestKernelReserves(t *testing.T) {
	d := Build(in(raw.Gfx908, false))
	text := string(asm.Text(Kernel(d)))
	want := "    .amdhsa_next_free_sgpr 70\n" +
		"    .amdhsa_reserve_vcc 1\n" +
		"    .amdhsa_reserve_flat_scratch 1\n" +
		"    .amdhsa_reserve_xnack_mask 1\n"
	if !strings.Contains(text, want) {
		t.Fatalf("kernel block:\n%s", text)
	}
	if strings.Contains(text, "accum_offset") {
		t.Error("accum offset outside gfx90a")
	}
}

func TestMetadata(t *testing.T) {
	a, b := Build(in(raw.Gfx908, false)), Build(in(raw.Gfx908, true))
	b.Name = "igemm_k2"
	text := string(asm.Text(Metadata(raw.V3, []*Descriptor{a, b})))
	for _, want := range []string{
		"amdhsa.kernels:\n  - .name: igemm_k\n    .symbol: igemm_k.kd\n    .sgpr_count: 76\n",
		"  - .name: igemm_k2\n",
		"    - { .name: p_out, .size: 8, .offset: 16, .value_kind: global_buffer, .value_type: f16, .address_space: global, .is_const: false }\n",
		"    - { .name: group, .size: 4, .offset: 84, .value_kind: by_value, .value_type: i32 }\n",
		"    .reqd_workgroup_size: [ 256, 1, 1 ]\n",
		"...\n.end_amdgpu_metadata\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestMetadataVersion(t *testing.T) {
	ds := []*Descriptor{Build(in(raw.Gfx908, false))}
	for co, want := range map[raw.CodeObject]string{
		raw.V3: "---\namdhsa.version: [ 1, 0 ]\n",
		raw.V4: "---\namdhsa.version: [ 1, 1 ]\n",
	} {
		if text := string(asm.Text(Metadata(co, ds))); !strings.Contains(text, want) {
			t.Errorf("%s: no %q in\n%s", co, want, text)
		}
	}
}

func TestJSON(t *testing.T) {
	data, err := json.Marshal(Build(in(raw.Gfx908, false)))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"kernarg_segment_size":88`, `"value_kind":"by_value"`, `"is_const":false`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("missing %s in %s", want, data)
		}
	}
}
