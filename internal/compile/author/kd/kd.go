// Package kd builds kernel descriptors and renders them as the assembler
// directives of code object v3 and v4.
package kd

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"igemmgen/internal/compile/author/layout"
	"igemmgen/internal/raw"
)

type Arg struct {
	Name         string `json:"name"`
	Size         int    `json:"size"`
	Offset       int    `json:"offset"`
	Kind         string `json:"value_kind"`
	ValueType    string `json:"value_type"`
	AddressSpace string `json:"address_space,omitempty"`
	Const        *bool  `json:"is_const,omitempty"`
}

// Descriptor is everything the loader needs to know about one kernel.
type Descriptor struct {
	Name         string   `json:"name"`
	Arch         string   `json:"arch"`
	Args         []Arg    `json:"args"`
	KernargBytes int      `json:"kernarg_segment_size"`
	BlockSize    int      `json:"block_size"`
	SGPRs        int      `json:"sgpr_count"`
	VGPRs        int      `json:"vgpr_count"`
	AGPRs        int      `json:"agpr_count"`
	AccumOffset  int      `json:"accum_offset,omitempty"`
	LDSBytes     int      `json:"group_segment_fixed_size"`
	Macros       []string `json:"macros,omitempty"`
}

// WavefrontSGPRs adds the vcc, flat scratch and xnack registers the
// hardware reserves.
func (d *Descriptor) WavefrontSGPRs() int { return d.SGPRs + 2*3 }

// In is what Build aggregates.
type In struct {
	Name      string
	Arch      raw.Arch
	Precision raw.Precision
	BlockSize int
	Karg      *layout.Karg
	SGPRs     int
	VGPRs     int
	AGPRs     int
	LDSBytes  int
	Macros    []string
}

var valueTypes = map[raw.Precision]string{
	raw.FP32: "f32",
	raw.FP16: "f16",
	raw.BF16: "bf16",
}

func roundUp(n, to int) int { return (n + to - 1) / to * to }

func Build(in In) *Descriptor {
	writable := false
	readOnly := true
	args := lo.Map(in.Karg.Args(), func(a layout.Arg, _ int) Arg {
		if a.Kind == layout.GlobalBuffer {
			c := &readOnly
			if a.Name == "p_out" {
				c = &writable
			}
			return Arg{
				Name: a.Name, Size: a.Size, Offset: a.Offset,
				Kind: "global_buffer", ValueType: valueTypes[in.Precision],
				AddressSpace: "global", Const: c,
			}
		}
		return Arg{Name: a.Name, Size: a.Size, Offset: a.Offset, Kind: "by_value", ValueType: "i32"}
	})
	d := &Descriptor{
		Name:         in.Name,
		Arch:         in.Arch.String(),
		Args:         args,
		KernargBytes: in.Karg.Size(),
		BlockSize:    in.BlockSize,
		SGPRs:        in.SGPRs,
		VGPRs:        in.VGPRs,
		AGPRs:        in.AGPRs,
		LDSBytes:     in.LDSBytes,
		Macros:       in.Macros,
	}
	switch {
	case in.AGPRs == 0:
	case in.Arch == raw.Gfx90a:
		// One unified file: accumulators start past the vector registers.
		d.AccumOffset = roundUp(max(in.VGPRs, 1), 4)
		d.VGPRs = d.AccumOffset + in.AGPRs
	default:
		d.VGPRs = max(in.VGPRs, in.AGPRs)
	}
	return d
}

// Lines is text that renders line by line.
type Lines []string

func (l Lines) Append(to []byte) []byte {
	for _, line := range l {
		to = append(to, line...)
		to = append(to, '\n')
	}
	return to
}

// Kernel is the .amdhsa_kernel block of d.
func Kernel(d *Descriptor) Lines {
	to := Lines{
		".rodata",
		".p2align 6",
		".amdhsa_kernel " + d.Name,
		fmt.Sprintf("    .amdhsa_group_segment_fixed_size %d", d.LDSBytes),
		"    .amdhsa_user_sgpr_kernarg_segment_ptr 1",
		"    .amdhsa_system_sgpr_workgroup_id_x 1",
		"    .amdhsa_system_vgpr_workitem_id 0",
		fmt.Sprintf("    .amdhsa_next_free_vgpr %d", d.VGPRs),
		fmt.Sprintf("    .amdhsa_next_free_sgpr %d", d.SGPRs),
		"    .amdhsa_reserve_vcc 1",
		"    .amdhsa_reserve_flat_scratch 1",
		"    .amdhsa_reserve_xnack_mask 1",
		"    .amdhsa_ieee_mode 0",
		"    .amdhsa_dx10_clamp 0",
	}
	if d.AccumOffset != 0 {
		to = append(to, fmt.Sprintf("    .amdhsa_accum_offset %d", d.AccumOffset))
	}
	return append(to, ".end_amdhsa_kernel")
}

func argLine(a Arg) string {
	parts := []string{
		".name: " + a.Name,
		fmt.Sprintf(".size: %d", a.Size),
		fmt.Sprintf(".offset: %d", a.Offset),
		".value_kind: " + a.Kind,
		".value_type: " + a.ValueType,
	}
	if a.AddressSpace != "" {
		parts = append(parts, ".address_space: "+a.AddressSpace)
	}
	if a.Const != nil {
		parts = append(parts, fmt.Sprintf(".is_const: %t", *a.Const))
	}
	return "    - { " + strings.Join(parts, ", ") + " }"
}

var metadataVersions = []string{
	raw.V3: "[ 1, 0 ]",
	raw.V4: "[ 1, 1 ]",
}

// Metadata is the one .amdgpu_metadata document of a code object,
// listing every kernel in it.
func Metadata(co raw.CodeObject, ds []*Descriptor) Lines {
	to := Lines{
		".amdgpu_metadata",
		"---",
		"amdhsa.version: " + metadataVersions[co],
		"amdhsa.kernels:",
	}
	for _, d := range ds {
		to = append(to,
			"  - .name: "+d.Name,
			"    .symbol: "+d.Name+".kd",
			fmt.Sprintf("    .sgpr_count: %d", d.WavefrontSGPRs()),
			fmt.Sprintf("    .vgpr_count: %d", d.VGPRs),
			"    .kernarg_segment_align: 8",
			fmt.Sprintf("    .kernarg_segment_size: %d", d.KernargBytes),
			fmt.Sprintf("    .group_segment_fixed_size: %d", d.LDSBytes),
			"    .private_segment_fixed_size: 0",
			"    .wavefront_size: 64",
			fmt.Sprintf("    .reqd_workgroup_size: [ %d, 1, 1 ]", d.BlockSize),
			fmt.Sprintf("    .max_flat_workgroup_size: %d", d.BlockSize),
			"    .args:",
		)
		for _, a := range d.Args {
			to = append(to, argLine(a))
		}
	}
	return append(to, "...", ".end_amdgpu_metadata")
}
