package author

import (
	"fmt"

	"k8s.io/klog/v2"

	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/fwd"
	"igemmgen/internal/compile/author/kd"
	"igemmgen/internal/compile/author/macro"
	"igemmgen/internal/compile/author/sect"
	"igemmgen/internal/compile/plan"
	"igemmgen/internal/raw"
	"igemmgen/internal/version"
)

// KernelError is a kernel that could not be planned.
type KernelError struct {
	Kernel *plan.Kernel
	Err    error
}

func (e *KernelError) Error() string { return e.Err.Error() }

func (e *KernelError) Unwrap() error { return e.Err }

type Result struct {
	Text        []byte
	Descriptors []*kd.Descriptor
}

// Implement plans every kernel of a before rendering any of them.
func Implement(a *plan.Plan) (*Result, error) {
	st := state{pl: a, macs: macro.NewRegistry()}
	if err := st.kernels(); err != nil {
		return nil, err
	}
	st.header()
	st.macros()
	st.bodies()
	st.metadata()
	return &Result{Text: st.sections.Join(), Descriptors: st.descs}, nil
}

type state struct {
	pl       *plan.Plan
	sections sect.Sections
	macs     *macro.Registry
	ks       []*fwd.Kernel
	descs    []*kd.Descriptor
}

func (st *state) kernels() error {
	for _, pk := range st.pl.Seq {
		k, err := fwd.New(pk.Config)
		if err != nil {
			return &KernelError{Kernel: pk, Err: err}
		}
		d := k.Descriptor()
		klog.V(2).Infof("kernel %s: %d sgprs, %d vgprs, %d agprs, %d lds bytes, block %d",
			d.Name, d.SGPRs, d.VGPRs, d.AGPRs, d.LDSBytes, d.BlockSize)
		for _, m := range k.Macros().List() {
			st.macs.Add(m)
		}
		st.ks = append(st.ks, k)
		st.descs = append(st.descs, d)
	}
	return nil
}

func (st *state) header() {
	cfg := st.pl.Config
	st.sections.Append(sect.Header,
		asm.Comment{
			fmt.Sprintf("generated by igemmgen version %d", version.Int),
			fmt.Sprintf("%s: %d kernels for %s", cfg.Prefix, len(st.ks), cfg.Arch),
		},
		asm.Directive{Name: "amdgcn_target", Args: []string{
			fmt.Sprintf("%q", "amdgcn-amd-amdhsa--"+cfg.Arch.String()),
		}},
	)
	if cfg.CodeObject == raw.V4 {
		st.sections.Append(sect.Header,
			asm.Directive{Name: "amdhsa_code_object_version", Args: []string{"4"}})
	}
	st.sections.Append(sect.Header, asm.Newline)
}

// macros defines each labeled macro once for the whole file.
func (st *state) macros() {
	st.sections.Append(sect.Macros, st.macs.Defs())
}

func (st *state) bodies() {
	for _, k := range st.ks {
		st.sections.Append(sect.Kernels, k.Text())
	}
}

func (st *state) metadata() {
	st.sections.Append(sect.Metadata, kd.Metadata(st.pl.Config.CodeObject, st.descs))
}
