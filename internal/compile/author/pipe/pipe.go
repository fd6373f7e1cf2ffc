// Package pipe emits the software-pipelined main loop: global loads of
// the next gemm k block overlap the LDS reads and multiply-accumulates of
// the current one.
package pipe

import (
	"igemmgen/internal/compile/author/asm"
	"igemmgen/internal/compile/author/isa"
	"igemmgen/internal/nmsrc"
)

// Ctrl configures one main loop. The callbacks say what an issue does;
// the engine decides where it goes. Any callback may be nil.
type Ctrl struct {
	Names *nmsrc.Src

	// Unroll is the gemm k consumed per iteration; Kitr counts down
	// from Knum by it.
	Unroll     int
	Kitr, Knum asm.Reg

	// With two buffers the store and load addresses toggle between LDS
	// stages by xor with LdsSingle.
	Buffers    int
	LdsSingle  int
	SstA, SstB asm.Reg
	SldA, SldB asm.Reg

	// Interleave spreads the slide and global loads between compute
	// steps instead of issuing them up front.
	Interleave bool

	GldA, GldB func() asm.Gen
	SstAFn     func() asm.Gen
	SstBFn     func() asm.Gen
	MoveSliceA func() asm.Gen
	MoveSliceB func() asm.Gen
	Compute    Compute
}

func call(f func() asm.Gen) asm.Gen {
	if f == nil {
		return nil
	}
	return f()
}

func (c *Ctrl) toggle(regs ...asm.Reg) asm.Seq {
	if c.Buffers != 2 {
		return nil
	}
	to := make(asm.Seq, len(regs))
	for i, r := range regs {
		to[i] = isa.VXorB32.Of(r, asm.Imm(c.LdsSingle), r)
	}
	return to
}

func (c *Ctrl) store() asm.Seq {
	return asm.Seq{
		isa.Waitcnt(0, -1),
		call(c.SstAFn),
		call(c.SstBFn),
		isa.Waitcnt(-1, 0),
		isa.SBarrier.Of(),
	}
}

func (c *Ctrl) countDown(from asm.Reg) asm.Seq {
	return asm.Seq{
		isa.SSubI32.Of(c.Kitr, from, asm.Imm(c.Unroll)),
		isa.SCmpGtI32.Of(c.Kitr, asm.Imm(0)),
	}
}

// body is one iteration's global traffic merged with its compute.
func (c *Ctrl) body() asm.Seq {
	issue := []asm.Gen{call(c.MoveSliceA), call(c.MoveSliceB), call(c.GldA), call(c.GldB)}
	steps := c.Compute.Steps()
	var to asm.Seq
	if !c.Interleave {
		to = append(to, issue...)
		for _, step := range steps {
			to = append(to, step)
		}
		return to
	}
	// Issue j follows compute step j*len(steps)/len(issue).
	at := 0
	for i, step := range steps {
		for ; at < len(issue) && at*len(steps)/len(issue) <= i; at++ {
			to = append(to, issue[at])
		}
		to = append(to, step)
	}
	return append(to, issue[at:]...)
}

// Emit renders the loop. The first block's global loads must already be
// issued; Emit stores them, runs every full block through the body and
// finishes with the compute of the last block.
func (c *Ctrl) Emit() asm.Gen {
	body, end := c.Names.Label("body"), c.Names.Label("end")
	to := asm.Seq{
		asm.Comment{"main loop"},
		c.Compute.Clear(),
		c.store(),
		c.toggle(c.SstA, c.SstB),
		c.countDown(c.Knum),
		isa.SCbranchScc0.Of(asm.Raw(end)),
		asm.Label(body),
	}
	to = append(to, c.body()...)
	if c.Buffers == 2 {
		to = append(to, c.toggle(c.SldA, c.SldB)...)
	} else {
		to = append(to, isa.Waitcnt(-1, 0), isa.SBarrier.Of())
	}
	to = append(to, c.store()...)
	to = append(to, c.toggle(c.SstA, c.SstB)...)
	to = append(to, c.countDown(c.Kitr)...)
	to = append(to,
		isa.SCbranchScc1.Of(asm.Raw(body)),
		asm.Label(end),
	)
	for _, step := range c.Compute.Steps() {
		to = append(to, step)
	}
	return to
}
