package plan

import (
	"igemmgen/internal/compile/tunable"
	"igemmgen/internal/raw"
)

// Kernel is one Tunable line and the Mac or Xdlops line that completes
// it.
type Kernel struct {
	Lines  [2]int
	Config *tunable.Config
}

type Plan struct {
	Config *raw.Config
	Seq    []*Kernel
}
