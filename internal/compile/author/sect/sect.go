// Package sect gathers assembly text into the ordered sections of one
// output file.
package sect

import "igemmgen/internal/compile/author/asm"

type Section int

const (
	First Section = iota
	Header
	Macros
	Kernels
	Metadata
	Last
	sectionCount
)

type Sections struct {
	a [sectionCount][]byte
}

func (s *Sections) Append(to Section, from ...asm.Gen) {
	for _, gen := range from {
		if gen != nil {
			s.a[to] = gen.Append(s.a[to])
		}
	}
}

// Join concatenates the sections. Runs of blank lines collapse to one
// and the file ends with exactly one newline.
func (s *Sections) Join() (to []byte) {
	const newline = '\n'
	blank := true
	var prev byte = newline
	for _, from := range s.a[First : Last+1] {
		for _, curr := range from {
			if curr == newline && prev == newline {
				if blank {
					continue
				}
				blank = true
			} else if curr != newline {
				blank = false
			}
			to = append(to, curr)
			prev = curr
		}
	}
	for n := len(to); n > 1 && to[n-1] == newline && to[n-2] == newline; n-- {
		to = to[:n-1]
	}
	return
}
