// Package nmsrc hands out label names that are unique within one
// assembly file.
package nmsrc

import "strconv"

type Src struct {
	kernel string
	m      map[string]int
}

func New(kernel string) *Src {
	return &Src{
		kernel: kernel,
		m:      make(map[string]int),
	}
}

// Label is "L_<kernel>_<what>"; repeats of what get a count appended.
func (s *Src) Label(what string) string {
	i := s.m[what] + 1
	s.m[what] = i
	name := "L_" + s.kernel + "_" + what
	if i > 1 {
		name += strconv.Itoa(i)
	}
	return name
}
