package index

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// Dimension positions within a length vector.
const (
	E = iota
	C
	D0
	D1
)

// Copy order of the dimensions: d0 and d1 are outermost, then e, c.
var copyOrder = [4]int{D0, D1, E, C}

var ErrStructure = errors.New("thread/cluster structure")

// Operand is the thread and cluster length vectors of one gemm operand.
type Operand struct {
	Thread  [4]int
	Cluster [4]int
}

func (o Operand) Total(d int) int {
	return o.Thread[d] * o.Cluster[d]
}

// Side describes how one operand's per-thread copy is shaped.
type Side struct {
	Totals [4]int

	// Copy is the non-unit thread dimensions in copy order. Its length
	// says whether the copy is a single element, a vector or a 2D block.
	Copy []int

	// Vector is the number of elements each load instruction moves.
	Vector int

	// Rows is how many separately addressed rows each thread loads.
	Rows int

	// RowStride is the distance, in elements of the sub-dimension, between
	// consecutive rows of one thread.
	RowStride int

	// Last is the sub-dimension that carries the row index.
	Last int
}

type Result struct {
	A, B Side
}

func errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrStructure}, args...)...)
}

func side(o Operand) Side {
	var s Side
	for d := range s.Totals {
		s.Totals[d] = o.Total(d)
	}
	s.Copy = lo.FilterMap(copyOrder[:], func(d int, _ int) (int, bool) {
		return d, o.Thread[d] != 1
	})
	s.Vector = 1
	if tc := o.Thread[C]; tc != 1 {
		s.Vector = gcd(tc, 4)
	}
	s.Rows = o.Thread[D0] * o.Thread[D1]
	s.Last = D1
	s.RowStride = 1
	if o.Thread[D0] != 1 {
		s.Last = D0
		s.RowStride = o.Cluster[D1] * o.Thread[D1]
	}
	return s
}

// Decompose validates a and b and derives their copy shapes.
func Decompose(a, b Operand) (*Result, error) {
	for _, at := range []struct {
		name string
		op   Operand
	}{{"tensor a", a}, {"tensor b", b}} {
		o := at.op
		for d := 0; d < 4; d++ {
			if o.Thread[d] < 1 || o.Cluster[d] < 1 {
				return nil, errorf("%s: nonpositive length", at.name)
			}
		}
		if o.Thread[E] != 1 || o.Cluster[E] != 1 {
			return nil, errorf("%s: e lengths must be 1", at.name)
		}
		if o.Thread[D0] != 1 && o.Thread[D1] != 1 {
			return nil, errorf("%s: thread lengths %d and %d are both non-unit",
				at.name, o.Thread[D0], o.Thread[D1])
		}
		if o.Cluster[D0] != 1 {
			return nil, errorf("%s: cluster length %d along the outer sub-dimension",
				at.name, o.Cluster[D0])
		}
	}
	if a.Thread[C] != b.Thread[C] || a.Cluster[C] != b.Cluster[C] {
		return nil, errorf("c lengths differ: %dx%d vs %dx%d",
			a.Thread[C], a.Cluster[C], b.Thread[C], b.Cluster[C])
	}
	return &Result{A: side(a), B: side(b)}, nil
}

// Product of a length vector.
func Product(v [4]int) int {
	return lo.Reduce(v[:], func(acc, x int, _ int) int { return acc * x }, 1)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
