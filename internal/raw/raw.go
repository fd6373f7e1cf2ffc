package raw

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

type Node interface {
	LineNumber() int
}

type Arch int

const (
	Gfx906 Arch = iota
	Gfx908
	Gfx90a
)

var ArchStrings = []string{
	Gfx906: "gfx906",
	Gfx908: "gfx908",
	Gfx90a: "gfx90a",
}

func (a Arch) String() string { return ArchStrings[a] }

type CodeObject int

func (c CodeObject) String() string { return CodeObjectStrings[c] }

const (
	V3 CodeObject = iota
	V4
)

var CodeObjectStrings = []string{
	V3: "V3",
	V4: "V4",
}

type Precision int

const (
	FP32 Precision = iota
	FP16
	BF16
)

var PrecisionStrings = []string{
	FP32: "fp32",
	FP16: "fp16",
	BF16: "bf16",
}

func (p Precision) String() string { return PrecisionStrings[p] }

type MacroStyle int

const (
	LabeledMacros MacroStyle = iota
	InlineMacros
)

var MacroStyleStrings = []string{
	LabeledMacros: "labeled",
	InlineMacros:  "inline",
}

type Config struct {
	LineNum    int
	Prefix     string
	Arch       Arch
	CodeObject CodeObject
	Macros     MacroStyle
}

func (c *Config) LineNumber() int { return c.LineNum }

// Tunable is the layout-independent part of one kernel variant. Thread
// and cluster lengths are ordered e, c, then the two sub-dimensions of
// the operand (nb0, nb1 for the input, k0, k1 for the weight).
type Tunable struct {
	LineNum           int
	Precision         Precision
	Nxe               int
	GemmMPerBlock     int
	GemmNPerBlock     int
	GemmKPerBlock     int
	TensorAThread     [4]int
	TensorACluster    [4]int
	TensorBThread     [4]int
	TensorBCluster    [4]int
	LdsBuffers        int
	CoalescingGroups  int
	Interleave        bool
	PrecacheSoffset   bool
	MagicDivision     bool
	SourceAccessOrder int
}

func (t *Tunable) LineNumber() int { return t.LineNum }

type Mac struct {
	LineNum    int
	MPerThread int
	MLevel0    int
	MLevel1    int
	NPerThread int
	NLevel0    int
	NLevel1    int
}

func (m *Mac) LineNumber() int { return m.LineNum }

type Xdlops struct {
	LineNum int
	TileM   int
	TileN   int
	TileK   int
	StepM   int
	StepN   int
	RepeatM int
	RepeatN int
}

func (x *Xdlops) LineNumber() int { return x.LineNum }

type Seg struct {
	Doc     string
	Label   string
	Default string
	Choices []string
	Parse   func(string) (interface{}, error)
}

type Tail struct {
	Doc   string
	Segs  []*Seg
	Parse func(int, []interface{}) Node
}

var Guide = make(map[string]*Tail)

const Binder = "="

func Parse(text string) ([]Node, error) {
	const (
		pre = "parse failed: "
		wln = pre + "line %d: "
		eg  = wln + "expected %s" + Binder + "%s (for example)"
	)
	if n := len(text); n == 0 {
		return nil, nil
	} else if text[n-1] != '\n' {
		return nil, errors.New(pre + "expected final newline")
	}
	var nodes []Node
	const (
		headSpace int = iota
		headToken
		tailSpace
		tailToken
	)
	phase := headSpace
	i, lineHead, line := 0, 0, 1
	var tail *Tail
	var vals []interface{}
	for j, jj := range text {
		if !unicode.IsSpace(jj) {
			if phase == headSpace {
				phase, i, lineHead = headToken, j, line
			} else if phase == tailSpace {
				phase, i = tailToken, j
			}
			continue
		}
		if phase == headToken {
			phase = tailSpace
			if tail = Guide[text[i:j]]; tail == nil {
				heads := make([]string, 0, len(Guide))
				for head := range Guide {
					heads = append(heads, head)
				}
				sort.Strings(heads)
				msg := fmt.Sprintf(wln+"%s", line, errExpected(heads).Error())
				return nil, errors.New(msg)
			}
			if len(tail.Segs) == 0 {
				nodes = append(nodes, tail.Parse(lineHead, nil))
				phase = headSpace
			}
		} else if phase == tailToken {
			seg := tail.Segs[len(vals)]
			parts := strings.Split(text[i:j], Binder)
			if len(parts) != 2 || parts[0] != seg.Label {
				msg := fmt.Sprintf(eg, line, seg.Label, seg.Default)
				return nil, errors.New(msg)
			}
			val, err := seg.Parse(parts[1])
			if err != nil {
				msg := fmt.Sprintf(wln+"%s: %s", line, seg.Label, err.Error())
				return nil, errors.New(msg)
			}
			vals = append(vals, val)
			if len(vals) == len(tail.Segs) {
				nodes = append(nodes, tail.Parse(lineHead, vals))
				phase, vals = headSpace, vals[:0]
			} else {
				phase = tailSpace
			}
		}
		if jj == '\n' {
			line += 1
		}
	}
	if phase == tailSpace {
		seg := tail.Segs[len(vals)]
		msg := fmt.Sprintf(eg, line, seg.Label, seg.Default)
		return nil, errors.New(msg)
	}
	return nodes, nil
}

const (
	identStr   = `^[a-zA-Z][a-zA-Z0-9_]*$`
	posIntStr  = `^[1-9][0-9]*$`
	lengthsStr = `^[1-9][0-9]*(x[1-9][0-9]*){3}$`
	flagStr    = `^[01]$`
)

var (
	identRE   = regexp.MustCompile(identStr)
	posIntRE  = regexp.MustCompile(posIntStr)
	lengthsRE = regexp.MustCompile(lengthsStr)
	flagRE    = regexp.MustCompile(flagStr)
)

const (
	identDoc   = "Must be a letter followed by zero or more letters/digits/underscores: " + identStr
	posIntDoc  = "Must be a positive integer: " + posIntStr
	pow2Doc    = "Must be a power of two."
	lengthsDoc = "Four positive integers joined by x: " + lengthsStr
	flagDoc    = "Must be 0 or 1."
)

var (
	errGap      = errors.New("unexpected gap after " + Binder)
	errRejected = errors.New("rejected")
	errPow2     = errors.New("not a power of two")
)

func errMatch(a, b string) error {
	return errors.New(a + "does not match " + b)
}

func errExpected(a []string) error {
	return errors.New("expected " + strings.Join(a, " or "))
}

var fold = cases.Fold()

func choice(a string, choices []string) (int, error) {
	key := fold.String(a)
	for i, s := range choices {
		if key == fold.String(s) {
			return i, nil
		}
	}
	if a == "" {
		return 0, errGap
	}
	return 0, errExpected(choices)
}

func ident(a string) (interface{}, error) {
	if !identRE.MatchString(a) {
		if a == "" {
			return nil, errGap
		}
		return nil, errMatch("", identStr)
	}
	return a, nil
}

func posInt(a string, r int) (interface{}, error) {
	if !posIntRE.MatchString(a) {
		if a == "" {
			return nil, errGap
		}
		return nil, errMatch("", posIntStr)
	}
	n, err := strconv.Atoi(a)
	if err != nil {
		return nil, err
	}
	if n >= r {
		return nil, errRejected
	}
	return n, nil
}

func pow2(a string, r int) (interface{}, error) {
	v, err := posInt(a, r)
	if err != nil {
		return nil, err
	}
	if n := v.(int); n&(n-1) != 0 {
		return nil, errPow2
	}
	return v, nil
}

func lengths(a string) (interface{}, error) {
	if !lengthsRE.MatchString(a) {
		if a == "" {
			return nil, errGap
		}
		return nil, errMatch("", lengthsStr)
	}
	var to [4]int
	for i, part := range strings.Split(a, "x") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		if n >= 1<<16 || n&(n-1) != 0 {
			return nil, errPow2
		}
		to[i] = n
	}
	return to, nil
}

func flag(a string) (interface{}, error) {
	if !flagRE.MatchString(a) {
		if a == "" {
			return nil, errGap
		}
		return nil, errMatch("", flagStr)
	}
	return a == "1", nil
}

func pow2Seg(label, def, doc string) *Seg {
	return &Seg{
		Doc:     doc + " " + pow2Doc,
		Label:   label,
		Default: def,
		Parse: func(a string) (interface{}, error) {
			return pow2(a, 1<<16)
		},
	}
}

func flagSeg(label, def, doc string) *Seg {
	return &Seg{
		Doc:     doc + " " + flagDoc,
		Label:   label,
		Default: def,
		Choices: []string{"0", "1"},
		Parse:   flag,
	}
}

func lengthsSeg(label, def, doc string) *Seg {
	return &Seg{
		Doc:     doc + " " + lengthsDoc + " Each must be a power of two.",
		Label:   label,
		Default: def,
		Parse:   lengths,
	}
}
