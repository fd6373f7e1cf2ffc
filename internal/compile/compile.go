package compile

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"k8s.io/klog/v2"

	"igemmgen/internal/compile/author"
	"igemmgen/internal/compile/plan"
	"igemmgen/internal/compile/tunable"
	"igemmgen/internal/raw"
)

// Result is one assembly file and the descriptors of its kernels.
type Result struct {
	Name string
	Asm  []byte
	JSON []byte
}

func Compile(text string) (*Result, error) {
	nodes, err := raw.Parse(text)
	if err != nil {
		return nil, err
	}
	st := &state{
		nodes: nodes,
	}
	if err := st.stages(); err != nil {
		return nil, errors.New("compile failed: " + err.Error())
	}
	return &Result{
		Name: st.config.Prefix,
		Asm:  st.asm,
		JSON: st.json,
	}, nil
}

func anError(msg, kernel string, lines ...int) error {
	var pre string
	if n := len(lines); n != 0 {
		if n > 2 {
			panic("bug")
		}
		l0 := lines[0]
		if n == 1 || l0 == lines[1] {
			pre = fmt.Sprintf("line %d: ", l0)
		} else {
			l1 := lines[1]
			if l0 > l1 {
				l0, l1 = l1, l0
			}
			pre = fmt.Sprintf("lines %d and %d: ", l0, l1)
		}
	}
	if kernel != "" {
		pre += kernel + ": "
	}
	return errors.New(pre + msg)
}

type state struct {
	nodes  []raw.Node
	config *raw.Config
	plan   plan.Plan
	asm    []byte
	json   []byte
}

var stages = [...]func(*state) error{
	(*state).stage1,
	(*state).stage2,
	(*state).stage3,
	(*state).stage4,
	(*state).stage5,
	(*state).stage6,
}

func (st *state) stages() error {
	for i, stage := range &stages {
		if err := stage(st); err != nil {
			return err
		}
		klog.V(1).Infof("compile stage %d of %d done", i+1, len(stages))
	}
	return nil
}

// stage1 takes out the one Config.
func (st *state) stage1() error {
	rest := st.nodes[:0:0]
	for _, node := range st.nodes {
		if config, ok := node.(*raw.Config); ok {
			if st.config != nil {
				return anError("second Config", "", st.config.LineNum, config.LineNum)
			}
			st.config = config
			continue
		}
		rest = append(rest, node)
	}
	if st.config == nil {
		return anError("no Config", "")
	}
	st.nodes = rest
	st.plan.Config = st.config
	return nil
}

// stage2 pairs each Tunable with the Mac or Xdlops line after it.
func (st *state) stage2() error {
	var open *raw.Tunable
	var cfg *tunable.Config
	done := func(line int) {
		st.plan.Seq = append(st.plan.Seq, &plan.Kernel{
			Lines:  [2]int{open.LineNum, line},
			Config: cfg,
		})
		open = nil
	}
	for _, node := range st.nodes {
		switch at := node.(type) {
		case *raw.Tunable:
			if open != nil {
				return anError("Tunable without Mac or Xdlops", "", open.LineNum)
			}
			open, cfg = at, tunable.FromRaw(st.config, at)
		case *raw.Mac:
			if open == nil {
				return anError("Mac without Tunable", "", at.LineNum)
			}
			cfg.Mac = &tunable.Mac{
				MPerThread: at.MPerThread, MLevel0: at.MLevel0, MLevel1: at.MLevel1,
				NPerThread: at.NPerThread, NLevel0: at.NLevel0, NLevel1: at.NLevel1,
			}
			done(at.LineNum)
		case *raw.Xdlops:
			if open == nil {
				return anError("Xdlops without Tunable", "", at.LineNum)
			}
			cfg.Xdlops = &tunable.Xdlops{
				TileM: at.TileM, TileN: at.TileN, TileK: at.TileK,
				StepM: at.StepM, StepN: at.StepN, RepeatM: at.RepeatM, RepeatN: at.RepeatN,
			}
			done(at.LineNum)
		default:
			panic("bug")
		}
	}
	if open != nil {
		return anError("Tunable without Mac or Xdlops", "", open.LineNum)
	}
	if len(st.plan.Seq) == 0 {
		return anError("no Tunable", "", st.config.LineNum)
	}
	return nil
}

func (st *state) stage3() error {
	for _, k := range st.plan.Seq {
		if err := k.Config.Validate(); err != nil {
			return anError(err.Error(), "", k.Lines[:]...)
		}
	}
	return nil
}

func (st *state) stage4() error {
	byName := lo.GroupBy(st.plan.Seq, func(k *plan.Kernel) string {
		return k.Config.Name()
	})
	for _, k := range st.plan.Seq {
		if same := byName[k.Config.Name()]; len(same) > 1 {
			return anError("Tunables describe the same kernel", k.Config.Name(),
				same[0].Lines[0], same[1].Lines[0])
		}
	}
	return nil
}

func (st *state) stage5() error {
	res, err := author.Implement(&st.plan)
	if err != nil {
		var ke *author.KernelError
		if errors.As(err, &ke) {
			return anError(err.Error(), "", ke.Kernel.Lines[:]...)
		}
		return err
	}
	st.asm = res.Text
	st.json, err = json.MarshalIndent(res.Descriptors, "", "\t")
	if err != nil {
		return err
	}
	st.json = append(st.json, '\n')
	return nil
}

func (st *state) stage6() error {
	klog.V(1).Infof("%s: %d kernels, %d bytes of assembly",
		st.config.Prefix, len(st.plan.Seq), len(st.asm))
	return nil
}
