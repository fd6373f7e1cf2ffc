package example

import (
	"fmt"
	"strings"
)

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// kernel is one Tunable line and its compute line.
type kernel struct {
	precision       string
	nxe             int
	m, n, k         int
	ta, ca, tb, cb  string
	lds, groups     int
	interleave      bool
	precache, magic bool
	order           int
	compute         string
}

func (k *kernel) text() string {
	return fmt.Sprintf("Tunable Precision=%s Nxe=%d GemmMPerBlock=%d GemmNPerBlock=%d GemmKPerBlock=%d\n"+
		"\tTensorAThread=%s TensorACluster=%s\n"+
		"\tTensorBThread=%s TensorBCluster=%s\n"+
		"\tLdsBuffers=%d CoalescingGroups=%d Interleave=%d PrecacheSoffset=%d MagicDivision=%d SourceAccessOrder=%d\n"+
		"%s\n",
		k.precision, k.nxe, k.m, k.n, k.k,
		k.ta, k.ca, k.tb, k.cb,
		k.lds, k.groups, b2i(k.interleave), b2i(k.precache), b2i(k.magic), k.order,
		k.compute)
}

var (
	xdlopsFP32 = &kernel{
		precision: "fp32", nxe: 1, m: 128, n: 128, k: 16,
		ta: "1x4x2x1", ca: "1x4x1x64", tb: "1x4x2x1", cb: "1x4x1x64",
		lds: 2, groups: 2, precache: true, magic: true,
		compute: "Xdlops TileM=32 TileN=32 TileK=2 StepM=1 StepN=1 RepeatM=2 RepeatN=2",
	}
	xdlopsFP16 = &kernel{
		precision: "fp16", nxe: 1, m: 256, n: 64, k: 32,
		ta: "1x8x4x1", ca: "1x4x1x64", tb: "1x8x1x1", cb: "1x4x1x64",
		lds: 1, groups: 2, interleave: true, magic: true,
		compute: "Xdlops TileM=32 TileN=32 TileK=8 StepM=1 StepN=1 RepeatM=2 RepeatN=2",
	}
	macFP32 = &kernel{
		precision: "fp32", nxe: 0, m: 64, n: 64, k: 8,
		ta: "1x2x4x1", ca: "1x4x1x16", tb: "1x2x4x1", cb: "1x4x1x16",
		lds: 2, groups: 1, precache: true, magic: true, order: 1,
		compute: "Mac MPerThread=4 MLevel0=4 MLevel1=2 NPerThread=4 NLevel0=4 NLevel1=2",
	}
)

func file(prefix string, ks ...*kernel) []byte {
	var sb strings.Builder
	sb.WriteString("Config Prefix=" + prefix + " Arch=gfx908 CodeObject=V3 Macros=labeled\n")
	for _, k := range ks {
		sb.WriteString(k.text())
	}
	return []byte(sb.String())
}

var menu = [...]struct {
	name string
	call func() []byte
}{
	{"XdlopsFP32", func() []byte { return file("igemm", xdlopsFP32) }},
	{"XdlopsFP16", func() []byte { return file("igemm", xdlopsFP16) }},
	{"MacFP32", func() []byte { return file("igemm", macFP32) }},
	{"Bundle", func() []byte { return file("bundle", xdlopsFP32, xdlopsFP16, macFP32) }},
}

func Names() []string {
	names := make([]string, len(menu))
	for i := range &menu {
		names[i] = menu[i].name
	}
	return names
}

func Generate(name string) []byte {
	for i := range &menu {
		if menu[i].name == name {
			return menu[i].call()
		}
	}
	return nil
}
