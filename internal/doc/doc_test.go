package doc

import (
	"strings"
	"testing"
)

func TestBytes(t *testing.T) {
	text := string(Bytes())
	for _, want := range []string{
		"Config\n    Prefix=igemm\n",
		"\nMac\n    MPerThread=4\n",
		"\n    Arch= The target GPU.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q", want)
		}
	}
	words := strings.Join(strings.Fields(text), " ")
	for _, want := range []string{
		"One of gfx906, gfx908, gfx90a.",
		"SourceAccessOrder= 0 walks workgroups along gemm N first",
	} {
		if !strings.Contains(words, want) {
			t.Errorf("missing %q", want)
		}
	}
}
