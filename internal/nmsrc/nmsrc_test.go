package nmsrc

import "testing"

func TestLabel(t *testing.T) {
	src := New("k")
	for _, want := range []string{"L_k_body", "L_k_body2", "L_k_end"} {
		what := "body"
		if want == "L_k_end" {
			what = "end"
		}
		if got := src.Label(what); got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	}
}
