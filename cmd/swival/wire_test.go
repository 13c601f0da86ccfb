package main

import (
	"reflect"
	"strings"
	"testing"
)

func TestDeriveSessionID_StableAndDistinct(t *testing.T) {
	a1 := deriveSessionID("/home/user/projecta")
	a2 := deriveSessionID("/home/user/projecta")
	b := deriveSessionID("/home/user/projectb")

	if a1 != a2 {
		t.Errorf("same path must derive the same session ID: %q vs %q", a1, a2)
	}
	if a1 == b {
		t.Error("different paths must derive different session IDs")
	}
	if !strings.HasPrefix(a1, "swival-") {
		t.Errorf("session ID = %q, want the swival- prefix", a1)
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"git", []string{"git"}},
		{"git,go, make ", []string{"git", "go", "make"}},
		{" ,git,, ", []string{"git"}},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("splitCSV(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSortedCopy_DoesNotMutateInput(t *testing.T) {
	in := []string{"zsh", "awk", "make"}
	got := sortedCopy(in)

	if !reflect.DeepEqual(got, []string{"awk", "make", "zsh"}) {
		t.Errorf("sortedCopy = %v", got)
	}
	if !reflect.DeepEqual(in, []string{"zsh", "awk", "make"}) {
		t.Errorf("input mutated: %v", in)
	}
}
