package model

import (
	"errors"
	"sync"
	"testing"
)

func TestKindForType(t *testing.T) {
	tests := []struct {
		typ  string
		want Kind
	}{
		{"Status", KindStatus},
		{"Configuration", KindConfig},
		{"", KindConfig},
		{"status", KindConfig},
	}
	for _, tt := range tests {
		if got := KindForType(tt.typ); got != tt.want {
			t.Errorf("KindForType(%q) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestVariableEnums(t *testing.T) {
	v := Variable{Enums: []string{"False", "True"}}
	if got := v.EnumString(); got != "False,True" {
		t.Errorf("EnumString() = %q", got)
	}
	if !v.Allows("True") || v.Allows("Maybe") {
		t.Error("Allows mismatch")
	}
	if got := SplitEnums("a,b"); len(got) != 2 || got[1] != "b" {
		t.Errorf("SplitEnums = %v", got)
	}
	if SplitEnums("") != nil {
		t.Error("SplitEnums(\"\") should be nil")
	}
	free := Variable{}
	if !free.Allows("anything") {
		t.Error("variable without enums should allow any value")
	}
}

func TestVariableInRange(t *testing.T) {
	v := Variable{Min: "0", Max: "10"}
	tests := []struct {
		value string
		want  bool
	}{
		{"5", true},
		{"0", true},
		{"10", true},
		{"-1", false},
		{"10.5", false},
		{"0x10", true},
		{"abc", true},
	}
	for _, tt := range tests {
		if got := v.InRange(tt.value); got != tt.want {
			t.Errorf("InRange(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestCommandName(t *testing.T) {
	c := Command{Path: "dpm(0):ResetCounters"}
	if c.Name() != "ResetCounters" {
		t.Errorf("Name() = %q", c.Name())
	}
	if (&Command{Path: "Start"}).Name() != "Start" {
		t.Error("Name() of single segment path")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.AddVariable(Variable{Path: "b:gain", Kind: KindConfig})
	r.AddVariable(Variable{Path: "a:temp", Kind: KindStatus})
	r.AddVariable(Variable{Path: "a:mode", Kind: KindConfig})
	r.AddCommand(Command{Path: "a:Reset", HasArg: false})

	cfg := r.Variables(KindConfig)
	if len(cfg) != 2 || cfg[0].Path != "a:mode" || cfg[1].Path != "b:gain" {
		t.Errorf("Variables(config) = %+v", cfg)
	}
	if st := r.Variables(KindStatus); len(st) != 1 {
		t.Errorf("Variables(status) = %+v", st)
	}

	if _, err := r.Variable("missing"); !errors.Is(err, ErrVariableNotFound) {
		t.Errorf("Variable(missing) error = %v", err)
	}
	if _, err := r.Command("a:Reset"); err != nil {
		t.Errorf("Command() error = %v", err)
	}
	if _, err := r.Command("b:Reset"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("Command(missing) error = %v", err)
	}

	got := r.Search("A:")
	want := []string{"a:Reset", "a:mode", "a:temp"}
	if len(got) != len(want) {
		t.Fatalf("Search = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Search[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	vars, cmds := r.Len()
	if vars != 3 || cmds != 1 {
		t.Errorf("Len() = %d, %d", vars, cmds)
	}
	r.Clear()
	if vars, cmds := r.Len(); vars != 0 || cmds != 0 {
		t.Errorf("after Clear Len() = %d, %d", vars, cmds)
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.AddVariable(Variable{Path: string(rune('a' + i))})
			_ = r.Variables(KindConfig)
		}(i)
	}
	wg.Wait()
	if vars, _ := r.Len(); vars != 8 {
		t.Errorf("Len() = %d, want 8", vars)
	}
}
