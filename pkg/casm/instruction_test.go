package casm

import (
	"testing"

	"github.com/raymyers/sierra2casm/pkg/refs"
)

func TestOpSizes(t *testing.T) {
	tests := []struct {
		name string
		body Body
		want int
	}{
		{"ret", RetBody{}, 1},
		{"ap-update", ApUpdateBody{Delta: 3}, 1},
		{"move", MoveBody{Src: refs.AP(0), Dest: refs.AP(1)}, 2},
		{"jump", &JumpBody{}, 2},
		{"const-ref", &ConstRefBody{}, 2},
	}
	for _, tt := range tests {
		if got := tt.body.OpSize(); got != tt.want {
			t.Errorf("%s.OpSize() = %d, want %d", tt.name, got, tt.want)
		}
		if got := len(tt.body.Encode()); got != tt.want {
			t.Errorf("%s: len(Encode()) = %d, want %d (OpSize must match word count)", tt.name, got, tt.want)
		}
	}
}

func TestRelocatableSetImmediate(t *testing.T) {
	j := &JumpBody{}
	j.SetImmediate(42)
	if j.Encode()[1] != 42 {
		t.Errorf("jump immediate not applied: %v", j.Encode())
	}

	c := &ConstRefBody{Dest: refs.AP(0)}
	c.SetImmediate(7)
	if c.Encode()[1] != 7 {
		t.Errorf("const-ref immediate not applied: %v", c.Encode())
	}
}

func TestInstructionOpSizeDelegates(t *testing.T) {
	inst := Instruction{Body: MoveBody{Src: refs.AP(0), Dest: refs.FP(-2)}}
	if inst.OpSize() != 2 {
		t.Errorf("Instruction.OpSize() = %d, want 2", inst.OpSize())
	}
}
