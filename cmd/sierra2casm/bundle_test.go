package main

import (
	"testing"

	"github.com/raymyers/sierra2casm/pkg/sierra"
	"gopkg.in/yaml.v3"
)

const sampleBundle = `
program:
  statements:
    - invoke:
        libfunc: store_temp
        args: [1]
        branches:
          - target: {fallthrough: true}
            results: [2]
    - return: [2]
  funcs:
    - name: f
      entry_point: 0
      return_types: [felt]
  libfunc_decls: [store_temp]
types:
  felt:
    kind: primitive
libfuncs:
  store_temp:
    param_types: [felt]
    branches:
      - var_types: [felt]
type_sizes:
  felt: 1
entry_annotations:
  0:
    refs:
      1:
        expr: {base: fp, offset: -3}
        type: felt
    environment:
      ap_offset: -1
config:
  max_bytecode_size: 100
`

func TestBundleRoundTrip(t *testing.T) {
	var b bundle
	if err := yaml.Unmarshal([]byte(sampleBundle), &b); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	program, err := b.toProgram()
	if err != nil {
		t.Fatalf("toProgram: %v", err)
	}
	if len(program.Statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(program.Statements))
	}
	if program.Statements[0].Invocation.LibfuncID != "store_temp" {
		t.Fatalf("libfunc id = %q", program.Statements[0].Invocation.LibfuncID)
	}

	reg, err := b.toRegistry()
	if err != nil {
		t.Fatalf("toRegistry: %v", err)
	}
	sig, err := reg.Libfunc("store_temp")
	if err != nil {
		t.Fatalf("Libfunc lookup: %v", err)
	}
	if len(sig.ParamTypes) != 1 || sig.ParamTypes[0] != "felt" {
		t.Fatalf("param types = %v", sig.ParamTypes)
	}

	entry := b.toEntryAnnotations()
	ann, ok := entry[sierra.StatementIdx(0)]
	if !ok {
		t.Fatal("expected entry annotation for statement 0")
	}
	if ann.Environment.ApOffset != -1 {
		t.Fatalf("ap offset = %d, want -1", ann.Environment.ApOffset)
	}
	ref, ok := ann.Refs[1]
	if !ok || ref.Expr.Offset != -3 {
		t.Fatalf("ref for var 1 = %v", ref)
	}

	cfg := b.toConfig()
	if cfg.MaxBytecodeSize != 100 {
		t.Fatalf("max bytecode size = %d, want 100", cfg.MaxBytecodeSize)
	}

	emitters := b.buildEmitters(reg)
	_ = emitters
}
