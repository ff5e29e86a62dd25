package compiler

import (
	"testing"

	"github.com/raymyers/sierra2casm/pkg/casmtypes"
	"github.com/raymyers/sierra2casm/pkg/invocations"
	"github.com/raymyers/sierra2casm/pkg/metadata"
	"github.com/raymyers/sierra2casm/pkg/refs"
	"github.com/raymyers/sierra2casm/pkg/sierra"
)

type testRegistry struct {
	libfuncs map[sierra.LibfuncID]casmtypes.LibfuncSignature
}

func (r *testRegistry) Type(id sierra.TypeID) (casmtypes.ConcreteType, error) {
	return casmtypes.PrimitiveType{}, nil
}

func (r *testRegistry) Libfunc(id sierra.LibfuncID) (casmtypes.LibfuncSignature, error) {
	sig, ok := r.libfuncs[id]
	if !ok {
		return casmtypes.LibfuncSignature{}, &Error{Kind: ErrProgramRegistryError}
	}
	return sig, nil
}

func newEmitters() *invocations.EmitterRegistry {
	r := invocations.NewEmitterRegistry()
	r.Register("jump", invocations.JumpEmitter{})
	r.Register("store_temp", invocations.StoreTempEmitter{})
	r.Register("branch_align", invocations.BranchAlignEmitter{})
	return r
}

func entryAt(stmt sierra.StatementIdx, e refs.Environment) map[sierra.StatementIdx]refs.StatementAnnotations {
	return map[sierra.StatementIdx]refs.StatementAnnotations{stmt: {Refs: e}}
}

func TestCompileEmptyReturn(t *testing.T) {
	program := &sierra.Program{
		Statements: []sierra.Statement{sierra.Return()},
		Funcs:      []sierra.Function{{Name: "f", EntryPoint: 0, ReturnTypes: nil}},
	}
	entry := entryAt(0, refs.Environment{})
	out, err := Compile(program, &testRegistry{}, casmtypes.TypeSizeMap{}, &metadata.Metadata{}, entry, newEmitters(), Config{MaxBytecodeSize: 100})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(out.Instructions) != 1 {
		t.Fatalf("expected 1 instruction (ret), got %d", len(out.Instructions))
	}
	if len(out.DebugInfo.Statements) != 2 { // the return + the end marker
		t.Fatalf("expected 2 debug entries, got %d", len(out.DebugInfo.Statements))
	}
}

func TestCompileSingleInvokeThenReturn(t *testing.T) {
	reg := &testRegistry{libfuncs: map[sierra.LibfuncID]casmtypes.LibfuncSignature{
		"store_temp": {
			ParamTypes: []sierra.TypeID{"felt"},
			Branches:   []casmtypes.BranchSignature{{VarTypes: []sierra.TypeID{"felt"}}},
		},
	}}
	program := &sierra.Program{
		Statements: []sierra.Statement{
			sierra.Invoke(sierra.Invocation{
				LibfuncID: "store_temp",
				Args:      []sierra.VarID{1},
				Branches:  []sierra.BranchInfo{{Target: sierra.Fallthrough, Results: []sierra.VarID{2}}},
			}),
			sierra.Return(2),
		},
		Funcs: []sierra.Function{{Name: "f", EntryPoint: 0, ReturnTypes: []sierra.TypeID{"felt"}}},
	}
	entry := map[sierra.StatementIdx]refs.StatementAnnotations{
		0: {
			Refs:        refs.Environment{1: {Expr: refs.FP(-3), Type: "felt"}},
			Environment: refs.EnvironmentToken{ApOffset: -1},
		},
	}
	sizes := casmtypes.TypeSizeMap{"felt": 1}
	out, err := Compile(program, reg, sizes, &metadata.Metadata{}, entry, newEmitters(), Config{MaxBytecodeSize: 100})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(out.Instructions) != 2 { // move + ret
		t.Fatalf("expected 2 instructions, got %d", len(out.Instructions))
	}
}

func TestCompileDanglingReference(t *testing.T) {
	program := &sierra.Program{
		Statements: []sierra.Statement{sierra.Return()},
		Funcs:      []sierra.Function{{Name: "f", EntryPoint: 0}},
	}
	entry := entryAt(0, refs.Environment{9: {Expr: refs.FP(-1), Type: "felt"}})
	_, err := Compile(program, &testRegistry{}, casmtypes.TypeSizeMap{}, &metadata.Metadata{}, entry, newEmitters(), Config{MaxBytecodeSize: 100})
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != ErrDanglingReferences {
		t.Fatalf("expected DanglingReferences, got %v", err)
	}
}

func TestCompileBranchingWithoutAlignFails(t *testing.T) {
	reg := &testRegistry{libfuncs: map[sierra.LibfuncID]casmtypes.LibfuncSignature{
		"maybe": {
			ParamTypes: nil,
			Branches: []casmtypes.BranchSignature{
				{VarTypes: nil},
				{VarTypes: nil},
			},
		},
	}}
	emitters := invocations.NewEmitterRegistry()
	emitters.Register("maybe", fakeTwoBranchEmitter{})
	program := &sierra.Program{
		Statements: []sierra.Statement{
			sierra.Invoke(sierra.Invocation{
				LibfuncID: "maybe",
				Branches: []sierra.BranchInfo{
					{Target: sierra.Fallthrough},
					{Target: sierra.Absolute(2)},
				},
			}),
			sierra.Return(),
			sierra.Return(),
		},
		Funcs: []sierra.Function{{Name: "f", EntryPoint: 0}},
	}
	entry := entryAt(0, refs.Environment{})
	_, err := Compile(program, reg, casmtypes.TypeSizeMap{}, &metadata.Metadata{}, entry, emitters, Config{MaxBytecodeSize: 100})
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != ErrExpectedBranchAlign {
		t.Fatalf("expected ExpectedBranchAlign, got %v", err)
	}
}

func TestCompileBudgetOverflow(t *testing.T) {
	program := &sierra.Program{
		Statements: []sierra.Statement{sierra.Return()},
		Funcs:      []sierra.Function{{Name: "f", EntryPoint: 0}},
	}
	_, err := Compile(program, &testRegistry{}, casmtypes.TypeSizeMap{}, &metadata.Metadata{}, nil, newEmitters(), Config{MaxBytecodeSize: -1})
	cerr, ok := err.(*Error)
	if !ok || cerr.Kind != ErrCodeSizeLimitExceeded {
		t.Fatalf("expected CodeSizeLimitExceeded, got %v", err)
	}
}

type fakeTwoBranchEmitter struct{}

func (fakeTwoBranchEmitter) Compile(stmt sierra.StatementIdx, args []refs.Reference, branches []sierra.BranchInfo, sig casmtypes.LibfuncSignature, env refs.EnvironmentToken, info invocations.ProgramInfo) (invocations.CompiledInvocation, error) {
	return invocations.CompiledInvocation{
		Changes: []refs.BranchChanges{{Environment: env}, {Environment: env}},
	}, nil
}
