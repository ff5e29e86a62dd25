package invocations

import (
	"errors"
	"testing"

	"github.com/raymyers/sierra2casm/pkg/casmtypes"
	"github.com/raymyers/sierra2casm/pkg/refs"
	"github.com/raymyers/sierra2casm/pkg/sierra"
)

type failingEmitter struct{ err error }

func (f failingEmitter) Compile(sierra.StatementIdx, []refs.Reference, []sierra.BranchInfo, casmtypes.LibfuncSignature, refs.EnvironmentToken, ProgramInfo) (CompiledInvocation, error) {
	return CompiledInvocation{}, f.err
}

func TestCompileInvocationDispatches(t *testing.T) {
	reg := NewEmitterRegistry()
	reg.Register("branch_align", BranchAlignEmitter{})
	out, err := CompileInvocation(reg, 0, "branch_align", nil, oneBranch(sierra.Fallthrough), casmtypes.LibfuncSignature{}, refs.EnvironmentToken{}, ProgramInfo{})
	if err != nil {
		t.Fatalf("CompileInvocation: %v", err)
	}
	if len(out.Instructions) != 0 {
		t.Fatalf("expected 0 instructions, got %d", len(out.Instructions))
	}
}

func TestCompileInvocationUnknownLibfunc(t *testing.T) {
	reg := NewEmitterRegistry()
	_, err := CompileInvocation(reg, 0, "nope", nil, nil, casmtypes.LibfuncSignature{}, refs.EnvironmentToken{}, ProgramInfo{})
	var ierr *InvocationError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *InvocationError, got %v", err)
	}
}

func TestCompileInvocationWrapsEmitterError(t *testing.T) {
	reg := NewEmitterRegistry()
	wantErr := errors.New("boom")
	reg.Register("f", failingEmitter{err: wantErr})
	_, err := CompileInvocation(reg, 3, "f", nil, nil, casmtypes.LibfuncSignature{}, refs.EnvironmentToken{}, ProgramInfo{})
	var ierr *InvocationError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *InvocationError, got %v", err)
	}
	if !errors.Is(err, wantErr) {
		t.Fatal("expected wrapped error to unwrap to the original")
	}
	if ierr.Statement != 3 || ierr.Libfunc != "f" {
		t.Fatalf("InvocationError = %+v", ierr)
	}
}
