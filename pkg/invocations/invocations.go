// Package invocations implements the Emitter contract: the per-libfunc
// compilation step that turns a statement's argument references and
// declared signature into concrete instructions, relocations, and the
// per-branch environment changes the driver (pkg/compiler) propagates.
//
// The real Cairo libfunc set runs into the hundreds of cases; per-libfunc
// instruction selection is treated as an external concern here. What is
// in scope is the contract every one of those cases has to satisfy and a
// handful of concrete emitters exercising it end to end: BranchAlign (a
// join-point AP-tracking resync), Jump (an unconditional branch),
// StoreTemp (a single-branch value move), and ConstAsBox (the
// const-segment trigger).
package invocations

import (
	"fmt"

	"github.com/raymyers/sierra2casm/pkg/casm"
	"github.com/raymyers/sierra2casm/pkg/casmtypes"
	"github.com/raymyers/sierra2casm/pkg/consts"
	"github.com/raymyers/sierra2casm/pkg/reloc"
	"github.com/raymyers/sierra2casm/pkg/refs"
	"github.com/raymyers/sierra2casm/pkg/sierra"
)

// ProgramInfo bundles the read-only program-wide context an emitter may
// need beyond its own statement's arguments: the type registry and type
// sizes. Consts is left nil by compiler.Compile, which lays out the const
// segments only after every statement has been compiled.
type ProgramInfo struct {
	Registry  casmtypes.Registry
	TypeSizes casmtypes.TypeSizeMap
	Consts    *consts.Info
}

// CompiledInvocation is one libfunc's compiled output: the instructions
// it emits, any relocations against those instructions (indices are
// local to Instructions; the driver rebases them before appending to the
// program), and one BranchChanges per outgoing branch, in branch order.
type CompiledInvocation struct {
	Instructions []casm.Instruction
	Relocations  []reloc.Entry
	Changes      []refs.BranchChanges
}

// Emitter compiles one statement's invocation of a single libfunc given
// its already-resolved argument references, declared signature, the
// statement's incoming environment token, and the branch targets it
// must relocate against.
type Emitter interface {
	Compile(stmt sierra.StatementIdx, args []refs.Reference, branches []sierra.BranchInfo, sig casmtypes.LibfuncSignature, env refs.EnvironmentToken, info ProgramInfo) (CompiledInvocation, error)
}

// InvocationError wraps an emitter failure with the libfunc and
// statement it occurred at.
type InvocationError struct {
	Libfunc   sierra.LibfuncID
	Statement sierra.StatementIdx
	Err       error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("statement %d: libfunc %q: %v", e.Statement, e.Libfunc, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// EmitterRegistry maps a libfunc id to the emitter that compiles it.
type EmitterRegistry struct {
	emitters map[sierra.LibfuncID]Emitter
}

// NewEmitterRegistry returns an empty registry.
func NewEmitterRegistry() *EmitterRegistry {
	return &EmitterRegistry{emitters: map[sierra.LibfuncID]Emitter{}}
}

// Register binds id to e, overwriting any previous binding.
func (r *EmitterRegistry) Register(id sierra.LibfuncID, e Emitter) {
	r.emitters[id] = e
}

// CompileInvocation looks up the emitter for id and compiles the
// invocation, wrapping any error with the libfunc and statement it came
// from.
func CompileInvocation(r *EmitterRegistry, stmt sierra.StatementIdx, id sierra.LibfuncID, args []refs.Reference, branches []sierra.BranchInfo, sig casmtypes.LibfuncSignature, env refs.EnvironmentToken, info ProgramInfo) (CompiledInvocation, error) {
	e, ok := r.emitters[id]
	if !ok {
		return CompiledInvocation{}, &InvocationError{Libfunc: id, Statement: stmt, Err: fmt.Errorf("no emitter registered for libfunc %q", id)}
	}
	out, err := e.Compile(stmt, args, branches, sig, env, info)
	if err != nil {
		return CompiledInvocation{}, &InvocationError{Libfunc: id, Statement: stmt, Err: err}
	}
	return out, nil
}
