package invocations

import (
	"fmt"

	"github.com/raymyers/sierra2casm/pkg/casm"
	"github.com/raymyers/sierra2casm/pkg/casmtypes"
	"github.com/raymyers/sierra2casm/pkg/reloc"
	"github.com/raymyers/sierra2casm/pkg/refs"
	"github.com/raymyers/sierra2casm/pkg/sierra"
)

// BranchAlignEmitter compiles the zero-code, single-branch libfunc used
// to re-synchronize AP tracking at a join point. It emits no
// instructions and leaves the incoming environment token unchanged
// except for re-enabling AP tracking.
type BranchAlignEmitter struct{}

func (BranchAlignEmitter) Compile(stmt sierra.StatementIdx, args []refs.Reference, branches []sierra.BranchInfo, sig casmtypes.LibfuncSignature, env refs.EnvironmentToken, info ProgramInfo) (CompiledInvocation, error) {
	if len(branches) != 1 {
		return CompiledInvocation{}, fmt.Errorf("branch_align must declare exactly one branch, got %d", len(branches))
	}
	env.ApTracking = refs.ApTrackingEnabled
	return CompiledInvocation{
		Changes: []refs.BranchChanges{{Environment: env}},
	}, nil
}

// JumpEmitter compiles an unconditional jump to its single, non-fallthrough
// branch target.
type JumpEmitter struct{}

func (JumpEmitter) Compile(stmt sierra.StatementIdx, args []refs.Reference, branches []sierra.BranchInfo, sig casmtypes.LibfuncSignature, env refs.EnvironmentToken, info ProgramInfo) (CompiledInvocation, error) {
	if len(branches) != 1 {
		return CompiledInvocation{}, fmt.Errorf("jump must declare exactly one branch, got %d", len(branches))
	}
	target := branches[0].Target
	if target.Fallthrough {
		return CompiledInvocation{}, fmt.Errorf("jump's branch target must not be fallthrough")
	}
	body := &casm.JumpBody{}
	return CompiledInvocation{
		Instructions: []casm.Instruction{{Body: body}},
		Relocations: []reloc.Entry{
			{InstructionIdx: 0, Kind: reloc.ToStatement, TargetStmt: sierra.StatementIdx(target.Statement)},
		},
		Changes: []refs.BranchChanges{{Environment: env}},
	}, nil
}

// StoreTempEmitter compiles the single-branch libfunc that copies one
// argument's value to a fresh AP-relative temporary, advancing AP by the
// value's size.
type StoreTempEmitter struct{}

func (StoreTempEmitter) Compile(stmt sierra.StatementIdx, args []refs.Reference, branches []sierra.BranchInfo, sig casmtypes.LibfuncSignature, env refs.EnvironmentToken, info ProgramInfo) (CompiledInvocation, error) {
	if len(args) != 1 {
		return CompiledInvocation{}, fmt.Errorf("store_temp takes exactly one argument, got %d", len(args))
	}
	if len(branches) != 1 {
		return CompiledInvocation{}, fmt.Errorf("store_temp must declare exactly one branch, got %d", len(branches))
	}
	size := info.TypeSizes[args[0].Type]
	dest := refs.AP(env.ApOffset)
	body := casm.MoveBody{Src: args[0].Expr, Dest: dest}
	next := env
	next.ApOffset += size

	return CompiledInvocation{
		Instructions: []casm.Instruction{{Body: body}},
		Changes: []refs.BranchChanges{{
			Refs:        []refs.Reference{{Expr: dest, Type: args[0].Type, IntroducedAt: stmt}},
			ApDelta:     size,
			Environment: next,
		}},
	}, nil
}

// ConstAsBoxEmitter compiles the libfunc that materializes a pointer to
// a value already laid out in a const segment, storing the pointer
// into a fresh AP-relative temporary.
type ConstAsBoxEmitter struct{}

func (ConstAsBoxEmitter) Compile(stmt sierra.StatementIdx, args []refs.Reference, branches []sierra.BranchInfo, sig casmtypes.LibfuncSignature, env refs.EnvironmentToken, info ProgramInfo) (CompiledInvocation, error) {
	if sig.AsBox == nil {
		return CompiledInvocation{}, fmt.Errorf("const_as_box libfunc signature carries no AsBox declaration")
	}
	if len(branches) != 1 {
		return CompiledInvocation{}, fmt.Errorf("const_as_box must declare exactly one branch, got %d", len(branches))
	}

	dest := refs.AP(env.ApOffset)
	body := &casm.ConstRefBody{Dest: dest}
	next := env
	next.ApOffset++

	return CompiledInvocation{
		Instructions: []casm.Instruction{{Body: body}},
		Relocations: []reloc.Entry{
			{InstructionIdx: 0, Kind: reloc.ToConstSegmentBase, SegmentID: sig.AsBox.SegmentID},
		},
		Changes: []refs.BranchChanges{{
			Refs:        []refs.Reference{{Expr: dest, Type: sig.AsBox.ConstType, IntroducedAt: stmt}},
			ApDelta:     1,
			Environment: next,
		}},
	}, nil
}
