// Package compiler is the statement driver: the single forward pass
// over a program's statements that produces instructions, resolves
// relocations, and assembles debug information.
//
// The single forward pass over ordered blocks (assign position, emit,
// resolve successors, advance a running code offset) becomes the
// statement driver here; blocks become statements, CFG successors
// become branch targets, and the "does the next block naturally
// follow" fallthrough check becomes the branch_align check.
package compiler

import (
	"fmt"

	"github.com/raymyers/sierra2casm/pkg/casm"
	"github.com/raymyers/sierra2casm/pkg/casmtypes"
	"github.com/raymyers/sierra2casm/pkg/consts"
	"github.com/raymyers/sierra2casm/pkg/invocations"
	"github.com/raymyers/sierra2casm/pkg/metadata"
	"github.com/raymyers/sierra2casm/pkg/refs"
	"github.com/raymyers/sierra2casm/pkg/reloc"
	"github.com/raymyers/sierra2casm/pkg/sierra"
)

// Config holds the compilation flavor flags the driver consults.
type Config struct {
	GasUsageCheck   bool
	MaxBytecodeSize int
}

// ErrorKind enumerates every way compilation can fail.
type ErrorKind int

const (
	ErrFailedBuildingTypeInformation ErrorKind = iota
	ErrProgramRegistryError
	ErrAnnotationError
	ErrInvocationError
	ErrReturnArgumentsNotOnStack
	ErrReferencesError
	ErrLibfuncInvocationMismatch
	ErrDanglingReferences
	ErrExpectedBranchAlign
	ErrConstDataMismatch
	ErrUnsupportedConstType
	ErrConstSegmentsOutOfOrder
	ErrCodeSizeLimitExceeded
)

// Error is the single error type the driver returns, carrying whichever
// statement-indexed context applies to its Kind.
type Error struct {
	Kind                 ErrorKind
	Statement            sierra.StatementIdx
	SourceStatement      sierra.StatementIdx
	DestinationStatement sierra.StatementIdx
	Var                  sierra.VarID
	Err                  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrFailedBuildingTypeInformation:
		return "failed building type information"
	case ErrProgramRegistryError:
		return fmt.Sprintf("program registry error: %v", e.Err)
	case ErrAnnotationError:
		return fmt.Sprintf("#%d: %v", e.Statement, e.Err)
	case ErrInvocationError:
		return fmt.Sprintf("#%d: %v", e.Statement, e.Err)
	case ErrReturnArgumentsNotOnStack:
		return fmt.Sprintf("#%d: return arguments are not on the stack", e.Statement)
	case ErrReferencesError:
		return fmt.Sprintf("#%d: %v", e.Statement, e.Err)
	case ErrLibfuncInvocationMismatch:
		return fmt.Sprintf("#%d: invocation mismatched to libfunc", e.Statement)
	case ErrDanglingReferences:
		return fmt.Sprintf("variable %d is dangling at #%d", e.Var, e.Statement)
	case ErrExpectedBranchAlign:
		return fmt.Sprintf("#%d->#%d: expected branch align", e.SourceStatement, e.DestinationStatement)
	case ErrConstDataMismatch:
		return fmt.Sprintf("const data does not match the declared const type: %v", e.Err)
	case ErrUnsupportedConstType:
		return fmt.Sprintf("unsupported const type: %v", e.Err)
	case ErrConstSegmentsOutOfOrder:
		return "const segments must appear in ascending order without holes"
	case ErrCodeSizeLimitExceeded:
		return "code size limit exceeded"
	default:
		return "compilation error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// StatementKindDebugInfo is the sum of per-statement debug payloads: a
// Return statement's final references, an Invoke statement's branch
// changes and argument references, or the trailing EndMarker recording
// the program's final code offset.
type StatementKindDebugInfo interface {
	isStatementKindDebugInfo()
}

// ReturnDebugInfo is the debug payload for a Return statement.
type ReturnDebugInfo struct {
	RefValues []refs.Reference
}

func (ReturnDebugInfo) isStatementKindDebugInfo() {}

// InvokeDebugInfo is the debug payload for an Invocation statement.
type InvokeDebugInfo struct {
	ResultBranchChanges []refs.BranchChanges
	RefValues           []refs.Reference
}

func (InvokeDebugInfo) isStatementKindDebugInfo() {}

// EndMarkerDebugInfo is the trailing entry recording the program's final
// code offset; it has no statement of its own.
type EndMarkerDebugInfo struct{}

func (EndMarkerDebugInfo) isStatementKindDebugInfo() {}

// StatementDebugInfo pairs a statement's final code offset and
// instruction index with its kind-specific payload.
type StatementDebugInfo struct {
	CodeOffset     int
	InstructionIdx int
	Kind           StatementKindDebugInfo
}

// ProgramDebugInfo is the full per-statement debug trace for a
// compilation, terminated by an EndMarker entry.
type ProgramDebugInfo struct {
	Statements []StatementDebugInfo
}

// CairoProgram is the complete output of a compilation: instructions,
// debug info, and the const-segment layout that follows them.
type CairoProgram struct {
	Instructions []casm.Instruction
	DebugInfo    ProgramDebugInfo
	Consts       *consts.Info
}

// checkBasicStructure verifies an invocation's argument and branch-result
// counts match its libfunc's declared signature, and that any declared
// fallthrough branch is actually targeted by a fallthrough.
func checkBasicStructure(stmt sierra.StatementIdx, inv *sierra.Invocation, sig casmtypes.LibfuncSignature) error {
	if len(inv.Args) != len(sig.ParamTypes) {
		return &Error{Kind: ErrLibfuncInvocationMismatch, Statement: stmt}
	}
	if len(inv.Branches) != len(sig.Branches) {
		return &Error{Kind: ErrLibfuncInvocationMismatch, Statement: stmt}
	}
	for i, branch := range inv.Branches {
		if len(branch.Results) != len(sig.Branches[i].VarTypes) {
			return &Error{Kind: ErrLibfuncInvocationMismatch, Statement: stmt}
		}
	}
	if sig.Fallthrough != nil {
		idx := *sig.Fallthrough
		if idx < 0 || idx >= len(inv.Branches) || !inv.Branches[idx].Target.Fallthrough {
			return &Error{Kind: ErrLibfuncInvocationMismatch, Statement: stmt}
		}
	}
	return nil
}

// checkTypesMatch verifies resolved argument references carry the types
// the libfunc signature declares, in order.
func checkTypesMatch(stmt sierra.StatementIdx, args []refs.Reference, paramTypes []sierra.TypeID) error {
	for i, arg := range args {
		if arg.Type != paramTypes[i] {
			return &Error{Kind: ErrReferencesError, Statement: stmt, Err: fmt.Errorf("argument %d has type %q, expected %q", i, arg.Type, paramTypes[i])}
		}
	}
	return nil
}

// validateReturnOnStack checks that a Return statement's final
// references form a contiguous, AP-descending tail immediately below the
// allocation pointer, i.e. that the returned values are laid out on the
// stack exactly as the calling convention expects.
func validateReturnOnStack(refValues []refs.Reference, sizes casmtypes.TypeSizeMap) error {
	expected := 0
	for i := len(refValues) - 1; i >= 0; i-- {
		r := refValues[i]
		expected -= sizes[r.Type]
		if r.Expr.Base != refs.BaseAP || r.Expr.Offset != expected {
			return fmt.Errorf("return value %d is not part of the stack tail", i)
		}
	}
	return nil
}

// isBranchAlign reports whether statement is an invocation of a libfunc
// declaring exactly one branch with BranchAlign ap-change mode — the
// only shape a branch of a multi-branch libfunc may target.
func isBranchAlign(reg casmtypes.Registry, stmt sierra.Statement) (bool, error) {
	if stmt.Kind != sierra.StatementInvocation {
		return false, nil
	}
	sig, err := reg.Libfunc(stmt.Invocation.LibfuncID)
	if err != nil {
		return false, &Error{Kind: ErrProgramRegistryError, Err: err}
	}
	if len(sig.Branches) == 1 && sig.Branches[0].ApChange == casmtypes.ApChangeBranchAlign {
		return true, nil
	}
	return false, nil
}

// Compile runs the forward pass over program, producing a fully
// assembled CairoProgram. entryAnnotations seeds the pre-state of every
// function entry statement (incoming parameter references and initial
// environment token); building that initial layout from a calling
// convention is treated as an external concern, same as type-registry
// construction.
func Compile(program *sierra.Program, reg casmtypes.Registry, typeSizes casmtypes.TypeSizeMap, md *metadata.Metadata, entryAnnotations map[sierra.StatementIdx]refs.StatementAnnotations, emitters *invocations.EmitterRegistry, cfg Config) (*CairoProgram, error) {
	ann := refs.NewAnnotations(len(program.Statements), entryAnnotations)

	var instructions []casm.Instruction
	var relocations []reloc.Entry
	var stmtDebug []StatementDebugInfo
	programOffset := 0

	progInfo := invocations.ProgramInfo{Registry: reg, TypeSizes: typeSizes}

	for i, stmt := range program.Statements {
		stmtIdx := sierra.StatementIdx(i)

		if programOffset > cfg.MaxBytecodeSize {
			return nil, &Error{Kind: ErrCodeSizeLimitExceeded}
		}

		switch stmt.Kind {
		case sierra.StatementReturn:
			updated, returnRefs, err := ann.TakeArgs(stmtIdx, stmt.ReturnVars)
			if err != nil {
				return nil, &Error{Kind: ErrAnnotationError, Statement: stmtIdx, Err: err}
			}
			if v, ok := refs.DanglingVar(updated); ok {
				return nil, &Error{Kind: ErrDanglingReferences, Statement: stmtIdx, Var: v}
			}
			var gasMd *metadata.Metadata
			if cfg.GasUsageCheck {
				gasMd = md
			}
			if err := ann.ValidateFinal(stmtIdx, updated, program.Funcs, gasMd, returnRefs); err != nil {
				return nil, &Error{Kind: ErrAnnotationError, Statement: stmtIdx, Err: err}
			}
			if err := validateReturnOnStack(returnRefs, typeSizes); err != nil {
				return nil, &Error{Kind: ErrReturnArgumentsNotOnStack, Statement: stmtIdx}
			}

			body := casm.RetBody{}
			programOffset += body.OpSize()
			instructions = append(instructions, casm.Instruction{Body: body})

			stmtDebug = append(stmtDebug, StatementDebugInfo{
				CodeOffset:     programOffset,
				InstructionIdx: len(instructions),
				Kind:           ReturnDebugInfo{RefValues: returnRefs},
			})

		case sierra.StatementInvocation:
			inv := stmt.Invocation
			updated, args, err := ann.TakeArgs(stmtIdx, inv.Args)
			if err != nil {
				return nil, &Error{Kind: ErrAnnotationError, Statement: stmtIdx, Err: err}
			}

			sig, err := reg.Libfunc(inv.LibfuncID)
			if err != nil {
				return nil, &Error{Kind: ErrProgramRegistryError, Err: err}
			}
			if err := checkBasicStructure(stmtIdx, inv, sig); err != nil {
				return nil, err
			}
			if err := checkTypesMatch(stmtIdx, args, sig.ParamTypes); err != nil {
				return nil, err
			}

			compiled, err := invocations.CompileInvocation(emitters, stmtIdx, inv.LibfuncID, args, inv.Branches, sig, updated.Environment, progInfo)
			if err != nil {
				return nil, &Error{Kind: ErrInvocationError, Statement: stmtIdx, Err: err}
			}

			for _, instr := range compiled.Instructions {
				programOffset += instr.OpSize()
			}
			for _, entry := range compiled.Relocations {
				entry.InstructionIdx += len(instructions)
				relocations = append(relocations, entry)
			}
			instructions = append(instructions, compiled.Instructions...)

			stmtDebug = append(stmtDebug, StatementDebugInfo{
				CodeOffset:     programOffset,
				InstructionIdx: len(instructions),
				Kind: InvokeDebugInfo{
					ResultBranchChanges: compiled.Changes,
					RefValues:           args,
				},
			})

			branching := len(compiled.Changes) > 1
			for bi, branchInfo := range inv.Branches {
				dest := stmtIdx.Next(branchInfo.Target)
				if branching {
					aligned, err := isBranchAlign(reg, program.Statements[dest])
					if err != nil {
						return nil, err
					}
					if !aligned {
						return nil, &Error{Kind: ErrExpectedBranchAlign, SourceStatement: stmtIdx, DestinationStatement: dest}
					}
				}
				if err := ann.Propagate(stmtIdx, dest, updated, branchInfo, compiled.Changes[bi], branching); err != nil {
					return nil, &Error{Kind: ErrAnnotationError, Statement: dest, Err: err}
				}
			}
		}
	}

	stmtDebug = append(stmtDebug, StatementDebugInfo{
		CodeOffset:     programOffset,
		InstructionIdx: len(instructions),
		Kind:           EndMarkerDebugInfo{},
	})

	// Each debug entry records the offset after its statement's code, so
	// statement k starts at the offset recorded for statement k-1 (0 for
	// the first statement).
	statementOffsets := make([]int, 0, len(stmtDebug)+1)
	statementOffsets = append(statementOffsets, 0)
	for _, s := range stmtDebug {
		statementOffsets = append(statementOffsets, s.CodeOffset)
	}

	constsMaxSize := cfg.MaxBytecodeSize - programOffset
	if constsMaxSize < 0 {
		return nil, &Error{Kind: ErrCodeSizeLimitExceeded}
	}
	constsInfo, err := consts.Build(reg, typeSizes, program.LibfuncDecls, constsMaxSize)
	if err != nil {
		cerr := err.(*consts.Error)
		kind := map[consts.ErrorKind]ErrorKind{
			consts.ErrConstDataMismatch:      ErrConstDataMismatch,
			consts.ErrUnsupportedConstType:    ErrUnsupportedConstType,
			consts.ErrConstSegmentsOutOfOrder: ErrConstSegmentsOutOfOrder,
			consts.ErrCodeSizeLimitExceeded:   ErrCodeSizeLimitExceeded,
		}[cerr.Kind]
		return nil, &Error{Kind: kind, Err: cerr}
	}

	if err := reloc.Resolve(relocations, statementOffsets, constsInfo, programOffset, instructions); err != nil {
		return nil, &Error{Kind: ErrInvocationError, Err: err}
	}

	return &CairoProgram{
		Instructions: instructions,
		DebugInfo:    ProgramDebugInfo{Statements: stmtDebug},
		Consts:       constsInfo,
	}, nil
}
