// Package refs implements the reference environment: the per-statement
// mapping from IR variable to a symbolic VM-memory expression, and the
// bookkeeping that lets every path reaching a statement agree on its
// pre-state.
//
// The shape follows a CFGBuilder that tracked a flat var-to-location
// map with fresh-id allocation and a get-or-create accessor; here the
// "location" is a Reference and the accessor pattern becomes
// TakeArgs/Propagate operating on a per-statement annotation vector
// instead of a single live map, since a Sierra statement can be reached
// from more than one predecessor and every predecessor's environment
// must agree.
package refs

import (
	"sort"

	"github.com/raymyers/sierra2casm/pkg/metadata"
	"github.com/raymyers/sierra2casm/pkg/sierra"
)

// CellBase names which VM pointer a CellExpr is relative to.
type CellBase int

const (
	BaseAP CellBase = iota
	BaseFP
)

// CellExpr is a symbolic memory-cell expression: an offset against AP or
// FP.
type CellExpr struct {
	Base   CellBase
	Offset int
}

// AP builds a cell expression relative to the allocation pointer.
func AP(offset int) CellExpr { return CellExpr{Base: BaseAP, Offset: offset} }

// FP builds a cell expression relative to the frame pointer.
func FP(offset int) CellExpr { return CellExpr{Base: BaseFP, Offset: offset} }

// Sub returns the expression shifted down by n words.
func (c CellExpr) Sub(n int) CellExpr { return CellExpr{Base: c.Base, Offset: c.Offset - n} }

// Add returns the expression shifted up by n words.
func (c CellExpr) Add(n int) CellExpr { return CellExpr{Base: c.Base, Offset: c.Offset + n} }

// Reference is a symbolic binding of an IR variable to a VM memory
// expression, its type, and the statement that introduced it.
type Reference struct {
	Expr         CellExpr
	Type         sierra.TypeID
	IntroducedAt sierra.StatementIdx
}

// ApTrackingMode records whether the current AP offset relative to frame
// entry is statically known.
type ApTrackingMode int

const (
	ApTrackingEnabled ApTrackingMode = iota
	ApTrackingDisabled
)

// EnvironmentToken accumulates per-statement side effects that are not
// themselves references: the current AP-tracking mode and offset, and
// the remaining gas wallet when gas usage checking is enabled.
type EnvironmentToken struct {
	ApTracking ApTrackingMode
	ApOffset   int
	GasWallet  int
}

// Environment maps variable ids to their current Reference. It is the
// pre-state (or post-take-args remainder) of a single statement.
type Environment map[sierra.VarID]Reference

// Clone returns a shallow copy safe to mutate independently.
func (e Environment) Clone() Environment {
	out := make(Environment, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// diff returns the smallest variable id present with different
// references (or absent) in exactly one of e and other, for deterministic
// error reporting, and whether the two environments are otherwise equal.
func (e Environment) diff(other Environment) (sierra.VarID, bool) {
	mismatched := map[sierra.VarID]bool{}
	for v, r := range e {
		if r2, ok := other[v]; !ok || r != r2 {
			mismatched[v] = true
		}
	}
	for v := range other {
		if _, ok := e[v]; !ok {
			mismatched[v] = true
		}
	}
	if len(mismatched) == 0 {
		return 0, true
	}
	ids := make([]sierra.VarID, 0, len(mismatched))
	for v := range mismatched {
		ids = append(ids, v)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0], false
}

// StatementAnnotations is the full pre-state of a single statement: its
// reference environment plus the accumulated environment token.
type StatementAnnotations struct {
	Refs        Environment
	Environment EnvironmentToken
}

// BranchChanges is what a libfunc emitter reports for a single outgoing
// branch: the references it produces (in branch.Results order), the AP
// delta that branch causes, and the environment token to carry forward.
type BranchChanges struct {
	Refs        []Reference
	ApDelta     int
	Environment EnvironmentToken
}

// AnnotationErrorKind distinguishes the ways the environment contract can
// be violated.
type AnnotationErrorKind int

const (
	ErrMissingReference AnnotationErrorKind = iota
	ErrMergeMismatch
	ErrUnknownFunction
	ErrReturnTypeMismatch
	ErrInsufficientGas
)

// AnnotationError reports an environment-contract violation at a given
// statement, optionally naming the offending variable.
type AnnotationError struct {
	Kind      AnnotationErrorKind
	Statement sierra.StatementIdx
	Var       sierra.VarID
}

func (e *AnnotationError) Error() string {
	switch e.Kind {
	case ErrMissingReference:
		return "variable is not present in the environment"
	case ErrMergeMismatch:
		return "incoming environments disagree on a variable's reference"
	case ErrUnknownFunction:
		return "statement does not belong to any known function"
	case ErrReturnTypeMismatch:
		return "return values do not match the function's declared return types"
	case ErrInsufficientGas:
		return "insufficient gas wallet at statement"
	default:
		return "annotation error"
	}
}

// Annotations holds the per-statement pre-state for an entire program, as
// a flat vector indexed by statement id. Statements are nil until first
// reached by Propagate (or pre-seeded as a function entry point).
type Annotations struct {
	perStatement []*StatementAnnotations
}

// NewAnnotations allocates the per-statement vector and seeds the given
// function entry points with their initial annotations.
func NewAnnotations(numStatements int, entries map[sierra.StatementIdx]StatementAnnotations) *Annotations {
	a := &Annotations{perStatement: make([]*StatementAnnotations, numStatements)}
	for idx, ann := range entries {
		cp := ann
		a.perStatement[idx] = &cp
	}
	return a
}

// TakeArgs removes vars from stmt's pre-state environment and returns
// their references in order, along with the statement's remaining
// annotations (environment token unchanged). Fails if stmt was never
// reached, or if any variable is absent.
func (a *Annotations) TakeArgs(stmt sierra.StatementIdx, vars []sierra.VarID) (StatementAnnotations, []Reference, error) {
	cur := a.perStatement[stmt]
	if cur == nil {
		return StatementAnnotations{}, nil, &AnnotationError{Kind: ErrMissingReference, Statement: stmt}
	}
	remaining := cur.Refs.Clone()
	taken := make([]Reference, 0, len(vars))
	for _, v := range vars {
		ref, ok := remaining[v]
		if !ok {
			return StatementAnnotations{}, nil, &AnnotationError{Kind: ErrMissingReference, Statement: stmt, Var: v}
		}
		taken = append(taken, ref)
		delete(remaining, v)
	}
	return StatementAnnotations{Refs: remaining, Environment: cur.Environment}, taken, nil
}

// DanglingVar returns the smallest remaining variable id in ann.Refs, for
// deterministic dangling-reference reporting, and whether any remain.
func DanglingVar(ann StatementAnnotations) (sierra.VarID, bool) {
	if len(ann.Refs) == 0 {
		return 0, false
	}
	ids := make([]sierra.VarID, 0, len(ann.Refs))
	for v := range ann.Refs {
		ids = append(ids, v)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0], true
}

// OwningFunction returns the function stmt belongs to, assuming functions
// occupy disjoint, non-interleaved ranges of statements ordered by entry
// point.
func OwningFunction(funcs []sierra.Function, stmt sierra.StatementIdx) (*sierra.Function, bool) {
	var best *sierra.Function
	for i := range funcs {
		f := &funcs[i]
		if f.EntryPoint <= stmt && (best == nil || f.EntryPoint > best.EntryPoint) {
			best = f
		}
	}
	return best, best != nil
}

// ValidateFinal checks a Return statement's final annotations against its
// owning function's declared return types and, when gas usage checking
// is enabled, that the gas wallet covers the statement's declared cost.
func (a *Annotations) ValidateFinal(stmt sierra.StatementIdx, ann StatementAnnotations, funcs []sierra.Function, md *metadata.Metadata, returnRefs []Reference) error {
	fn, ok := OwningFunction(funcs, stmt)
	if !ok {
		return &AnnotationError{Kind: ErrUnknownFunction, Statement: stmt}
	}
	if len(returnRefs) != len(fn.ReturnTypes) {
		return &AnnotationError{Kind: ErrReturnTypeMismatch, Statement: stmt}
	}
	for i, r := range returnRefs {
		if r.Type != fn.ReturnTypes[i] {
			return &AnnotationError{Kind: ErrReturnTypeMismatch, Statement: stmt}
		}
	}
	if md != nil {
		if cost, ok := md.GasInfo[stmt]; ok && ann.Environment.GasWallet < cost {
			return &AnnotationError{Kind: ErrInsufficientGas, Statement: stmt}
		}
	}
	return nil
}

// Propagate publishes the post-branch environment to dst. The first time
// dst is reached its pre-state is recorded; subsequent reaches must match
// exactly, else a merge error is returned.
func (a *Annotations) Propagate(src, dst sierra.StatementIdx, env StatementAnnotations, branch sierra.BranchInfo, changes BranchChanges, branching bool) error {
	next := env.Refs.Clone()
	for i, v := range branch.Results {
		next[v] = changes.Refs[i]
	}
	nextAnn := StatementAnnotations{Refs: next, Environment: changes.Environment}

	existing := a.perStatement[dst]
	if existing == nil {
		a.perStatement[dst] = &nextAnn
		return nil
	}
	if v, ok := existing.Refs.diff(nextAnn.Refs); !ok {
		return &AnnotationError{Kind: ErrMergeMismatch, Statement: dst, Var: v}
	}
	if existing.Environment != nextAnn.Environment {
		return &AnnotationError{Kind: ErrMergeMismatch, Statement: dst}
	}
	return nil
}
