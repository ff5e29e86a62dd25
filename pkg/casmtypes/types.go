// Package casmtypes is the read-only type-registry and libfunc-signature
// contract the driver consults: concrete type shapes, their sizes in
// machine words, and the per-libfunc parameter/branch signatures
// (including declared AP-change behavior). None of this is built here —
// a Registry is handed to the driver already constructed; type-registry
// construction is treated as an external collaborator.
package casmtypes

import (
	"math/big"

	"github.com/raymyers/sierra2casm/pkg/sierra"
)

// ConcreteType is the sum of shapes a concrete type can take. Only the
// const-segment builder needs to look past the Const wrapper; the
// driver itself only ever needs sizes.
type ConcreteType interface {
	isConcreteType()
}

// StructType describes a struct's field types in declaration order.
type StructType struct {
	FieldTypes []sierra.TypeID
}

func (StructType) isConcreteType() {}

// EnumType describes an enum's variant payload types in declaration
// (and selector) order.
type EnumType struct {
	Variants []sierra.TypeID
}

func (EnumType) isConcreteType() {}

// PrimitiveType is a leaf type with no substructure (felt, bool, u8, ...).
type PrimitiveType struct{}

func (PrimitiveType) isConcreteType() {}

// GenericArgKind distinguishes the two shapes a const type's generic
// argument list can take.
type GenericArgKind int

const (
	GenericArgValue GenericArgKind = iota
	GenericArgType
)

// GenericArg is either a literal value or a nested type reference,
// matching the two argument shapes a const-type declaration carries.
type GenericArg struct {
	Kind  GenericArgKind
	Value *big.Int
	Type  sierra.TypeID
}

// Value builds a literal-value generic argument.
func Value(v *big.Int) GenericArg { return GenericArg{Kind: GenericArgValue, Value: v} }

// TypeArg builds a nested-type generic argument.
func TypeArg(t sierra.TypeID) GenericArg { return GenericArg{Kind: GenericArgType, Type: t} }

// ConstType wraps InnerType (a struct, enum, or primitive type) with the
// literal data needed to materialize a value of that type at compile
// time. InnerData's shape depends on InnerType's shape: one GenericArg
// per field (struct), exactly [variant index, payload type] (enum), or a
// single literal value (primitive).
type ConstType struct {
	InnerType sierra.TypeID
	InnerData []GenericArg
}

func (ConstType) isConcreteType() {}

// TypeSizeMap gives the size, in machine words, of every concrete type
// used by the program.
type TypeSizeMap map[sierra.TypeID]int

// ApChangeMode is a libfunc branch's declared effect on the allocation
// pointer.
type ApChangeMode int

const (
	// ApChangeKnown means the branch changes AP by a statically known
	// amount (reported per invocation by the emitter, not here).
	ApChangeKnown ApChangeMode = iota
	// ApChangeUnknown means the branch's AP delta cannot be determined
	// statically (e.g. depends on a runtime value).
	ApChangeUnknown
	// ApChangeBranchAlign marks the single-branch, zero-code libfunc
	// used to re-synchronize AP tracking at join points.
	ApChangeBranchAlign
)

// BranchSignature is one branch's declared output types and AP-change
// mode.
type BranchSignature struct {
	VarTypes []sierra.TypeID
	ApChange ApChangeMode
}

// AsBoxDecl marks a libfunc as "materialize a constant of ConstType as a
// boxed pointer into segment SegmentID" — the const-segment builder's
// scan target.
type AsBoxDecl struct {
	ConstType sierra.TypeID
	SegmentID uint32
}

// LibfuncSignature is a libfunc's full declared shape: parameter types,
// one signature per outgoing branch, and an optional designated
// fallthrough branch index.
type LibfuncSignature struct {
	ParamTypes  []sierra.TypeID
	Branches    []BranchSignature
	Fallthrough *int // nil if the libfunc declares no fallthrough branch
	AsBox       *AsBoxDecl
}

// Registry is the read-only lookup of concrete types and libfunc
// signatures, built and owned by an external collaborator.
type Registry interface {
	Type(id sierra.TypeID) (ConcreteType, error)
	Libfunc(id sierra.LibfuncID) (LibfuncSignature, error)
}

// VariantSelector computes the enum-selector word for a chosen variant
// out of numVariants total. The real encoding is an external collaborator;
// this implementation uses the variant index directly, which is the
// encoding used for the common case of as-built Sierra enums.
func VariantSelector(numVariants, variantIndex int) (*big.Int, error) {
	if numVariants <= 0 || variantIndex < 0 || variantIndex >= numVariants {
		return nil, &InvalidVariantError{NumVariants: numVariants, VariantIndex: variantIndex}
	}
	return big.NewInt(int64(variantIndex)), nil
}

// InvalidVariantError reports an out-of-range enum variant index.
type InvalidVariantError struct {
	NumVariants  int
	VariantIndex int
}

func (e *InvalidVariantError) Error() string {
	return "enum variant index out of range"
}
