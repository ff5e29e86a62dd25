// Package consts builds the layout of the program's const segments: the
// append-only areas, one per AsBox-declared segment id, holding the
// literal data a const_as_box libfunc points into.
//
// The accounting follows the same shape as a function's slot usage
// turning into concrete frame offsets in one forward pass; here the
// "slots" are const values discovered by scanning libfunc declarations,
// and the "frame" is the set of append-only segments laid out end to
// end after the code segment.
package consts

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/raymyers/sierra2casm/pkg/casmtypes"
	"github.com/raymyers/sierra2casm/pkg/sierra"
)

// Segment is the data for a single const segment: its values in
// emission order, the offset of each const type within it, and its
// offset relative to the end of the code segment (filled in once every
// segment's size is known).
type Segment struct {
	Values        []*big.Int
	ConstOffset   map[sierra.TypeID]int
	SegmentOffset int
}

// Info is the full picture of a program's const segments, keyed by
// segment id and ordered by that id. Segment ids must be declared
// 0, 1, 2, ... without holes.
type Info struct {
	Segments          map[uint32]*Segment
	order             []uint32
	TotalSegmentsSize int
}

// OrderedIDs returns segment ids in ascending order. If the Info was not
// produced by Build (e.g. constructed directly in a test), it derives
// order from Segments' keys on first call.
func (i *Info) OrderedIDs() []uint32 {
	if i.order == nil && len(i.Segments) > 0 {
		i.order = make([]uint32, 0, len(i.Segments))
		for id := range i.Segments {
			i.order = append(i.order, id)
		}
		sort.Slice(i.order, func(a, b int) bool { return i.order[a] < i.order[b] })
	}
	return i.order
}

// ErrorKind distinguishes the ways const-segment construction can fail.
type ErrorKind int

const (
	ErrConstDataMismatch ErrorKind = iota
	ErrUnsupportedConstType
	ErrConstSegmentsOutOfOrder
	ErrCodeSizeLimitExceeded
)

// Error reports a const-segment construction failure.
type Error struct {
	Kind ErrorKind
	Type sierra.TypeID
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrConstDataMismatch:
		return fmt.Sprintf("const type %q has a malformed struct or enum descriptor", e.Type)
	case ErrUnsupportedConstType:
		return fmt.Sprintf("type %q referenced by const_as_box is not a const type", e.Type)
	case ErrConstSegmentsOutOfOrder:
		return "const segments were not declared in order 0, 1, 2, ... without holes"
	case ErrCodeSizeLimitExceeded:
		return "const segment data exceeds the configured size budget"
	default:
		return "const segment error"
	}
}

// Build scans libfuncIDs for const_as_box declarations and lays out the
// const segments they reference. Order follows each AsBox's first
// appearance among libfuncIDs. The size-budget check runs incrementally,
// once per AsBox declaration, before the ordering check runs at the end;
// a declaration that pushes the running total over the budget fails
// immediately even if a later segment id would otherwise complete the
// 0..N ordering.
func Build(reg casmtypes.Registry, typeSizes casmtypes.TypeSizeMap, libfuncIDs []sierra.LibfuncID, maxSegmentsSize int) (*Info, error) {
	segments := map[uint32]*Segment{}
	var firstSeen []uint32
	segmentsDataSize := 0

	for _, id := range libfuncIDs {
		sig, err := reg.Libfunc(id)
		if err != nil || sig.AsBox == nil {
			continue
		}
		decl := sig.AsBox
		seg, ok := segments[decl.SegmentID]
		if !ok {
			seg = &Segment{ConstOffset: map[sierra.TypeID]int{}}
			segments[decl.SegmentID] = seg
			firstSeen = append(firstSeen, decl.SegmentID)
		}

		data, err := extractConstValue(reg, typeSizes, decl.ConstType)
		if err != nil {
			return nil, err
		}
		segmentsDataSize += len(data)
		seg.ConstOffset[decl.ConstType] = len(seg.Values)
		seg.Values = append(seg.Values, data...)

		if segmentsDataSize+len(segments) > maxSegmentsSize {
			return nil, &Error{Kind: ErrCodeSizeLimitExceeded}
		}
	}

	for i, id := range firstSeen {
		if uint32(i) != id {
			return nil, &Error{Kind: ErrConstSegmentsOutOfOrder}
		}
	}

	total := 0
	for _, id := range firstSeen {
		seg := segments[id]
		seg.SegmentOffset = total
		// +1 for the segment's own terminator instruction.
		total += 1 + len(seg.Values)
	}

	return &Info{Segments: segments, order: firstSeen, TotalSegmentsSize: total}, nil
}

// extractConstValue flattens a const type's literal data in depth-first
// order: struct members recurse in field order, enum consts emit a
// variant selector, then zero padding up to the enum's full size, then
// the selected variant's data, and any other inner type contributes its
// single scalar value.
func extractConstValue(reg casmtypes.Registry, typeSizes casmtypes.TypeSizeMap, ty sierra.TypeID) ([]*big.Int, error) {
	var values []*big.Int
	stack := []sierra.TypeID{ty}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		concrete, err := reg.Type(cur)
		if err != nil {
			return nil, &Error{Kind: ErrUnsupportedConstType, Type: cur}
		}
		constType, ok := concrete.(casmtypes.ConstType)
		if !ok {
			return nil, &Error{Kind: ErrUnsupportedConstType, Type: cur}
		}

		innerConcrete, err := reg.Type(constType.InnerType)
		if err != nil {
			return nil, &Error{Kind: ErrUnsupportedConstType, Type: constType.InnerType}
		}

		switch inner := innerConcrete.(type) {
		case casmtypes.StructType:
			for i := len(constType.InnerData) - 1; i >= 0; i-- {
				arg := constType.InnerData[i]
				if arg.Kind != casmtypes.GenericArgType {
					return nil, &Error{Kind: ErrConstDataMismatch, Type: cur}
				}
				stack = append(stack, arg.Type)
			}

		case casmtypes.EnumType:
			if len(constType.InnerData) != 2 ||
				constType.InnerData[0].Kind != casmtypes.GenericArgValue ||
				constType.InnerData[1].Kind != casmtypes.GenericArgType {
				return nil, &Error{Kind: ErrConstDataMismatch, Type: cur}
			}
			variantIndex := int(constType.InnerData[0].Value.Int64())
			selector, err := casmtypes.VariantSelector(len(inner.Variants), variantIndex)
			if err != nil {
				return nil, &Error{Kind: ErrConstDataMismatch, Type: cur}
			}
			values = append(values, selector)

			fullSize := typeSizes[constType.InnerType]
			variantSize := typeSizes[inner.Variants[variantIndex]]
			for i := 0; i < fullSize-variantSize-1; i++ {
				values = append(values, big.NewInt(0))
			}
			stack = append(stack, constType.InnerData[1].Type)

		default:
			if len(constType.InnerData) != 1 || constType.InnerData[0].Kind != casmtypes.GenericArgValue {
				return nil, &Error{Kind: ErrConstDataMismatch, Type: cur}
			}
			values = append(values, constType.InnerData[0].Value)
		}
	}

	return values, nil
}
