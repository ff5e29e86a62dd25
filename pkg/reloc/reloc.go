// Package reloc defines relocation entries: deferred patches of a
// single immediate slot inside an emitted instruction, resolved once
// final statement offsets and const-segment layout are known.
package reloc

import (
	"fmt"

	"github.com/raymyers/sierra2casm/pkg/casm"
	"github.com/raymyers/sierra2casm/pkg/consts"
	"github.com/raymyers/sierra2casm/pkg/sierra"
)

// Kind is a small tagged union over the three things a relocation target
// can name.
type Kind int

const (
	// ToStatement targets a statement's final code offset (a branch).
	ToStatement Kind = iota
	// ToConstSegmentBase targets a const segment's base offset (skipping
	// the segment's own terminator word).
	ToConstSegmentBase
	// ToConstWithinSegment targets a specific const's offset within its
	// segment.
	ToConstWithinSegment
)

// Entry is one relocation: the instruction it patches (local to the
// emitter's output until rebased by the driver) and what it resolves to.
type Entry struct {
	InstructionIdx int
	Kind           Kind
	TargetStmt     sierra.StatementIdx
	SegmentID      uint32
	ConstType      sierra.TypeID
}

// Resolve resolves all entries against the final statement offsets (in
// words) and const-segment layout, patching each entry's instruction in
// place. Relocations never change instruction sizes.
func Resolve(entries []Entry, statementOffsets []int, info *consts.Info, codeSize int, instructions []casm.Instruction) error {
	for _, e := range entries {
		target, err := resolveTarget(e, statementOffsets, info, codeSize)
		if err != nil {
			return err
		}
		if e.InstructionIdx < 0 || e.InstructionIdx >= len(instructions) {
			return fmt.Errorf("relocation instruction index %d out of range (0..%d)", e.InstructionIdx, len(instructions))
		}
		r, ok := instructions[e.InstructionIdx].Body.(casm.Relocatable)
		if !ok {
			return fmt.Errorf("instruction at index %d carries no relocatable immediate", e.InstructionIdx)
		}
		r.SetImmediate(target)
	}
	return nil
}

func resolveTarget(e Entry, statementOffsets []int, info *consts.Info, codeSize int) (int, error) {
	switch e.Kind {
	case ToStatement:
		if int(e.TargetStmt) < 0 || int(e.TargetStmt) >= len(statementOffsets) {
			return 0, fmt.Errorf("relocation target statement %d out of range", e.TargetStmt)
		}
		return statementOffsets[e.TargetStmt], nil
	case ToConstSegmentBase:
		seg, ok := info.Segments[e.SegmentID]
		if !ok {
			return 0, fmt.Errorf("relocation references unknown const segment %d", e.SegmentID)
		}
		// +1 skips the segment's own leading terminator word.
		return codeSize + seg.SegmentOffset + 1, nil
	case ToConstWithinSegment:
		seg, ok := info.Segments[e.SegmentID]
		if !ok {
			return 0, fmt.Errorf("relocation references unknown const segment %d", e.SegmentID)
		}
		offset, ok := seg.ConstOffset[e.ConstType]
		if !ok {
			return 0, fmt.Errorf("relocation references unknown const type %q in segment %d", e.ConstType, e.SegmentID)
		}
		return codeSize + seg.SegmentOffset + 1 + offset, nil
	default:
		return 0, fmt.Errorf("unknown relocation kind %d", e.Kind)
	}
}
