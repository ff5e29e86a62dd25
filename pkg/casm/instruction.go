// Package casm defines the machine-word instruction model for the target
// VM: a single program counter, an allocation pointer (AP), a frame
// pointer (FP), and instructions that are either a fixed-size encoded
// body or carry one relocatable immediate slot.
//
// This is the last IR before assembly generation, with concrete frame
// offsets already resolved; here the concrete offsets are CellExpr
// values (pkg/refs) baked in by a libfunc emitter, and the
// "near-assembly" instruction sum becomes the VM's own Body sum. Real
// bit-packing into machine words is an external collaborator — Encode
// below is a deterministic placeholder standing in for it, sufficient
// to round-trip instruction boundaries without claiming to be the real
// VM's wire format.
package casm

import "github.com/raymyers/sierra2casm/pkg/refs"

// Word is one machine word of the assembled program.
type Word uint64

// Hint is an opaque, VM-specific execution hint attached to an
// instruction (e.g. "run this builtin's non-deterministic computation
// before executing this instruction"). Hints ride along to their byte
// offset in the assembled program but are never interpreted by the
// driver.
type Hint struct {
	Name string
	Args []string
}

// Body is a single machine operation: how many words it occupies and how
// to encode those words.
type Body interface {
	OpSize() int
	Encode() []Word
}

// Relocatable is implemented by instruction bodies that carry a single
// immediate slot, resolved only after statement offsets and const-segment
// layout are known.
type Relocatable interface {
	SetImmediate(value int)
}

// Instruction is one emitted machine instruction: its operation plus any
// execution hints.
type Instruction struct {
	Body  Body
	Hints []Hint
}

// OpSize returns the instruction's size in words.
func (i Instruction) OpSize() int { return i.Body.OpSize() }

const (
	opRet = iota
	opApUpdate
	opMove
	opJump
	opConstRef
)

// RetBody is the single-word return terminator, used both for a Sierra
// Return statement and as the per-const-segment terminator.
type RetBody struct{}

func (RetBody) OpSize() int    { return 1 }
func (RetBody) Encode() []Word { return []Word{Word(opRet) << 60} }

// ApUpdateBody advances AP by Delta words. Delta may be negative only in
// the sense that it is never emitted by a branch that shrinks the stack;
// the field is signed to match the AP-change deltas libfunc emitters
// report.
type ApUpdateBody struct {
	Delta int
}

func (ApUpdateBody) OpSize() int { return 1 }
func (b ApUpdateBody) Encode() []Word {
	return []Word{Word(opApUpdate)<<60 | Word(uint64(int64(b.Delta))&0x0FFFFFFFFFFFFFFF)}
}

// MoveBody copies the cell at Src to Dest. Used by simple single-branch
// libfuncs like store_temp.
type MoveBody struct {
	Src, Dest refs.CellExpr
}

func (MoveBody) OpSize() int { return 2 }
func (b MoveBody) Encode() []Word {
	return []Word{
		Word(opMove)<<60 | encodeCell(b.Src),
		encodeCell(b.Dest),
	}
}

// JumpBody is an unconditional jump to a statement, relocated to that
// statement's final code offset.
type JumpBody struct {
	immediate int
	resolved  bool
}

func (JumpBody) OpSize() int { return 2 }
func (b JumpBody) Encode() []Word {
	return []Word{Word(opJump) << 60, Word(int64(b.immediate))}
}
func (b *JumpBody) SetImmediate(value int) { b.immediate, b.resolved = value, true }

// ConstRefBody materializes a pointer to a const-segment value, relocated
// once the const segment's final layout is known.
type ConstRefBody struct {
	Dest      refs.CellExpr
	immediate int
	resolved  bool
}

func (ConstRefBody) OpSize() int { return 2 }
func (b ConstRefBody) Encode() []Word {
	return []Word{
		Word(opConstRef)<<60 | encodeCell(b.Dest),
		Word(int64(b.immediate)),
	}
}
func (b *ConstRefBody) SetImmediate(value int) { b.immediate, b.resolved = value, true }

func encodeCell(c refs.CellExpr) Word {
	base := Word(0)
	if c.Base == refs.BaseFP {
		base = 1
	}
	return base<<32 | Word(uint32(int32(c.Offset)))
}
