package compiler

import (
	"fmt"
	"io"
	"os"

	"github.com/raymyers/sierra2casm/pkg/casm"
)

// Assembled is the final flat output of a compilation: the concatenated
// machine words and the byte offset of every instruction that carried an
// execution hint.
type Assembled struct {
	Bytecode []casm.Word
	Hints    []HintEntry
}

// HintEntry records the hints attached to the instruction at Offset
// words into the assembled bytecode.
type HintEntry struct {
	Offset int
	Hints  []casm.Hint
}

// ErrFooterHintsUnrepresentable is returned by AssembleEx when a footer
// instruction carries hints: footer instructions run past the end of
// the program's own hint-addressable range, so their hints have no
// representable offset.
var ErrFooterHintsUnrepresentable = fmt.Errorf("footer instructions must carry no hints")

// Assemble lays out the program with no header or footer.
func (p *CairoProgram) Assemble() (Assembled, error) {
	return p.AssembleEx(nil, nil)
}

// AssembleEx lays out header, then the program's own instructions, then
// one terminator-plus-values block per const segment (in ascending
// segment id order), then footer. Hint offsets are tracked across
// header and the program body but never for footer, which must carry
// none.
func (p *CairoProgram) AssembleEx(header, footer []casm.Instruction) (Assembled, error) {
	var bytecode []casm.Word
	var hints []HintEntry

	emit := func(instructions []casm.Instruction) {
		for _, inst := range instructions {
			if len(inst.Hints) > 0 {
				hints = append(hints, HintEntry{Offset: len(bytecode), Hints: inst.Hints})
			}
			bytecode = append(bytecode, inst.Body.Encode()...)
		}
	}

	emit(header)
	emit(p.Instructions)

	ret := casm.RetBody{}.Encode()[0]
	for _, id := range p.Consts.OrderedIDs() {
		seg := p.Consts.Segments[id]
		bytecode = append(bytecode, ret)
		for _, v := range seg.Values {
			bytecode = append(bytecode, casm.Word(v.Uint64()))
		}
	}

	for _, inst := range footer {
		if len(inst.Hints) > 0 {
			return Assembled{}, ErrFooterHintsUnrepresentable
		}
		bytecode = append(bytecode, inst.Body.Encode()...)
	}

	return Assembled{Bytecode: bytecode, Hints: hints}, nil
}

// Text renders the program as CASM source text: one line per
// instruction followed by one `ret`-plus-`dw` block per const segment.
// When PRINT_CASM_BYTECODE_OFFSETS is set in the environment, each line
// is annotated with its byte offset, read at most once per call.
func (p *CairoProgram) Text(w io.Writer) error {
	_, withOffsets := os.LookupEnv("PRINT_CASM_BYTECODE_OFFSETS")
	offset := 0

	for _, inst := range p.Instructions {
		if err := writeLine(w, inst, withOffsets, &offset); err != nil {
			return err
		}
	}
	for _, id := range p.Consts.OrderedIDs() {
		seg := p.Consts.Segments[id]
		retLine := casm.Instruction{Body: casm.RetBody{}}
		if err := writeLine(w, retLine, withOffsets, &offset); err != nil {
			return err
		}
		for _, v := range seg.Values {
			line := fmt.Sprintf("dw %s;", v.String())
			if withOffsets {
				line = fmt.Sprintf("%s // %d", line, offset)
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
			offset++
		}
	}
	return nil
}

func writeLine(w io.Writer, inst casm.Instruction, withOffsets bool, offset *int) error {
	line := fmt.Sprintf("%v;", inst.Body)
	if withOffsets {
		line = fmt.Sprintf("%s // %d", line, *offset)
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	*offset += inst.OpSize()
	return nil
}
