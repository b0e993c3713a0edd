package haku

import (
	"fmt"
	"strings"
)

// Disassemble renders a chunk's opcode stream as text, one instruction
// per line with its byte offset. Lambda metadata blocks (the bytes an
// OpFunction's `then` operand jumps over) are decoded along with their
// OpFunction and skipped in the linear walk.
func Disassemble(chunk *Chunk) string {
	var b strings.Builder
	pc := 0
	// Maps a metadata block's start offset to its end.
	metadata := map[int]int{}

	for pc < chunk.Len() {
		if skip, ok := metadata[pc]; ok {
			pc = skip
			continue
		}

		offset := pc
		opcode, err := chunk.ReadOpcode(&pc)
		if err != nil {
			fmt.Fprintf(&b, "%04x  <invalid byte>\n", offset)
			return b.String()
		}

		truncated := func() string {
			fmt.Fprintf(&b, "%04x  %s <truncated>\n", offset, opcode)
			return b.String()
		}

		switch opcode {
		case OpNumber:
			x, err := chunk.ReadF32(&pc)
			if err != nil {
				return truncated()
			}
			fmt.Fprintf(&b, "%04x  Number %g\n", offset, x)

		case OpRgba:
			var channels [4]uint8
			for i := range channels {
				v, err := chunk.ReadU8(&pc)
				if err != nil {
					return truncated()
				}
				channels[i] = v
			}
			fmt.Fprintf(&b, "%04x  Rgba #%02x%02x%02x%02x\n", offset,
				channels[0], channels[1], channels[2], channels[3])

		case OpLocal, OpSetLocal, OpCapture, OpCall:
			v, err := chunk.ReadU8(&pc)
			if err != nil {
				return truncated()
			}
			fmt.Fprintf(&b, "%04x  %s %d\n", offset, opcode, v)

		case OpDef, OpSetDef, OpList, OpJump, OpJumpIfNot:
			v, err := chunk.ReadU16(&pc)
			if err != nil {
				return truncated()
			}
			fmt.Fprintf(&b, "%04x  %s %d\n", offset, opcode, v)

		case OpSystem:
			index, err := chunk.ReadU8(&pc)
			if err != nil {
				return truncated()
			}
			argc, err := chunk.ReadU8(&pc)
			if err != nil {
				return truncated()
			}
			fmt.Fprintf(&b, "%04x  System 0x%02x argc=%d\n", offset, index, argc)

		case OpFunction:
			params, err := chunk.ReadU8(&pc)
			if err != nil {
				return truncated()
			}
			then, err := chunk.ReadU16(&pc)
			if err != nil {
				return truncated()
			}
			meta := int(then)
			locals, err := chunk.ReadU8(&meta)
			if err != nil {
				return truncated()
			}
			captureCount, err := chunk.ReadU8(&meta)
			if err != nil {
				return truncated()
			}
			meta += int(captureCount) * 2
			metadata[int(then)] = meta
			fmt.Fprintf(&b, "%04x  Function params=%d then=%04x locals=%d captures=%d\n",
				offset, params, then, locals, captureCount)

		default:
			fmt.Fprintf(&b, "%04x  %s\n", offset, opcode)
		}
	}
	return b.String()
}
