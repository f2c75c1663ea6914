package builder

// Record is a single decoded builder bytecode entry. Tick is meaningful only
// when IsTimed(Op) is true. Args holds the remaining fields in record order
// (for GROOVE_PUSH, Args[0] is the offset count and Args[1:] the offsets).
type Record struct {
	Op   Opcode
	Tick int32
	Args []int32
}

// Decode reads one record from words starting at index at. It returns the
// record, the number of words consumed (including the opcode word), and
// whether the opcode was recognized. An unrecognized opcode returns
// consumed=1 and ok=false; callers implementing the compiler's forgiving
// parse should skip exactly that many words and continue.
func Decode(words []int32, at int) (Record, int, bool) {
	if at >= len(words) {
		return Record{}, 0, false
	}
	op := Opcode(words[at])
	switch op {
	case OpNote:
		if at+4 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Tick: words[at+1], Args: []int32{words[at+2], words[at+3], words[at+4]}}, 5, true
	case OpRest:
		if at+2 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Tick: words[at+1], Args: []int32{words[at+2]}}, 3, true
	case OpTempo:
		if at+2 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Tick: words[at+1], Args: []int32{words[at+2]}}, 3, true
	case OpCC:
		if at+3 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Tick: words[at+1], Args: []int32{words[at+2], words[at+3]}}, 4, true
	case OpBend:
		if at+2 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Tick: words[at+1], Args: []int32{words[at+2]}}, 3, true
	case OpLoopStart:
		if at+2 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Tick: words[at+1], Args: []int32{words[at+2]}}, 3, true
	case OpLoopEnd, OpStackEnd, OpBranchStart, OpBranchEnd,
		OpHumanizePop, OpQuantizePop, OpGroovePop:
		return Record{Op: op}, 1, true
	case OpStackStart:
		if at+2 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Tick: words[at+1], Args: []int32{words[at+2]}}, 3, true
	case OpHumanizePush:
		if at+2 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Args: []int32{words[at+1], words[at+2]}}, 3, true
	case OpQuantizePush:
		if at+2 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Args: []int32{words[at+1], words[at+2]}}, 3, true
	case OpGroovePush:
		if at+1 >= len(words) {
			return Record{}, 1, false
		}
		n := int(words[at+1])
		if n < 0 || at+2+n > len(words) {
			return Record{}, 1, false
		}
		args := make([]int32, 1+n)
		args[0] = int32(n)
		copy(args[1:], words[at+2:at+2+n])
		return Record{Op: op, Args: args}, 2 + n, true
	case OpNoteModHumanize:
		if at+2 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Args: []int32{words[at+1], words[at+2]}}, 3, true
	case OpNoteModQuantize:
		if at+2 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Args: []int32{words[at+1], words[at+2]}}, 3, true
	case OpNoteModGroove:
		if at+1 >= len(words) {
			return Record{}, 1, false
		}
		return Record{Op: op, Args: []int32{words[at+1]}}, 2, true
	case OpEOF:
		return Record{Op: op}, 1, true
	default:
		return Record{}, 1, false
	}
}
