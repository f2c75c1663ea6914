package vmbc

// Record is a single decoded VM bytecode entry.
type Record struct {
	Op   Op
	Args []int32
}

// Decode reads one record from words starting at pc. It returns the record
// and the PC to advance to. An out-of-range or unrecognized opcode returns
// ok=false.
func Decode(words []int32, pc int) (Record, int, bool) {
	if pc < 0 || pc >= len(words) {
		return Record{}, pc, false
	}
	op := Op(words[pc])
	switch op {
	case Note:
		if pc+3 >= len(words) {
			return Record{}, pc, false
		}
		return Record{Op: op, Args: []int32{words[pc+1], words[pc+2], words[pc+3]}}, pc + 4, true
	case Rest:
		if pc+1 >= len(words) {
			return Record{}, pc, false
		}
		return Record{Op: op, Args: []int32{words[pc+1]}}, pc + 2, true
	case Tempo:
		if pc+1 >= len(words) {
			return Record{}, pc, false
		}
		return Record{Op: op, Args: []int32{words[pc+1]}}, pc + 2, true
	case CC:
		if pc+2 >= len(words) {
			return Record{}, pc, false
		}
		return Record{Op: op, Args: []int32{words[pc+1], words[pc+2]}}, pc + 3, true
	case Bend:
		if pc+1 >= len(words) {
			return Record{}, pc, false
		}
		return Record{Op: op, Args: []int32{words[pc+1]}}, pc + 2, true
	case Transpose:
		if pc+1 >= len(words) {
			return Record{}, pc, false
		}
		return Record{Op: op, Args: []int32{words[pc+1]}}, pc + 2, true
	case StackStart:
		if pc+1 >= len(words) {
			return Record{}, pc, false
		}
		return Record{Op: op, Args: []int32{words[pc+1]}}, pc + 2, true
	case BranchStart, BranchEnd, StackEnd, LoopEnd, EOF:
		return Record{Op: op}, pc + 1, true
	case LoopStart:
		if pc+1 >= len(words) {
			return Record{}, pc, false
		}
		return Record{Op: op, Args: []int32{words[pc+1]}}, pc + 2, true
	case Chord2, Chord3, Chord4:
		n := ChordArgWords(op)
		if pc+n >= len(words) {
			return Record{}, pc, false
		}
		args := make([]int32, n)
		copy(args, words[pc+1:pc+1+n])
		return Record{Op: op, Args: args}, pc + 1 + n, true
	default:
		return Record{}, pc, false
	}
}
