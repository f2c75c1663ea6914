// Package scoretext reads the tiny textual mini-language the CLI drivers
// accept and translates it directly into builder.Writer calls. It is not
// MML and not the fluent builder API — it carries no semantics beyond
// text-to-Writer-call mapping, tracking the tick cursor a producer is
// responsible for maintaining per structural scope.
package scoretext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cbegin/scorevm/internal/builder"
)

var noteOffsets = map[byte]int{
	'c': 0, 'd': 2, 'e': 4, 'f': 5, 'g': 7, 'a': 9, 'b': 11,
}

var durationSymbols = map[string]int{
	"w": 4, "h": 2, "q": 1, "e": 1, "s": 1, "t": 1,
}

// Parse tokenizes and parses src, returning the builder bytecode it
// describes. ppq scales the w/h/q/e/s/t duration symbols (q = one PPQ,
// e = PPQ/2, s = PPQ/4, t = PPQ/8; w/h scale up instead of down).
func Parse(src string, ppq int) ([]int32, error) {
	p := &parser{toks: tokenize(src), ppq: ppq, w: builder.NewWriter()}
	p.cursors = append(p.cursors, 0)
	if err := p.parseBlock(); err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("scoretext: unexpected trailing token %q", p.peek())
	}
	return p.w.Bytes(), nil
}

type parser struct {
	toks    []string
	pos     int
	ppq     int
	w       *builder.Writer
	cursors []int32 // one entry per active structural scope; top is current
}

func (p *parser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() string {
	if p.atEnd() {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) top() int32 { return p.cursors[len(p.cursors)-1] }

func (p *parser) advance(ticks int32) { p.cursors[len(p.cursors)-1] += ticks }

func (p *parser) push(start int32) { p.cursors = append(p.cursors, start) }

func (p *parser) pop() int32 {
	v := p.cursors[len(p.cursors)-1]
	p.cursors = p.cursors[:len(p.cursors)-1]
	return v
}

// parseBlock consumes statements until a closing brace or EOF.
func (p *parser) parseBlock() error {
	for !p.atEnd() && p.peek() != "}" {
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseStatement() error {
	switch strings.ToUpper(p.peek()) {
	case "NOTE":
		return p.parseNote()
	case "REST":
		return p.parseRest()
	case "TEMPO":
		return p.parseTempo()
	case "LOOP":
		return p.parseLoop()
	case "STACK":
		return p.parseStack()
	case "HUMANIZE":
		return p.parseHumanize()
	case "QUANTIZE":
		return p.parseQuantize()
	case "GROOVE":
		return p.parseGroove()
	default:
		return fmt.Errorf("scoretext: unknown statement %q", p.peek())
	}
}

func (p *parser) expectBrace(tok string) error {
	got := p.next()
	if got != tok {
		return fmt.Errorf("scoretext: expected %q, got %q", tok, got)
	}
	return nil
}

func (p *parser) parseNote() error {
	p.next() // NOTE
	pitch, err := parsePitch(p.next())
	if err != nil {
		return err
	}
	dur, err := p.parseDuration(p.next())
	if err != nil {
		return err
	}
	vel, err := parseInt(p.next())
	if err != nil {
		return err
	}
	p.w.Note(int(p.top()), pitch, vel, dur)
	p.advance(int32(dur))
	return nil
}

func (p *parser) parseRest() error {
	p.next() // REST
	dur, err := p.parseDuration(p.next())
	if err != nil {
		return err
	}
	p.w.Rest(int(p.top()), dur)
	p.advance(int32(dur))
	return nil
}

func (p *parser) parseTempo() error {
	p.next() // TEMPO
	bpm, err := parseInt(p.next())
	if err != nil {
		return err
	}
	p.w.Tempo(int(p.top()), bpm)
	return nil
}

func (p *parser) parseLoop() error {
	p.next() // LOOP
	count, err := parseInt(p.next())
	if err != nil {
		return err
	}
	if err := p.expectBrace("{"); err != nil {
		return err
	}
	start := p.top()
	p.w.LoopStart(int(start), count)
	p.push(start)
	if err := p.parseBlock(); err != nil {
		return err
	}
	bodyDuration := p.pop() - start
	if err := p.expectBrace("}"); err != nil {
		return err
	}
	p.w.LoopEnd()
	p.advance(bodyDuration * int32(count))
	return nil
}

func (p *parser) parseStack() error {
	p.next() // STACK
	if err := p.expectBrace("{"); err != nil {
		return err
	}
	start := p.top()
	branchCount := p.countBranches()
	p.w.StackStart(int(start), branchCount)

	var maxDur int32
	for strings.ToUpper(p.peek()) == "BRANCH" {
		p.next()
		if err := p.expectBrace("{"); err != nil {
			return err
		}
		p.w.BranchStart()
		p.push(start)
		if err := p.parseBlock(); err != nil {
			return err
		}
		dur := p.pop() - start
		if err := p.expectBrace("}"); err != nil {
			return err
		}
		p.w.BranchEnd()
		if dur > maxDur {
			maxDur = dur
		}
	}
	if err := p.expectBrace("}"); err != nil {
		return err
	}
	p.w.StackEnd()
	p.advance(maxDur)
	return nil
}

// countBranches looks ahead (without consuming) to count the top-level
// BRANCH blocks in the STACK body, since StackStart must carry the branch
// count before any branch is emitted.
func (p *parser) countBranches() int {
	depth := 0
	count := 0
	for i := p.pos; i < len(p.toks); i++ {
		switch p.toks[i] {
		case "{":
			depth++
		case "}":
			if depth == 0 {
				return count
			}
			depth--
		default:
			if depth == 0 && strings.ToUpper(p.toks[i]) == "BRANCH" {
				count++
			}
		}
	}
	return count
}

func (p *parser) parseHumanize() error {
	p.next() // HUMANIZE
	timing, vel, err := parseTwoKeyArgs(p, "time", "vel")
	if err != nil {
		return err
	}
	if err := p.expectBrace("{"); err != nil {
		return err
	}
	p.w.HumanizePush(timing, vel)
	if err := p.parseBlock(); err != nil {
		return err
	}
	if err := p.expectBrace("}"); err != nil {
		return err
	}
	p.w.HumanizePop()
	return nil
}

func (p *parser) parseQuantize() error {
	p.next() // QUANTIZE
	grid, strength, err := parseTwoKeyArgs(p, "grid", "strength")
	if err != nil {
		return err
	}
	if err := p.expectBrace("{"); err != nil {
		return err
	}
	p.w.QuantizePush(grid, strength)
	if err := p.parseBlock(); err != nil {
		return err
	}
	if err := p.expectBrace("}"); err != nil {
		return err
	}
	p.w.QuantizePop()
	return nil
}

func (p *parser) parseGroove() error {
	p.next() // GROOVE
	var offsets []int
	for {
		tok := p.next()
		v, err := parseInt(tok)
		if err != nil {
			return err
		}
		offsets = append(offsets, v)
		if p.peek() != "," {
			break
		}
		p.next() // ","
	}
	if err := p.expectBrace("{"); err != nil {
		return err
	}
	p.w.GroovePush(offsets...)
	if err := p.parseBlock(); err != nil {
		return err
	}
	if err := p.expectBrace("}"); err != nil {
		return err
	}
	p.w.GroovePop()
	return nil
}

// parseTwoKeyArgs reads "key1=v1 key2=v2" in either order.
func parseTwoKeyArgs(p *parser, key1, key2 string) (int, int, error) {
	var v1, v2 int
	var got1, got2 bool
	for i := 0; i < 2; i++ {
		tok := p.next()
		parts := strings.SplitN(tok, "=", 2)
		if len(parts) != 2 {
			return 0, 0, fmt.Errorf("scoretext: expected key=value, got %q", tok)
		}
		v, err := parseInt(parts[1])
		if err != nil {
			return 0, 0, err
		}
		switch parts[0] {
		case key1:
			v1, got1 = v, true
		case key2:
			v2, got2 = v, true
		default:
			return 0, 0, fmt.Errorf("scoretext: unknown key %q", parts[0])
		}
	}
	if !got1 || !got2 {
		return 0, 0, fmt.Errorf("scoretext: expected both %s= and %s=", key1, key2)
	}
	return v1, v2, nil
}

func (p *parser) parseDuration(tok string) (int, error) {
	if n, err := strconv.Atoi(tok); err == nil {
		return n, nil
	}
	mult, ok := durationSymbols[strings.ToLower(tok)]
	if !ok {
		return 0, fmt.Errorf("scoretext: unknown duration %q", tok)
	}
	switch strings.ToLower(tok) {
	case "w":
		return p.ppq * 4, nil
	case "h":
		return p.ppq * 2, nil
	case "q":
		return p.ppq, nil
	case "e":
		return p.ppq / 2, nil
	case "s":
		return p.ppq / 4, nil
	case "t":
		return p.ppq / 8, nil
	}
	return mult, nil
}

// parsePitch accepts a bare MIDI integer or scientific pitch notation like
// "c4", "c#4", "cb3" (octave 4 = MIDI 60, matching middle C).
func parsePitch(tok string) (int, error) {
	if n, err := strconv.Atoi(tok); err == nil {
		return n, nil
	}
	if tok == "" {
		return 0, fmt.Errorf("scoretext: empty pitch")
	}
	letter := tok[0] | 0x20
	offset, ok := noteOffsets[letter]
	if !ok {
		return 0, fmt.Errorf("scoretext: unrecognized pitch %q", tok)
	}
	rest := tok[1:]
	accidental := 0
	if len(rest) > 0 && (rest[0] == '#' || rest[0] == 'b') {
		if rest[0] == '#' {
			accidental = 1
		} else {
			accidental = -1
		}
		rest = rest[1:]
	}
	octave := 4
	if rest != "" {
		o, err := strconv.Atoi(rest)
		if err != nil {
			return 0, fmt.Errorf("scoretext: bad octave in %q", tok)
		}
		octave = o
	}
	return (octave+1)*12 + offset + accidental, nil
}

func parseInt(tok string) (int, error) {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("scoretext: expected integer, got %q", tok)
	}
	return n, nil
}

// tokenize splits src on whitespace, treating '{', '}' and ',' as
// standalone tokens even when not surrounded by spaces (so "0,-4,4,0"
// tokenizes the same as "0, -4, 4, 0").
func tokenize(src string) []string {
	var b strings.Builder
	for _, r := range src {
		switch r {
		case '{', '}', ',':
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Fields(b.String())
}
