package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/cbegin/scorevm"
	"github.com/cbegin/scorevm/internal/scoretext"
	"github.com/cbegin/scorevm/internal/shm"
	"github.com/cbegin/scorevm/internal/vmbc"
)

const defaultScore = `NOTE c4 q 96
NOTE e4 q 96
NOTE g4 q 96`

func main() {
	var (
		ppq       = flag.Int("ppq", 96, "pulses per quarter note")
		seed      = flag.Uint("seed", 1, "humanization seed")
		unroll    = flag.Bool("unroll", false, "compile in unroll mode")
		scorePath = flag.String("file", "", "path to a score-text file")
		scoreInline = flag.String("score", "", "inline score-text string")
		ringCap   = flag.Int("ring-cap", 64, "event ring capacity")
		tempoCap  = flag.Int("tempo-cap", 16, "tempo log capacity")
	)
	flag.Parse()

	text, err := resolveScoreInput(*scorePath, *scoreInline)
	if err != nil {
		log.Fatal(err)
	}

	builderBC, err := scoretext.Parse(text, *ppq)
	if err != nil {
		log.Fatal(err)
	}

	res, err := scorevm.Compile(builderBC, scorevm.CompileOptions{
		PPQ:    int32(*ppq),
		Seed:   uint32(*seed),
		Unroll: *unroll,
	})
	if err != nil {
		if e, ok := err.(*scorevm.Error); ok {
			log.Fatalf("compile: %s", e.Error())
		}
		log.Fatal(err)
	}

	fmt.Printf("total_ticks: %d\n", res.TotalTicks)
	fmt.Printf("bytecode_words: %d\n", len(res.Bytecode))
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}

	fmt.Println("opcode_counts:")
	counts := map[string]int{}
	for pc := 0; pc < len(res.Bytecode); {
		rec, next, ok := vmbc.Decode(res.Bytecode, pc)
		if !ok {
			fmt.Printf("  <undecodable word at pc=%d: %d>\n", pc, res.Bytecode[pc])
			break
		}
		counts[rec.Op.String()]++
		pc = next
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Printf("  %-14s %d\n", n, counts[n])
	}

	buf := scorevm.NewBufferForResult(res, *ringCap, *tempoCap)
	fmt.Println("header_registers:")
	fmt.Printf("  ppq:               %d\n", buf.Get(shm.RegPPQ))
	fmt.Printf("  bpm:               %d\n", buf.Get(shm.RegBPM))
	fmt.Printf("  total_ticks:       %d\n", buf.Get(shm.RegTotalTicks))
	fmt.Printf("  bytecode_offset:   %d\n", buf.Get(shm.RegBytecodeOffset))
	fmt.Printf("  event_ring_offset: %d\n", buf.Get(shm.RegEventRingOffset))
	fmt.Printf("  tempo_log_offset:  %d\n", buf.Get(shm.RegTempoLogOffset))
}

func resolveScoreInput(path string, inline string) (string, error) {
	if strings.TrimSpace(inline) != "" {
		return inline, nil
	}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return defaultScore, nil
}
