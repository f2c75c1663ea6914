package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/cbegin/scorevm"
	"github.com/cbegin/scorevm/internal/scoretext"
)

const defaultScore = `NOTE c4 q 96
NOTE e4 q 96
NOTE g4 q 96
NOTE c5 q 96`

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		ppq        = flag.Int("ppq", 96, "pulses per quarter note")
		bpm        = flag.Int("bpm", 120, "starting tempo")
		seed       = flag.Uint("seed", 1, "humanization seed")
		ringCap    = flag.Int("ring-cap", 64, "event ring capacity")
		tempoCap   = flag.Int("tempo-cap", 16, "tempo log capacity")
		unroll     = flag.Bool("unroll", false, "compile in unroll mode")
		scorePath  = flag.String("file", "", "path to a score-text file")
		scoreInline = flag.String("score", "", "inline score-text string")
		demo       = flag.Bool("demo", false, "play the built-in demo phrase")
		volume     = flag.Float64("volume", 1.0, "master channel gain")
		wavOut     = flag.String("wav", "", "render offline to this WAV file instead of live playback")
	)
	flag.Parse()

	text, err := resolveScoreInput(*scorePath, *scoreInline, *demo)
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
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if *wavOut != "" {
		wav, err := scorevm.RenderToWAV(res.Bytecode, *ppq, *bpm, *sampleRate)
		if err != nil {
			log.Fatal(err)
		}
		if err := os.WriteFile(*wavOut, wav, 0o644); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("wrote %s (%d bytes)\n", *wavOut, len(wav))
		return
	}

	pl, err := scorevm.NewPlayer(res.Bytecode, int32(*ppq), int32(*bpm), *ringCap, *tempoCap, *sampleRate)
	if err != nil {
		log.Fatal(err)
	}
	pl.SetMasterVolume(*volume)
	ch := pl.Watch()
	if err := pl.Play(); err != nil {
		log.Fatal(err)
	}
	for event := range ch {
		if event.Kind == scorevm.EventPlaybackEnded {
			fmt.Println("playback completed")
			break
		}
	}
	pl.Wait()
}

func resolveScoreInput(path string, inline string, demo bool) (string, error) {
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
	if !demo {
		return "", fmt.Errorf("no input given (use -file, -score, or -demo)")
	}
	return defaultScore, nil
}
