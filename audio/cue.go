// Package audio plays short synthesized cues for deformation events
package audio

import (
	"math"
	"time"

	"github.com/gopxl/beep"
)

const sampleRate = beep.SampleRate(48000)

// Cue identifies a sound
type Cue int

const (
	CueDeform  Cue = iota // Rising chirp
	CueRestore            // Falling chirp
	CueWaiting            // Low buzz
	cueCount
)

func (c Cue) String() string {
	switch c {
	case CueDeform:
		return "deform"
	case CueRestore:
		return "restore"
	case CueWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

func (c Cue) duration() time.Duration {
	switch c {
	case CueWaiting:
		return 150 * time.Millisecond
	default:
		return 90 * time.Millisecond
	}
}

// streamer builds a finite streamer for the cue
func (c Cue) streamer() beep.Streamer {
	n := sampleRate.N(c.duration())
	switch c {
	case CueDeform:
		return beep.Take(n, NewChirpGenerator(sampleRate, 440, 880, c.duration()))
	case CueRestore:
		return beep.Take(n, NewChirpGenerator(sampleRate, 660, 330, c.duration()))
	default:
		return beep.Take(n, NewBuzzGenerator(sampleRate, 120))
	}
}

// ChirpGenerator sweeps linearly between two frequencies over span
type ChirpGenerator struct {
	sr       beep.SampleRate
	from, to float64
	span     int
	pos      int
	phase    float64
}

func NewChirpGenerator(sr beep.SampleRate, from, to float64, span time.Duration) *ChirpGenerator {
	return &ChirpGenerator{sr: sr, from: from, to: to, span: max(sr.N(span), 1)}
}

func (g *ChirpGenerator) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		progress := math.Min(float64(g.pos)/float64(g.span), 1)
		freq := g.from + (g.to-g.from)*progress

		// Short attack, exponential tail
		attack := math.Min(float64(g.pos)/float64(g.sr)/0.005, 1)
		envelope := attack * math.Exp(-progress*3)

		sample := 0.2 * envelope * math.Sin(g.phase)
		g.phase += 2 * math.Pi * freq / float64(g.sr)
		if g.phase > 2*math.Pi {
			g.phase -= 2 * math.Pi
		}

		samples[i][0] = sample
		samples[i][1] = sample
		g.pos++
	}
	return len(samples), true
}

func (g *ChirpGenerator) Err() error {
	return nil
}

// BuzzGenerator generates a low-pitch buzz
type BuzzGenerator struct {
	sr   beep.SampleRate
	freq float64
	pos  int
}

func NewBuzzGenerator(sr beep.SampleRate, freq float64) *BuzzGenerator {
	return &BuzzGenerator{sr: sr, freq: freq}
}

func (g *BuzzGenerator) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		t := float64(g.pos) / float64(g.sr)

		sample := 0.3 * math.Sin(2*math.Pi*g.freq*t)
		sample += 0.15 * math.Sin(2*math.Pi*g.freq*2*t)
		sample += 0.075 * math.Sin(2*math.Pi*g.freq*3*t)

		envelope := math.Min(t/0.02, 1.0)
		sample *= envelope * 0.2

		samples[i][0] = sample
		samples[i][1] = sample
		g.pos++
	}
	return len(samples), true
}

func (g *BuzzGenerator) Err() error {
	return nil
}
