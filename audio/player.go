package audio

import (
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tetherball88/Know-Your-Limits/event"
)

// DefaultCueRate caps cues per second so a chain deforming at once plays a single chirp
const DefaultCueRate = 8

// Player mixes cues onto the speaker
// Every method is a no-op until Initialize succeeds, so missing audio hardware is never fatal
type Player struct {
	mu          sync.Mutex
	mixer       *beep.Mixer
	limiter     *rate.Limiter
	initialized bool
	played      [cueCount]int
	log         *zap.Logger

	// speaker guards the mixer while the speaker goroutine streams it
	speaker sync.Locker

	// out receives finished cue streamers; the speaker mixer unless replaced
	out func(beep.Streamer)
}

func NewPlayer(perSecond int, log *zap.Logger) *Player {
	if perSecond <= 0 {
		perSecond = DefaultCueRate
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Player{
		mixer:   &beep.Mixer{},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     log,
		speaker: speakerLock{},
	}
	p.out = p.toSpeaker
	return p
}

// speakerLock adapts the speaker package lock to sync.Locker
type speakerLock struct{}

func (speakerLock) Lock()   { speaker.Lock() }
func (speakerLock) Unlock() { speaker.Unlock() }

func (p *Player) toSpeaker(s beep.Streamer) {
	p.speaker.Lock()
	p.mixer.Add(s)
	p.speaker.Unlock()
}

// Initialize opens the speaker
func (p *Player) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}
	if err := speaker.Init(sampleRate, sampleRate.N(100*time.Millisecond)); err != nil {
		p.log.Warn("audio unavailable", zap.Error(err))
		return err
	}
	speaker.Play(p.mixer)
	p.initialized = true
	return nil
}

// Cleanup silences everything; the speaker itself stays open
func (p *Player) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return
	}
	p.speaker.Lock()
	p.mixer.Clear()
	p.speaker.Unlock()
	p.initialized = false
}

// Play queues cue unless the rate limit is exhausted, reporting whether it was queued
func (p *Player) Play(c Cue) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized || c < 0 || c >= cueCount {
		return false
	}
	if !p.limiter.Allow() {
		return false
	}
	p.played[c]++
	p.out(c.streamer())
	return true
}

// Played returns how many times cue was queued
func (p *Player) Played(c Cue) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c < 0 || c >= cueCount {
		return 0
	}
	return p.played[c]
}

// Attach maps engine events to cues
func (p *Player) Attach(router *event.Router) {
	router.On(func(event.Event) { p.Play(CueDeform) }, event.BoneDeformed)
	router.On(func(event.Event) { p.Play(CueRestore) }, event.BoneRestored)
	router.On(func(event.Event) { p.Play(CueWaiting) }, event.BonesWaiting)
}
