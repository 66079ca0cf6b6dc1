package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/storyweave/offline/internal/audio"
	"github.com/storyweave/offline/internal/audiocache"
)

// Emotion hints derived from sentence type. Prosody hints only, never
// correctness-critical.
const (
	EmotionNeutral = ""
	EmotionCurious = "curious"
	EmotionExcited = "excited"
)

// WordRequest describes a tapped word and its sentence context.
type WordRequest struct {
	Word string
	// WordIndex is the word's position within the sentence.
	WordIndex int
	// WordCount is the sentence length in words.
	WordCount int
	Sentence string
	// Occurrence is the 1-indexed occurrence of Word within Sentence.
	Occurrence int
	VoiceID    string
}

// WordOrchestrator resolves, synthesizes and plays single words. At most
// one word is in flight: a new request cancels the previous one, awaiting
// its playback stop before synthesizing.
type WordOrchestrator struct {
	cache   *audiocache.WordCache
	synth   Synthesizer
	disamb  Disambiguator
	player  audio.Player
	pending *audio.PendingQueue
	logger  *log.Logger

	mu           sync.Mutex
	cancel       context.CancelFunc
	gen          uint64
	loadingIndex int

	onStarted func(contextID string)
}

// NewWordOrchestrator wires the word playback pipeline. disamb may be nil
// to always use default pronunciations; a nil logger discards output.
func NewWordOrchestrator(cache *audiocache.WordCache, synth Synthesizer, disamb Disambiguator, player audio.Player, logger *log.Logger) *WordOrchestrator {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &WordOrchestrator{
		cache:        cache,
		synth:        synth,
		disamb:       disamb,
		player:       player,
		pending:      audio.NewPendingQueue(),
		logger:       logger.With("component", "word-orchestrator"),
		loadingIndex: -1,
	}
}

// LoadingWordIndex returns the index of the word currently being resolved
// or synthesized, -1 when idle.
func (o *WordOrchestrator) LoadingWordIndex() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loadingIndex
}

// OnPlaybackStarted registers fn for playback-start notifications. The
// playback backend reports starts without a request id, so starts are
// matched to pending context ids in arrival order; overlapping requests
// can in principle be matched out of order.
func (o *WordOrchestrator) OnPlaybackStarted(fn func(contextID string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onStarted = fn
}

// EmotionForSentenceType maps a sentence type to its synthesis emotion hint.
func EmotionForSentenceType(sentenceType string) string {
	switch sentenceType {
	case audiocache.SentenceQuestion:
		return EmotionCurious
	case audiocache.SentenceExclamation:
		return EmotionExcited
	default:
		return EmotionNeutral
	}
}

// buildSynthesisText wraps the word in phoneme markup when a pronunciation
// was resolved and in an emotion tag when non-neutral.
func buildSynthesisText(word, phonemes, emotion string) string {
	text := word
	if phonemes != "" {
		text = fmt.Sprintf("<phoneme ipa=%q>%s</phoneme>", phonemes, word)
	}
	if emotion != EmotionNeutral {
		text = fmt.Sprintf("<emotion name=%q>%s</emotion>", emotion, text)
	}
	return text
}

// PlayWord resolves and plays one word. A request in flight is canceled
// first, including awaiting its playback stop. Returns ErrCanceled when
// superseded by a newer request.
func (o *WordOrchestrator) PlayWord(ctx context.Context, req WordRequest) error {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	if err := o.player.Stop(); err != nil {
		o.logger.Warn("stop previous playback", "err", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.gen++
	myGen := o.gen
	o.loadingIndex = req.WordIndex
	o.mu.Unlock()

	err := o.playWord(ctx, req)

	// Only the newest request may reset shared state; a superseded one
	// must not clobber its successor's loading index or cancel func.
	o.mu.Lock()
	if o.gen == myGen {
		o.loadingIndex = -1
		o.cancel = nil
	}
	o.mu.Unlock()
	cancel()

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: superseded", ErrCanceled)
	}
	return err
}

// playWord plays one word, consulting the cache before synthesizing. The
// default-pronunciation key is checked before the disambiguator runs, so a
// homograph that was once cached under pronunciation 0 (including the
// degraded fallback taken when disambiguation fails) replays from that entry
// without re-consulting the disambiguator until the entry expires.
func (o *WordOrchestrator) playWord(ctx context.Context, req WordRequest) error {
	// Default key first: a non-homograph or a previously degraded
	// pronunciation hits without any network round trip.
	key := audiocache.BuildCacheKey(req.Word, req.WordIndex, req.WordCount, 0)
	emotion := EmotionForSentenceType(key.SentenceType)

	if played, err := o.playFromCache(ctx, key); err != nil {
		return err
	} else if played {
		return nil
	}

	pron := o.resolvePronunciation(ctx, req)
	if pron.PronunciationIndex != 0 {
		key = audiocache.BuildCacheKey(req.Word, req.WordIndex, req.WordCount, pron.PronunciationIndex)
		if played, err := o.playFromCache(ctx, key); err != nil {
			return err
		} else if played {
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	result, err := o.synth.Synthesize(ctx, Request{
		Text:      buildSynthesisText(req.Word, pron.Phonemes, emotion),
		VoiceID:   req.VoiceID,
		ContextID: uuid.NewString(),
	})
	if err != nil {
		return err
	}

	pcm := bytes.Join(result.Chunks, nil)
	durationMs := audio.PCMDuration(len(pcm), audio.DefaultFormat()).Milliseconds()

	if err := o.play(ctx, pcm); err != nil {
		return err
	}

	if _, err := o.cache.Set(key, result.Chunks, durationMs); err != nil {
		// Playback already succeeded; a failed write-back only costs a
		// future network call.
		o.logger.Warn("word cache write-back failed", "key", key.String(), "err", err)
	}
	return nil
}

// playFromCache plays the cached audio for key if present. Reports whether
// playback happened.
func (o *WordOrchestrator) playFromCache(ctx context.Context, key audiocache.CacheKey) (bool, error) {
	entry, err := o.cache.Get(key)
	if errors.Is(err, audiocache.ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pcm, err := o.cache.ReadAudio(entry)
	if errors.Is(err, audiocache.ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	o.logger.Debug("word cache hit", "key", key.String())
	return true, o.play(ctx, pcm)
}

// resolvePronunciation asks the disambiguator for homographs and falls back
// to pronunciation index 0 on any failure. A mispronounced word beats
// silence.
func (o *WordOrchestrator) resolvePronunciation(ctx context.Context, req WordRequest) Pronunciation {
	if _, ok := LookupHomograph(req.Word); !ok {
		return Pronunciation{Word: req.Word}
	}
	if o.disamb == nil {
		return DefaultPronunciation(req.Word)
	}

	occurrence := req.Occurrence
	if occurrence < 1 {
		occurrence = 1
	}
	pron, err := o.disamb.Disambiguate(ctx, req.Word, req.Sentence, occurrence)
	if err != nil {
		o.logger.Warn("disambiguation failed, using default pronunciation",
			"word", req.Word, "err", err)
		return DefaultPronunciation(req.Word)
	}
	return pron
}

// play frames the PCM as WAV and starts playback, then reports the start to
// the registered listener via FIFO context matching.
func (o *WordOrchestrator) play(ctx context.Context, pcm []byte) error {
	clip := &audio.Clip{
		Data:     audio.WAVFromPCM(pcm, audio.DefaultFormat()),
		Duration: audio.PCMDuration(len(pcm), audio.DefaultFormat()),
	}

	contextID := uuid.NewString()
	o.pending.Push(contextID)

	if err := o.player.Play(ctx, clip); err != nil {
		o.pending.Drop(contextID)
		return fmt.Errorf("play word audio: %w", err)
	}

	started := o.pending.Pop()
	o.mu.Lock()
	fn := o.onStarted
	o.mu.Unlock()
	if fn != nil && started != "" {
		fn(started)
	}
	return nil
}

// Stop cancels any in-flight word and resets the loading state. Idempotent:
// stopping with nothing pending is a no-op that still resets the index.
func (o *WordOrchestrator) Stop() error {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.loadingIndex = -1
	o.mu.Unlock()

	return o.player.Stop()
}
