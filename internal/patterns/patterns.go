// Package patterns holds the read-only phrase and keyword corpora and the
// matchers built over them. Loaded once at startup; safe for concurrent use
// after Load.
package patterns

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/coregx/ahocorasick"
)

// Rand is the randomness source the Library draws with. *rand.Rand satisfies
// it; tests inject a seeded one.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Library is the compiled pattern library: phrase sets addressable by
// category name plus keyword automatons for topic, drug and slang detection.
type Library struct {
	sets   map[string][]string
	drugs  *ahocorasick.Automaton
	slang  *ahocorasick.Automaton
	topics map[string]*ahocorasick.Automaton
}

// Load compiles all corpora into a Library. Call once at startup.
func Load() (*Library, error) {
	l := &Library{
		sets: map[string][]string{
			SetDenial:       denialPhrases,
			SetChaotic:      chaoticPhrases,
			SetBoredom:      boredomPhrases,
			SetDefault:      defaultPhrases,
			SetGreeting:     greetingPhrases,
			SetInterruption: interruptionPhrases,
			SetSignature:    signaturePhrases,
			SetEnded:        endedPhrases,
		},
		topics: make(map[string]*ahocorasick.Automaton),
	}

	var err error
	if l.drugs, err = compileKeywords(drugKeywords); err != nil {
		return nil, fmt.Errorf("compile %s: %w", KeysDrugs, err)
	}
	if l.slang, err = compileKeywords(slangTokens); err != nil {
		return nil, fmt.Errorf("compile %s: %w", KeysSlang, err)
	}
	for topic, words := range topicKeywords {
		ac, err := compileKeywords(words)
		if err != nil {
			return nil, fmt.Errorf("compile topic %s: %w", topic, err)
		}
		l.topics[topic] = ac
	}
	return l, nil
}

func compileKeywords(words []string) (*ahocorasick.Automaton, error) {
	return ahocorasick.NewBuilder().
		AddStrings(words).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
}

// Pick returns a uniformly drawn phrase from the named set. Unknown or empty
// sets fall back to the default set, which is never empty.
func (l *Library) Pick(set string, rng Rand) string {
	phrases := l.sets[set]
	if len(phrases) == 0 {
		phrases = l.sets[SetDefault]
	}
	return phrases[rng.Intn(len(phrases))]
}

// Contains reports whether text is a member of the named set.
func (l *Library) Contains(set, text string) bool {
	for _, p := range l.sets[set] {
		if p == text {
			return true
		}
	}
	return false
}

// HasDrugReference reports whether the message matches the drug keyword set.
func (l *Library) HasDrugReference(message string) bool {
	return matchAny(l.drugs, message)
}

// HasSlang reports whether the text contains a recognized slang token.
func (l *Library) HasSlang(text string) bool {
	return matchAny(l.slang, text)
}

// IsDenial reports whether the reply belongs to the denial corpus, either by
// membership or by containing its signature marker.
func (l *Library) IsDenial(reply string) bool {
	if l.Contains(SetDenial, reply) {
		return true
	}
	return strings.Contains(strings.ToLower(reply), "wietje")
}

// Topics returns all topic names whose keyword set matches the message,
// sorted, so the first entry is a stable dominant topic.
func (l *Library) Topics(message string) []string {
	var out []string
	for topic, ac := range l.topics {
		if matchAny(ac, message) {
			out = append(out, topic)
		}
	}
	sort.Strings(out)
	return out
}

// Signature optionally prefixes reply with a signature phrase. chance is the
// per-call probability; the phrase is skipped if already present.
func (l *Library) Signature(reply string, chance float64, rng Rand) string {
	if rng.Float64() >= chance {
		return reply
	}
	sig := l.Pick(SetSignature, rng)
	if strings.Contains(reply, sig) {
		return reply
	}
	return sig + " " + reply
}

func matchAny(ac *ahocorasick.Automaton, text string) bool {
	if ac == nil || text == "" {
		return false
	}
	return len(ac.FindAllOverlapping([]byte(strings.ToLower(text)))) > 0
}

// NewRand returns a rand.Rand seeded with seed, for deterministic selection
// in tests and jitter in production (seed with time).
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
