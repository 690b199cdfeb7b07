// Package abuse implements the per-address abuse score and the graduated
// consequences it drives. Spam, profanity and reports are the three
// contributors to a single score; clean messages decay it.
package abuse

import (
	"sort"
	"sync"
	"time"

	"github.com/whisper/pairing/internal/ban"
)

// Kind names a score contributor.
type Kind string

const (
	KindSpam      Kind = "spam"
	KindProfanity Kind = "profanity"
	KindReport    Kind = "report"
)

// Action is the consequence selected by the score band.
type Action int

const (
	ActionNone Action = iota
	ActionWarn
	ActionKick
	ActionBan
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "warn"
	case ActionKick:
		return "kick"
	case ActionBan:
		return "ban"
	default:
		return "none"
	}
}

// Policy holds the tunable penalties and band thresholds. Bands must satisfy
// 0 < WarnAt < KickAt <= BanAt.
type Policy struct {
	SpamPenalty      int
	ProfanityPenalty int
	ReportPenalty    int
	CleanDecay       int

	WarnAt int
	KickAt int
	BanAt  int
}

// DefaultPolicy returns the production penalties. Two reports against an
// address stay in the warning band; the third crosses the ban threshold.
func DefaultPolicy() Policy {
	return Policy{
		SpamPenalty:      10,
		ProfanityPenalty: 25,
		ReportPenalty:    35,
		CleanDecay:       1,
		WarnAt:           30,
		KickAt:           80,
		BanAt:            100,
	}
}

// Valid reports whether the three bands are strictly increasing and the
// penalties positive.
func (p Policy) Valid() bool {
	return p.WarnAt > 0 && p.WarnAt < p.KickAt && p.KickAt < p.BanAt &&
		p.SpamPenalty > 0 && p.ProfanityPenalty > 0 && p.ReportPenalty > 0 &&
		p.CleanDecay >= 0
}

// Band maps a score to its action.
func (p Policy) Band(score int) Action {
	switch {
	case score >= p.BanAt:
		return ActionBan
	case score >= p.KickAt:
		return ActionKick
	case score >= p.WarnAt:
		return ActionWarn
	default:
		return ActionNone
	}
}

func (p Policy) penalty(k Kind) int {
	switch k {
	case KindSpam:
		return p.SpamPenalty
	case KindProfanity:
		return p.ProfanityPenalty
	case KindReport:
		return p.ReportPenalty
	}
	return 0
}

// Verdict is the outcome of one violation.
type Verdict struct {
	Kind   Kind
	Score  int           // score after the penalty (0 after a ban)
	Action Action        // consequence for the band the score landed in
	BanFor time.Duration // set when Action is ActionBan
}

// Entry is an observability snapshot of one address.
type Entry struct {
	Address string `json:"address"`
	Score   int    `json:"score"`
	Bans    int    `json:"bans"`
}

type record struct {
	score int
	bans  int
}

// Engine accumulates scores per network address. Scores outlive the
// connections that earned them. It is safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	policy  Policy
	records map[string]*record
}

// NewEngine creates an engine. An invalid policy is replaced by the default.
func NewEngine(policy Policy) *Engine {
	if !policy.Valid() {
		policy = DefaultPolicy()
	}
	return &Engine{
		policy:  policy,
		records: make(map[string]*record),
	}
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Report records a report filed against address. Callers must pass the
// reported partner's address, never the reporter's.
func (e *Engine) Report(address string) Verdict {
	return e.apply(address, KindReport)
}

// Violation applies the penalty for a rejected message of kind k: KindSpam
// for the interval gate and spam patterns, KindProfanity for denylist hits.
func (e *Engine) Violation(address string, k Kind) Verdict {
	return e.apply(address, k)
}

// apply adds the penalty and evaluates the band inside one critical section
// so that no penalty can miss a threshold crossing.
func (e *Engine) apply(address string, k Kind) Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.records[address]
	if rec == nil {
		rec = &record{}
		e.records[address] = rec
	}
	rec.score += e.policy.penalty(k)

	v := Verdict{Kind: k, Score: rec.score, Action: e.policy.Band(rec.score)}
	if v.Action == ActionBan {
		v.BanFor = ban.EscalationDuration(rec.bans)
		rec.bans++
		rec.score = 0
		v.Score = 0
	}
	return v
}

// Clean decays the score for a relayed message, floored at zero.
func (e *Engine) Clean(address string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.records[address]
	if rec == nil {
		return 0
	}
	rec.score -= e.policy.CleanDecay
	if rec.score < 0 {
		rec.score = 0
	}
	if rec.score == 0 && rec.bans == 0 {
		delete(e.records, address)
	}
	return rec.score
}

// Score returns the current score for address.
func (e *Engine) Score(address string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec := e.records[address]; rec != nil {
		return rec.score
	}
	return 0
}

// Forget drops all state for address, including its ban history.
func (e *Engine) Forget(address string) {
	e.mu.Lock()
	delete(e.records, address)
	e.mu.Unlock()
}

// Snapshot returns every tracked address ordered by descending score.
func (e *Engine) Snapshot() []Entry {
	e.mu.Lock()
	out := make([]Entry, 0, len(e.records))
	for addr, rec := range e.records {
		out = append(out, Entry{Address: addr, Score: rec.score, Bans: rec.bans})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Address < out[j].Address
	})
	return out
}
