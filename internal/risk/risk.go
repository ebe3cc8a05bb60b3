// Package risk scans messages for psychological and physical crisis
// signals and grades how the conversation should escalate. Analysis is
// pure and never errors: an elevated result is a classification for the
// caller to act on, not a failure.
package risk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SignalType classifies a crisis signal.
type SignalType int

const (
	SignalUnspecified SignalType = iota
	SignalSelfHarm
	SignalSuicideIdeation
	SignalPanicAttack
	SignalSevereDepression
	SignalPostpartumPsychosis
	SignalAbuseReport
)

// String returns the lowercase signal name.
func (s SignalType) String() string {
	switch s {
	case SignalSelfHarm:
		return "self_harm"
	case SignalSuicideIdeation:
		return "suicide_ideation"
	case SignalPanicAttack:
		return "panic_attack"
	case SignalSevereDepression:
		return "severe_depression"
	case SignalPostpartumPsychosis:
		return "postpartum_psychosis"
	case SignalAbuseReport:
		return "abuse_report"
	default:
		return "unspecified"
	}
}

// Level grades the overall risk of a message.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "none"
	}
}

// Urgency grades how fast a human must see the conversation.
type Urgency int

const (
	UrgencyRoutine Urgency = iota
	UrgencyElevated
	UrgencyUrgent
	UrgencyEmergency
)

// String returns the lowercase urgency name.
func (u Urgency) String() string {
	switch u {
	case UrgencyElevated:
		return "elevated"
	case UrgencyUrgent:
		return "urgent"
	case UrgencyEmergency:
		return "emergency"
	default:
		return "routine"
	}
}

// Action is the recommended operational response.
type Action int

const (
	ActionNone Action = iota
	ActionMonitor
	ActionFlagForReview
	ActionEscalateToModerator
	ActionEmergencyContact
)

// String returns the lowercase action name.
func (a Action) String() string {
	switch a {
	case ActionMonitor:
		return "monitor"
	case ActionFlagForReview:
		return "flag_for_review"
	case ActionEscalateToModerator:
		return "escalate_to_moderator"
	case ActionEmergencyContact:
		return "emergency_contact"
	default:
		return "none"
	}
}

// Signal is one fired crisis indicator. Confidence is advisory — it
// describes keyword specificity for a human reviewer and never feeds
// the numeric score.
type Signal struct {
	Type       SignalType
	Indicator  string
	Confidence float64
	Context    string
}

// Analysis is the outcome of an Analyze call.
type Analysis struct {
	Level             Level
	Score             int // 0–100
	Signals           []Signal
	Urgency           Urgency
	RecommendedAction Action
	NeedsHumanReview  bool
}

// Thresholds is the monotonic score ladder mapping score to Level.
// A score below Low is LevelNone; at or above Critical is LevelCritical.
type Thresholds struct {
	Low      int
	Medium   int
	High     int
	Critical int
}

// Config carries the tunable policy numbers: per-signal score weights
// and the level ladder. The shape is fixed; the literal numbers are a
// product decision.
type Config struct {
	Weights    map[SignalType]int
	Thresholds Thresholds
}

// DefaultConfig returns the weights and ladder tuned for the perinatal
// support product. Suicide ideation and postpartum psychosis carry the
// largest weights.
func DefaultConfig() Config {
	return Config{
		Weights: map[SignalType]int{
			SignalSelfHarm:            30,
			SignalSuicideIdeation:     45,
			SignalPanicAttack:         15,
			SignalSevereDepression:    20,
			SignalPostpartumPsychosis: 45,
			SignalAbuseReport:         35,
		},
		Thresholds: Thresholds{Low: 20, Medium: 40, High: 60, Critical: 80},
	}
}

// Validate checks that the ladder is monotonic and every signal has a
// positive weight.
func (c Config) Validate() error {
	t := c.Thresholds
	if !(0 < t.Low && t.Low < t.Medium && t.Medium < t.High && t.High < t.Critical && t.Critical <= 100) {
		return fmt.Errorf("risk thresholds must be strictly increasing within (0,100]: %+v", t)
	}
	for _, st := range allSignalTypes {
		if c.Weights[st] <= 0 {
			return fmt.Errorf("missing or non-positive weight for signal %s", st)
		}
	}
	return nil
}

var allSignalTypes = []SignalType{
	SignalSelfHarm,
	SignalSuicideIdeation,
	SignalPanicAttack,
	SignalSevereDepression,
	SignalPostpartumPsychosis,
	SignalAbuseReport,
}

// Detector runs the crisis signal tables. Stateless after construction,
// safe for unbounded concurrent use.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector with the given config. Panics on an
// invalid config — this is a construction-time programming error, not a
// runtime condition.
func NewDetector(cfg Config) *Detector {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &Detector{cfg: cfg}
}

// Analyze scans the lower-cased text against every signal definition.
// Panic-attack and severe-depression signals require at least two
// distinct keyword hits (single symptom mentions are too noisy); the
// remaining signals fire on one hit because a false negative there is
// unacceptable.
func (d *Detector) Analyze(text string) Analysis {
	lower := strings.ToLower(text)

	var signals []Signal
	fired := make(map[SignalType]bool)
	score := 0

	for _, def := range signalDefs {
		var hits []string
		for _, kw := range def.keywords {
			if strings.Contains(lower, kw) {
				hits = append(hits, kw)
			}
		}
		if len(hits) < def.minHits {
			continue
		}
		fired[def.kind] = true
		score += d.cfg.Weights[def.kind]
		for _, kw := range hits {
			signals = append(signals, Signal{
				Type:       def.kind,
				Indicator:  kw,
				Confidence: def.confidence,
				Context:    snippetAround(lower, kw),
			})
		}
	}

	if score > 100 {
		score = 100
	}

	level := d.levelFor(score)
	urgency := urgencyFor(level, fired)
	action := RecommendedAction(level, urgency)

	return Analysis{
		Level:             level,
		Score:             score,
		Signals:           signals,
		Urgency:           urgency,
		RecommendedAction: action,
		NeedsHumanReview:  level >= LevelHigh || urgency >= UrgencyUrgent,
	}
}

// levelFor maps a clamped score onto the configured ladder.
func (d *Detector) levelFor(score int) Level {
	t := d.cfg.Thresholds
	switch {
	case score >= t.Critical:
		return LevelCritical
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	case score >= t.Low:
		return LevelLow
	default:
		return LevelNone
	}
}

// urgencyFor escalates independently of the numeric score: suicide
// ideation or postpartum psychosis forces Emergency outright; self-harm
// or an abuse report forces at least Urgent; otherwise urgency tracks
// the level.
func urgencyFor(level Level, fired map[SignalType]bool) Urgency {
	if fired[SignalSuicideIdeation] || fired[SignalPostpartumPsychosis] {
		return UrgencyEmergency
	}

	base := UrgencyRoutine
	switch level {
	case LevelCritical:
		base = UrgencyEmergency
	case LevelHigh:
		base = UrgencyUrgent
	case LevelMedium:
		base = UrgencyElevated
	}

	if (fired[SignalSelfHarm] || fired[SignalAbuseReport]) && base < UrgencyUrgent {
		return UrgencyUrgent
	}
	return base
}

// RecommendedAction is a pure function of (level, urgency) applying the
// priority order Emergency > Urgent > High > Medium > else.
func RecommendedAction(level Level, urgency Urgency) Action {
	switch {
	case urgency == UrgencyEmergency:
		return ActionEmergencyContact
	case urgency == UrgencyUrgent:
		return ActionEscalateToModerator
	case level >= LevelHigh:
		return ActionFlagForReview
	case level >= LevelMedium:
		return ActionMonitor
	default:
		return ActionNone
	}
}

// snippetAround returns a short window of text around the first
// occurrence of the keyword, for reviewer context. Never splits a
// multi-byte rune.
func snippetAround(text, keyword string) string {
	idx := strings.Index(text, keyword)
	if idx < 0 {
		return ""
	}
	start := idx
	for i := 0; i < snippetRunes && start > 0; i++ {
		start--
		for start > 0 && !utf8.RuneStart(text[start]) {
			start--
		}
	}
	end := idx + len(keyword)
	for i := 0; i < snippetRunes && end < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return text[start:end]
}

const snippetRunes = 20
