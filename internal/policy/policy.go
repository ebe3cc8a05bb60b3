// Package policy validates inbound messages against community content
// rules. Validation is pure: it never errors and never touches I/O —
// a violation is a successful classification, not a failure.
package policy

import (
	"strings"
	"unicode"
)

// Kind classifies a content violation.
type Kind int

const (
	KindUnspecified Kind = iota
	KindSpam
	KindCommercial
	KindHateSpeech
	KindHarassment
	KindInappropriate
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindSpam:
		return "spam"
	case KindCommercial:
		return "commercial"
	case KindHateSpeech:
		return "hate_speech"
	case KindHarassment:
		return "harassment"
	case KindInappropriate:
		return "inappropriate"
	default:
		return "unspecified"
	}
}

// Severity grades how serious a violation is.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unspecified"
	}
}

// severityConfidence maps severity to the decision confidence it implies.
var severityConfidence = map[Severity]float64{
	SeverityLow:      0.3,
	SeverityMedium:   0.6,
	SeverityHigh:     0.9,
	SeverityCritical: 1.0,
}

// Violation is a single rule hit.
type Violation struct {
	Kind        Kind
	Severity    Severity
	Description string
	MatchedText string
}

// ValidationResult is the outcome of a Validate call.
// Allowed is false iff at least one violation is High or Critical.
type ValidationResult struct {
	Allowed     bool
	Confidence  float64
	Violations  []Violation
	Suggestions []string
}

// Bounds for message length validation.
const (
	MinMessageLen = 2
	MaxMessageLen = 5000
)

// historyWindow is how many recent messages the repeat check considers.
const historyWindow = 5

// Engine runs the content rule tables. Stateless and safe for
// unbounded concurrent use.
type Engine struct{}

// NewEngine creates a content policy engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Validate runs every detector against the raw text. history carries the
// user's recent messages (newest last) and feeds only the repeat check;
// it may be nil.
func (e *Engine) Validate(text string, history []string) ValidationResult {
	var violations []Violation

	checks := []func() *Violation{
		func() *Violation { return checkLength(text) },
		func() *Violation { return checkSpam(text, history) },
		func() *Violation { return checkCommercial(text) },
		func() *Violation { return checkRules(text, hateRules) },
		func() *Violation { return checkRules(text, harassmentRules) },
		func() *Violation { return checkRules(text, inappropriateRules) },
	}
	for _, check := range checks {
		if v := check(); v != nil {
			violations = append(violations, *v)
		}
	}

	allowed := true
	confidence := 1.0
	if len(violations) > 0 {
		confidence = 0
		for _, v := range violations {
			if v.Severity >= SeverityHigh {
				allowed = false
			}
			if c := severityConfidence[v.Severity]; c > confidence {
				confidence = c
			}
		}
	}

	return ValidationResult{
		Allowed:     allowed,
		Confidence:  confidence,
		Violations:  violations,
		Suggestions: suggestionsFor(violations),
	}
}

// IsMedicalLanguageOnly reports whether the text reads as legitimate
// clinical/anatomical discussion: it mentions at least one allow-listed
// health term and trips no rule above Medium severity. Advisory only —
// callers may use it to soften a Low/Medium inappropriate-content
// violation before acting on it.
func (e *Engine) IsMedicalLanguageOnly(text string) bool {
	lower := strings.ToLower(text)

	hasMedical := false
	for _, term := range medicalAllowList {
		if strings.Contains(lower, term) {
			hasMedical = true
			break
		}
	}
	if !hasMedical {
		return false
	}

	for _, rules := range [][]rule{hateRules, harassmentRules, inappropriateRules} {
		for _, r := range rules {
			if r.severity >= SeverityHigh && r.re.MatchString(text) {
				return false
			}
		}
	}
	return true
}

// checkLength rejects messages outside the accepted size bounds.
func checkLength(text string) *Violation {
	runes := len([]rune(text))
	if runes < MinMessageLen {
		return &Violation{
			Kind:        KindSpam,
			Severity:    SeverityLow,
			Description: "mensagem curta demais",
		}
	}
	if runes > MaxMessageLen {
		return &Violation{
			Kind:        KindSpam,
			Severity:    SeverityMedium,
			Description: "mensagem excede o tamanho máximo",
		}
	}
	return nil
}

// checkSpam combines the spam keyword list with a caps-ratio heuristic,
// a repeated-character heuristic and an exact-repeat check against the
// user's recent history. Returns the most severe single hit.
func checkSpam(text string, history []string) *Violation {
	lower := strings.ToLower(text)

	for _, kw := range spamKeywords {
		if strings.Contains(lower, kw) {
			return &Violation{
				Kind:        KindSpam,
				Severity:    SeverityMedium,
				Description: "conteúdo com padrão de spam",
				MatchedText: kw,
			}
		}
	}

	if capsRatio(text) > 0.7 {
		return &Violation{
			Kind:        KindSpam,
			Severity:    SeverityMedium,
			Description: "uso excessivo de letras maiúsculas",
		}
	}

	if run := longestCharRun(text); run != "" {
		return &Violation{
			Kind:        KindSpam,
			Severity:    SeverityLow,
			Description: "caracteres repetidos em excesso",
			MatchedText: run,
		}
	}

	recent := history
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	trimmed := strings.TrimSpace(text)
	for _, prev := range recent {
		if strings.TrimSpace(prev) == trimmed && trimmed != "" {
			return &Violation{
				Kind:        KindSpam,
				Severity:    SeverityMedium,
				Description: "mensagem idêntica enviada recentemente",
			}
		}
	}

	return nil
}

// checkCommercial flags disallowed commercial content. A URL alongside
// sales language raises the severity to High and carries the URL as
// MatchedText.
func checkCommercial(text string) *Violation {
	lower := strings.ToLower(text)

	hasKeyword := false
	var keyword string
	for _, kw := range commercialKeywords {
		if strings.Contains(lower, kw) {
			hasKeyword = true
			keyword = kw
			break
		}
	}

	url := urlRe.FindString(text)

	switch {
	case hasKeyword && url != "":
		return &Violation{
			Kind:        KindCommercial,
			Severity:    SeverityHigh,
			Description: "divulgação comercial com link",
			MatchedText: url,
		}
	case hasKeyword:
		return &Violation{
			Kind:        KindCommercial,
			Severity:    SeverityMedium,
			Description: "conteúdo comercial não permitido",
			MatchedText: keyword,
		}
	case url != "":
		return &Violation{
			Kind:        KindCommercial,
			Severity:    SeverityLow,
			Description: "link externo na mensagem",
			MatchedText: url,
		}
	}
	return nil
}

// checkRules returns the most severe hit from a rule table, or nil.
func checkRules(text string, rules []rule) *Violation {
	var best *Violation
	for _, r := range rules {
		if m := r.re.FindString(text); m != "" {
			if best == nil || r.severity > best.Severity {
				best = &Violation{
					Kind:        r.kind,
					Severity:    r.severity,
					Description: r.description,
					MatchedText: m,
				}
			}
		}
	}
	return best
}

// repeatedRunThreshold is the immediate-repeat length that marks a
// message as keyboard-mash spam ("aaaaaaaa", "!!!!!!!!").
const repeatedRunThreshold = 6

// longestCharRun returns the first run of >= repeatedRunThreshold
// identical consecutive non-space runes, or "".
func longestCharRun(text string) string {
	runes := []rune(text)
	runStart := 0
	for i := 1; i <= len(runes); i++ {
		if i == len(runes) || runes[i] != runes[runStart] {
			if i-runStart >= repeatedRunThreshold && !unicode.IsSpace(runes[runStart]) {
				return string(runes[runStart:i])
			}
			runStart = i
		}
	}
	return ""
}

// capsRatio returns the fraction of letters that are uppercase.
// Short messages are exempt — shouting needs room to shout.
func capsRatio(text string) float64 {
	letters, upper := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 12 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// suggestionsFor maps each distinct violation kind to one fixed coaching
// string, de-duplicated in first-seen order.
func suggestionsFor(violations []Violation) []string {
	var out []string
	seen := make(map[Kind]bool)
	for _, v := range violations {
		if seen[v.Kind] {
			continue
		}
		seen[v.Kind] = true
		if s, ok := kindSuggestions[v.Kind]; ok {
			out = append(out, s)
		}
	}
	return out
}
