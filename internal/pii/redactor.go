// Package pii detects and redacts personally identifiable information in
// free text before it can reach logs or durable storage. Detection is
// pure and deterministic: no state, no I/O, never an error.
package pii

// Type identifies a PII category.
type Type int

const (
	TypeUnspecified Type = iota
	TypeCPF              // Brazilian national ID
	TypePhone
	TypeEmail
	TypeGovID // RG
	TypeHealthCard
	TypeBirthDate
	TypeCreditCard
	TypeAddress
	TypeFullName
)

// String returns the lowercase category name.
func (t Type) String() string {
	switch t {
	case TypeCPF:
		return "cpf"
	case TypePhone:
		return "phone"
	case TypeEmail:
		return "email"
	case TypeGovID:
		return "gov_id"
	case TypeHealthCard:
		return "health_card"
	case TypeBirthDate:
		return "birth_date"
	case TypeCreditCard:
		return "credit_card"
	case TypeAddress:
		return "address"
	case TypeFullName:
		return "full_name"
	default:
		return "unspecified"
	}
}

// Position records a single redacted span. Offsets refer to the text as
// the matcher saw it, i.e. after earlier categories were already
// substituted. RawValue must never leave the detection call stack.
type Position struct {
	Type        Type
	Start       int
	End         int
	RawValue    string
	Replacement string
}

// DetectionResult is the outcome of a single Detect call.
type DetectionResult struct {
	HasPII        bool
	Types         []Type
	Positions     []Position
	SanitizedText string
}

// Detect scans text against every PII matcher in order and returns the
// positions found plus the fully sanitized text. Checksum-bearing
// categories (CPF, CNS) are validated and discarded on failure, so
// ordinary numeric strings are not over-redacted. Idempotent: running
// Detect on SanitizedText finds nothing, since replacement tokens match
// no pattern.
func Detect(text string) DetectionResult {
	result := DetectionResult{SanitizedText: text}
	seen := make(map[Type]bool)

	for _, m := range matchers {
		working := result.SanitizedText
		idxs := m.re.FindAllStringSubmatchIndex(working, -1)
		if len(idxs) == 0 {
			continue
		}

		var spans [][2]int
		for _, loc := range idxs {
			start, end := loc[2*m.group], loc[2*m.group+1]
			if start < 0 {
				continue
			}
			raw := working[start:end]
			if m.validate != nil && !m.validate(raw) {
				continue
			}
			spans = append(spans, [2]int{start, end})
			result.Positions = append(result.Positions, Position{
				Type:        m.kind,
				Start:       start,
				End:         end,
				RawValue:    raw,
				Replacement: m.replacement,
			})
		}

		// Substitute back-to-front so earlier offsets stay valid.
		for i := len(spans) - 1; i >= 0; i-- {
			start, end := spans[i][0], spans[i][1]
			result.SanitizedText = result.SanitizedText[:start] + m.replacement + result.SanitizedText[end:]
		}

		if len(spans) > 0 && !seen[m.kind] {
			seen[m.kind] = true
			result.Types = append(result.Types, m.kind)
		}
	}

	result.HasPII = len(result.Positions) > 0
	return result
}

// Sanitize returns the redacted form of text, discarding match detail.
func Sanitize(text string) string {
	return Detect(text).SanitizedText
}

// IsSafeToStore reports whether text contains no detectable PII.
func IsSafeToStore(text string) bool {
	return !Detect(text).HasPII
}
