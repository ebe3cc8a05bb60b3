package pii

import "regexp"

// matcher binds a PII category to its pattern, replacement token and
// optional checksum validator. Matchers run in table order against the
// working text; ordering matters because earlier categories consume
// digit runs that later, looser patterns would otherwise re-match.
type matcher struct {
	kind        Type
	re          *regexp.Regexp
	group       int // submatch index to redact; 0 = whole match
	replacement string
	validate    func(raw string) bool // nil = no checksum, pattern match is enough
}

// Pre-compiled matchers for Brazilian PII formats.
var matchers = []matcher{
	// CPF: 123.456.789-09 (separators optional). Checksum-validated so
	// ordinary 11-digit strings are not over-redacted.
	{
		kind:        TypeCPF,
		re:          regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`),
		replacement: "[cpf removido]",
		validate:    validCPF,
	},

	// CNS (Cartão Nacional de Saúde): 15 digits, weighted mod-11 checksum.
	{
		kind:        TypeHealthCard,
		re:          regexp.MustCompile(`\b[1-9]\d{14}\b`),
		replacement: "[cns removido]",
		validate:    validCNS,
	},

	// Credit cards: Visa, Mastercard, Discover (4-4-4-4) and Amex (4-6-5).
	{
		kind:        TypeCreditCard,
		re:          regexp.MustCompile(`\b(?:4\d{3}|5[1-5]\d{2}|6011)(?:[-\s]?\d{4}){3}\b|\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`),
		replacement: "[cartão removido]",
	},

	// Phones: (11) 98765-4321, 11 98765-4321, +55 11 98765-4321, 98765-4321.
	{
		kind:        TypePhone,
		re:          regexp.MustCompile(`(?:\+55[\s.-]?)?(?:\(\d{2}\)\s?|\b\d{2}[\s.-])?9?\d{4}[-.\s]\d{4}\b`),
		replacement: "[telefone removido]",
	},

	// Email addresses.
	{
		kind:        TypeEmail,
		re:          regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
		replacement: "[e-mail removido]",
	},

	// RG: context-anchored to avoid swallowing arbitrary digit groups.
	{
		kind:        TypeGovID,
		re:          regexp.MustCompile(`(?i)\brg[:.\s]*\s(\d{1,2}\.?\d{3}\.?\d{3}-?[0-9xX])\b`),
		group:       1,
		replacement: "[rg removido]",
	},

	// Birth dates: dd/mm/yyyy.
	{
		kind:        TypeBirthDate,
		re:          regexp.MustCompile(`\b\d{2}/\d{2}/(?:19|20)\d{2}\b`),
		replacement: "[data removida]",
	},

	// Street addresses: logradouro keyword + name + number.
	{
		kind:        TypeAddress,
		re:          regexp.MustCompile(`(?i)\b(?:rua|avenida|av\.|travessa|alameda|rodovia|estrada)\s+[^\d,\n]{3,60},?\s*(?:n[º°o.]?\s*)?\d+`),
		replacement: "[endereço removido]",
	},

	// Full names: only when self-introduced, to keep precision high.
	{
		kind:        TypeFullName,
		re:          regexp.MustCompile(`(?i)\b(meu nome é|me chamo|aqui é a|aqui é o)\s+([A-ZÀ-Ú][a-zà-úçãõâêôéíóá]+(?:\s+(?:de|da|do|dos|das|e|[A-ZÀ-Ú][a-zà-úçãõâêôéíóá]+))+)`),
		group:       2,
		replacement: "[nome removido]",
	},
}

// validCPF implements the CPF check-digit algorithm (two digits, mod 11).
// Rejects the well-known all-same-digit sequences, which pass the
// arithmetic but are never issued.
func validCPF(raw string) bool {
	digits := onlyDigits(raw)
	if len(digits) != 11 {
		return false
	}
	same := true
	for i := 1; i < 11; i++ {
		if digits[i] != digits[0] {
			same = false
			break
		}
	}
	if same {
		return false
	}

	if checkDigit(digits[:9], 10) != int(digits[9]-'0') {
		return false
	}
	return checkDigit(digits[:10], 11) == int(digits[10]-'0')
}

// checkDigit computes a CPF verification digit for the given prefix using
// descending weights starting at startWeight.
func checkDigit(digits string, startWeight int) int {
	sum := 0
	for i, c := range digits {
		sum += int(c-'0') * (startWeight - i)
	}
	rest := (sum * 10) % 11
	if rest == 10 {
		return 0
	}
	return rest
}

// validCNS validates a Cartão Nacional de Saúde number: 15 digits whose
// weighted sum (weights 15 down to 1) is divisible by 11.
func validCNS(raw string) bool {
	digits := onlyDigits(raw)
	if len(digits) != 15 {
		return false
	}
	sum := 0
	for i, c := range digits {
		sum += int(c-'0') * (15 - i)
	}
	return sum%11 == 0
}

func onlyDigits(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
