package pii

import (
	"strings"
	"testing"
)

func TestDetect_Phone(t *testing.T) {
	result := Detect("Meu telefone é (11) 98765-4321, me chama")

	if !result.HasPII {
		t.Fatal("expected HasPII=true")
	}
	if !hasType(result.Types, TypePhone) {
		t.Errorf("expected phone type, got %v", result.Types)
	}
	if !strings.Contains(result.SanitizedText, "[telefone removido]") {
		t.Errorf("sanitized text missing replacement token: %q", result.SanitizedText)
	}
	if strings.Contains(result.SanitizedText, "98765") || strings.Contains(result.SanitizedText, "4321") {
		t.Errorf("sanitized text still contains phone digits: %q", result.SanitizedText)
	}
}

func TestDetect_TruePositives(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  Type
		token string
	}{
		{"CPF with separators", "Meu CPF é 529.982.247-25", TypeCPF, "[cpf removido]"},
		{"CPF bare digits", "cpf 52998224725 ok?", TypeCPF, "[cpf removido]"},
		{"email", "me escreve em maria.souza@gmail.com", TypeEmail, "[e-mail removido]"},
		{"phone with country code", "liga +55 11 98765-4321", TypePhone, "[telefone removido]"},
		{"phone bare", "meu número: 98765-4321", TypePhone, "[telefone removido]"},
		{"visa card", "cartão 4111-1111-1111-1111", TypeCreditCard, "[cartão removido]"},
		{"amex card", "3782 822463 10005", TypeCreditCard, "[cartão removido]"},
		{"RG anchored", "meu RG: 12.345.678-9", TypeGovID, "[rg removido]"},
		{"birth date", "nasci em 15/03/1992", TypeBirthDate, "[data removida]"},
		{"address", "moro na Rua das Flores, 123", TypeAddress, "[endereço removido]"},
		{"full name", "meu nome é Maria da Silva", TypeFullName, "[nome removido]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Detect(tt.text)
			if !result.HasPII {
				t.Fatalf("expected HasPII=true for %q", tt.text)
			}
			if !hasType(result.Types, tt.want) {
				t.Errorf("expected type %s, got %v", tt.want, result.Types)
			}
			if !strings.Contains(result.SanitizedText, tt.token) {
				t.Errorf("sanitized %q missing token %q", result.SanitizedText, tt.token)
			}
		})
	}
}

func TestDetect_ChecksumRejectsInvalidCPF(t *testing.T) {
	// Syntactically CPF-shaped but the check digits are wrong.
	invalid := []string{
		"123.456.789-00",
		"111.111.111-11", // all-same-digit, arithmetically valid but never issued
		"529.982.247-24", // last digit off by one
	}

	for _, text := range invalid {
		result := Detect(text)
		if hasType(result.Types, TypeCPF) {
			t.Errorf("checksum-invalid CPF %q was flagged", text)
		}
	}
}

func TestDetect_TrueNegatives(t *testing.T) {
	safe := []string{
		"O bebê mamou bem hoje de manhã",
		"consulta marcada para semana que vem",
		"tomei 2 litros de água",
		"pedido #12345",
	}

	for _, text := range safe {
		result := Detect(text)
		if result.HasPII {
			t.Errorf("false positive on %q: %v", text, result.Types)
		}
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	texts := []string{
		"Meu telefone é (11) 98765-4321 e email maria@example.com",
		"CPF 529.982.247-25, moro na Avenida Paulista, 1000",
		"sem nenhum dado pessoal aqui",
	}

	for _, text := range texts {
		once := Sanitize(text)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("sanitize not idempotent:\n once: %q\ntwice: %q", once, twice)
		}
	}
}

func TestIsSafeToStore(t *testing.T) {
	if IsSafeToStore("meu email é ana@test.com") {
		t.Error("expected unsafe for text with email")
	}
	if !IsSafeToStore("hoje o dia foi tranquilo") {
		t.Error("expected safe for plain text")
	}
}

func TestRedactStructured(t *testing.T) {
	in := map[string]any{
		"message": "liga (11) 98765-4321",
		"count":   3,
		"nested": map[string]any{
			"email": "contato: ana@test.com",
		},
		"list": []any{"CPF 529.982.247-25", 42},
	}

	out, ok := RedactStructured(in).(map[string]any)
	if !ok {
		t.Fatal("expected map[string]any back")
	}
	if strings.Contains(out["message"].(string), "98765") {
		t.Errorf("phone survived redaction: %v", out["message"])
	}
	if out["count"].(int) != 3 {
		t.Error("non-string scalar was altered")
	}
	nested := out["nested"].(map[string]any)
	if strings.Contains(nested["email"].(string), "@") {
		t.Errorf("email survived nested redaction: %v", nested["email"])
	}
	list := out["list"].([]any)
	if strings.Contains(list[0].(string), "529") {
		t.Errorf("cpf survived list redaction: %v", list[0])
	}
	if list[1].(int) != 42 {
		t.Error("non-string list element was altered")
	}
}

func hasType(types []Type, want Type) bool {
	for _, tp := range types {
		if tp == want {
			return true
		}
	}
	return false
}
