package policy

import "regexp"

// rule is one data-driven content rule: pattern, severity, message.
// Keeping the rule tables as data lets each rule be unit-tested on its
// own and tuned without touching detector code.
type rule struct {
	kind        Kind
	re          *regexp.Regexp
	severity    Severity
	description string
}

var spamKeywords = []string{
	"ganhe dinheiro",
	"renda extra garantida",
	"clique aqui",
	"clique no link",
	"trabalhe em casa e ganhe",
	"oferta exclusiva só hoje",
	"você foi sorteada",
	"prêmio garantido",
}

var commercialKeywords = []string{
	"compre já",
	"compre agora",
	"promoção imperdível",
	"desconto especial",
	"cupom de desconto",
	"frete grátis",
	"venda direta",
	"revendedora",
	"catálogo de produtos",
}

var urlRe = regexp.MustCompile(`https?://[^\s]+|\bwww\.[^\s]+`)

var hateRules = []rule{
	{KindHateSpeech, regexp.MustCompile(`(?i)\b(odeio|detesto)\s+(todas?|todos?)\s+(as|os)\s+\w+`), SeverityHigh, "generalização hostil contra um grupo"},
	{KindHateSpeech, regexp.MustCompile(`(?i)\b(raça|gente|povo)\s+(inferior|nojent[ao]|imund[ao])\b`), SeverityCritical, "discurso de ódio"},
	{KindHateSpeech, regexp.MustCompile(`(?i)\bvolta\s+pro\s+(teu|seu)\s+país\b`), SeverityCritical, "hostilidade xenofóbica"},
	{KindHateSpeech, regexp.MustCompile(`(?i)\bnão\s+merece[m]?\s+viver\b`), SeverityCritical, "desumanização"},
}

var harassmentRules = []rule{
	{KindHarassment, regexp.MustCompile(`(?i)\bsua\s+(burra|idiota|imbecil|vagabunda|inútil)\b`), SeverityHigh, "insulto direcionado"},
	{KindHarassment, regexp.MustCompile(`(?i)\bvou\s+te\s+(achar|encontrar|pegar|destruir)\b`), SeverityCritical, "ameaça direta"},
	{KindHarassment, regexp.MustCompile(`(?i)\bvocê\s+(merece|deveria)\s+(sofrer|apanhar|morrer)\b`), SeverityCritical, "incitação de dano"},
	{KindHarassment, regexp.MustCompile(`(?i)\bcala\s+a\s+boca\s+sua\b`), SeverityMedium, "hostilidade verbal"},
}

var inappropriateRules = []rule{
	{KindInappropriate, regexp.MustCompile(`(?i)\b(vend[oa]|compr[oa])\s+(remédio|medicamento)\s+sem\s+receita\b`), SeverityHigh, "comércio irregular de medicamentos"},
	{KindInappropriate, regexp.MustCompile(`(?i)\bfoto[s]?\s+(íntima|nua|sem\s+roupa)\b`), SeverityHigh, "conteúdo sexual não permitido"},
	{KindInappropriate, regexp.MustCompile(`(?i)\b(manda|envia)\s+nudes?\b`), SeverityHigh, "solicitação de conteúdo sexual"},
	{KindInappropriate, regexp.MustCompile(`(?i)\breceita\s+de\s+(chá|remédio)\s+abortivo\b`), SeverityHigh, "orientação médica perigosa"},
	{KindInappropriate, regexp.MustCompile(`(?i)\b(seio|peito|mamilo|vagina)\b`), SeverityLow, "possível conteúdo sensível"},
}

// medicalAllowList holds clinical/anatomical terms that are routine in a
// perinatal support context. Their presence marks a message as likely
// legitimate health discussion, softening keyword-only hits from the
// inappropriate-content table.
var medicalAllowList = []string{
	"amamentação",
	"amamentar",
	"aleitamento",
	"mamilo",
	"mastite",
	"parto",
	"cesárea",
	"cesariana",
	"episiotomia",
	"lóquios",
	"puerpério",
	"pós-parto",
	"útero",
	"cólica",
	"sangramento",
	"obstetra",
	"pediatra",
	"gestação",
	"pré-natal",
}

// kindSuggestions maps each violation kind to a fixed coaching string
// shown to the user instead of a raw error.
var kindSuggestions = map[Kind]string{
	KindSpam:          "Evite mensagens repetidas ou com aparência de divulgação — conte com suas palavras o que está acontecendo.",
	KindCommercial:    "Este é um espaço de apoio, não de vendas. Links e ofertas comerciais não são permitidos.",
	KindHateSpeech:    "Aqui acolhemos todas as mães. Mensagens hostis contra grupos não são toleradas.",
	KindHarassment:    "Vamos manter a conversa respeitosa. Ataques e ameaças não são permitidos.",
	KindInappropriate: "Esse conteúdo não é adequado para este espaço. Se for uma dúvida de saúde, tente descrevê-la com mais contexto.",
}
