package risk

// signalDef is one data-driven crisis signal definition. minHits is the
// number of distinct keywords that must appear before the signal fires.
// Confidence is fixed per table and advisory only.
type signalDef struct {
	kind       SignalType
	minHits    int
	confidence float64
	keywords   []string
}

var signalDefs = []signalDef{
	{
		kind:       SignalSuicideIdeation,
		minHits:    1,
		confidence: 0.9,
		keywords: []string{
			"quero morrer",
			"quero desaparecer",
			"não aguento mais",
			"acabar com tudo",
			"tirar minha vida",
			"sumir de vez",
			"melhor sem mim",
			"não quero mais viver",
		},
	},
	{
		kind:       SignalPostpartumPsychosis,
		minHits:    1,
		confidence: 0.85,
		keywords: []string{
			"ouço vozes",
			"vozes mandando",
			"o bebê não é meu",
			"esse bebê não é meu filho",
			"machucar o bebê",
			"fazer mal ao bebê",
			"trocaram meu bebê",
		},
	},
	{
		kind:       SignalSelfHarm,
		minHits:    1,
		confidence: 0.85,
		keywords: []string{
			"me machucar",
			"me cortar",
			"me cortei",
			"me ferir",
			"automutilação",
			"me bater de propósito",
		},
	},
	{
		kind:       SignalAbuseReport,
		minHits:    1,
		confidence: 0.8,
		keywords: []string{
			"ele me bate",
			"ele me bateu",
			"me agrediu",
			"apanhei dele",
			"me ameaça",
			"violência em casa",
			"tenho medo dele",
			"me trancou",
		},
	},
	{
		kind:       SignalPanicAttack,
		minHits:    2,
		confidence: 0.6,
		keywords: []string{
			"coração acelerado",
			"coração disparado",
			"falta de ar",
			"não consigo respirar",
			"tremendo muito",
			"crise de pânico",
			"sensação de morte",
			"sufocada",
		},
	},
	{
		kind:       SignalSevereDepression,
		minHits:    2,
		confidence: 0.6,
		keywords: []string{
			"não sinto nada",
			"vazio por dentro",
			"sem esperança",
			"não saio da cama",
			"chorando o dia todo",
			"choro o dia inteiro",
			"sem forças pra nada",
			"nada faz sentido",
		},
	},
}
