package risk

import (
	"strings"
	"testing"
)

func TestAnalyze_SuicideIdeationScenario(t *testing.T) {
	d := NewDetector(DefaultConfig())

	a := d.Analyze("não aguento mais, quero desaparecer")

	found := false
	for _, s := range a.Signals {
		if s.Type == SignalSuicideIdeation {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected suicide ideation signal, got %v", a.Signals)
	}
	if a.Urgency != UrgencyEmergency {
		t.Errorf("urgency = %s, want emergency", a.Urgency)
	}
	if a.RecommendedAction != ActionEmergencyContact {
		t.Errorf("action = %s, want emergency_contact", a.RecommendedAction)
	}
	if !a.NeedsHumanReview {
		t.Error("expected NeedsHumanReview=true")
	}
}

func TestAnalyze_SingleHitSignals(t *testing.T) {
	d := NewDetector(DefaultConfig())

	tests := []struct {
		name string
		text string
		want SignalType
	}{
		{"self harm", "tenho vontade de me cortar de novo", SignalSelfHarm},
		{"postpartum psychosis", "ouço vozes me dizendo coisas sobre o bebê", SignalPostpartumPsychosis},
		{"abuse report", "ele me bate quando chega em casa", SignalAbuseReport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := d.Analyze(tt.text)
			found := false
			for _, s := range a.Signals {
				if s.Type == tt.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %s signal on single hit, got %v", tt.want, a.Signals)
			}
			if a.Urgency < UrgencyUrgent {
				t.Errorf("urgency = %s, want at least urgent", a.Urgency)
			}
		})
	}
}

func TestAnalyze_TwoHitSignalsNeedTwoKeywords(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// One panic symptom alone must not fire.
	one := d.Analyze("estou com falta de ar depois de subir a escada")
	for _, s := range one.Signals {
		if s.Type == SignalPanicAttack {
			t.Errorf("panic attack fired on a single symptom: %v", one.Signals)
		}
	}

	// Two distinct symptoms fire.
	two := d.Analyze("coração acelerado, falta de ar, acho que é crise")
	found := false
	for _, s := range two.Signals {
		if s.Type == SignalPanicAttack {
			found = true
		}
	}
	if !found {
		t.Errorf("panic attack did not fire on two symptoms: %v", two.Signals)
	}

	oneDep := d.Analyze("me sinto com um vazio por dentro hoje")
	for _, s := range oneDep.Signals {
		if s.Type == SignalSevereDepression {
			t.Errorf("severe depression fired on a single symptom: %v", oneDep.Signals)
		}
	}
}

func TestAnalyze_ScoreMonotonic(t *testing.T) {
	d := NewDetector(DefaultConfig())

	base := "não aguento mais"
	additions := []string{
		"me cortei ontem",
		"ele me bate",
		"coração acelerado e falta de ar",
	}

	prev := d.Analyze(base).Score
	text := base
	for _, add := range additions {
		text = text + ", " + add
		score := d.Analyze(text).Score
		if score < prev {
			t.Errorf("score decreased from %d to %d after adding %q", prev, score, add)
		}
		prev = score
	}
}

func TestAnalyze_CriticalThreshold(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// Suicide ideation (45) + self harm (30) + abuse (35) = 110 → clamp 100.
	a := d.Analyze("não aguento mais, quero me cortar, ele me bate")
	if a.Score != 100 {
		t.Errorf("score = %d, want clamped 100", a.Score)
	}
	if a.Level != LevelCritical {
		t.Errorf("level = %s, want critical for score >= 80", a.Level)
	}
	if a.Urgency != UrgencyEmergency {
		t.Errorf("urgency = %s, want emergency", a.Urgency)
	}
}

func TestAnalyze_NeedsHumanReviewInvariant(t *testing.T) {
	d := NewDetector(DefaultConfig())

	texts := []string{
		"dia tranquilo com o bebê",
		"me sinto com um vazio por dentro e sem esperança",
		"não aguento mais, quero desaparecer",
		"ele me bate",
		"coração acelerado e falta de ar",
	}
	for _, text := range texts {
		a := d.Analyze(text)
		want := a.Level >= LevelHigh || a.Urgency >= UrgencyUrgent
		if a.NeedsHumanReview != want {
			t.Errorf("NeedsHumanReview=%v, want %v for %q (level=%s urgency=%s)",
				a.NeedsHumanReview, want, text, a.Level, a.Urgency)
		}
	}
}

func TestAnalyze_CleanText(t *testing.T) {
	d := NewDetector(DefaultConfig())

	a := d.Analyze("hoje foi um dia bom, conseguimos passear no parque")
	if a.Score != 0 || a.Level != LevelNone || len(a.Signals) != 0 {
		t.Errorf("expected empty analysis, got %+v", a)
	}
	if a.RecommendedAction != ActionNone || a.NeedsHumanReview {
		t.Errorf("clean text should need no action: %+v", a)
	}
}

func TestRecommendedAction_PriorityOrder(t *testing.T) {
	tests := []struct {
		level   Level
		urgency Urgency
		want    Action
	}{
		{LevelLow, UrgencyEmergency, ActionEmergencyContact},
		{LevelMedium, UrgencyUrgent, ActionEscalateToModerator},
		{LevelHigh, UrgencyElevated, ActionFlagForReview},
		{LevelMedium, UrgencyRoutine, ActionMonitor},
		{LevelNone, UrgencyRoutine, ActionNone},
	}
	for _, tt := range tests {
		if got := RecommendedAction(tt.level, tt.urgency); got != tt.want {
			t.Errorf("RecommendedAction(%s, %s) = %s, want %s", tt.level, tt.urgency, got, tt.want)
		}
	}
}

func TestComposeSafetyResponse(t *testing.T) {
	d := NewDetector(DefaultConfig())

	emergency := ComposeSafetyResponse(d.Analyze("quero desaparecer de vez"))
	if !emergency.BlocksInteraction {
		t.Error("emergency response must block interaction")
	}
	joined := strings.Join(emergency.Resources, "\n")
	if !strings.Contains(joined, "188") || !strings.Contains(joined, "192") {
		t.Errorf("emergency resources missing crisis lines: %v", emergency.Resources)
	}

	routine := ComposeSafetyResponse(d.Analyze("dia normal por aqui"))
	if routine.BlocksInteraction || routine.Message != "" {
		t.Errorf("routine analysis should produce an empty response: %+v", routine)
	}
}

func TestAnalyzeHistory_Trend(t *testing.T) {
	d := NewDetector(DefaultConfig())

	worsening := d.AnalyzeHistory([]string{
		"dia normal",
		"me sinto cansada",
		"não aguento mais, quero desaparecer",
	})
	if worsening.Trend != TrendWorsening {
		t.Errorf("trend = %s, want worsening", worsening.Trend)
	}
	if worsening.CumulativeScore == 0 {
		t.Error("expected non-zero cumulative score")
	}

	improving := d.AnalyzeHistory([]string{
		"não aguento mais",
		"ele me bate",
		"hoje foi um dia melhor",
	})
	if improving.Trend != TrendImproving {
		t.Errorf("trend = %s, want improving", improving.Trend)
	}

	short := d.AnalyzeHistory([]string{"dia normal", "outro dia normal"})
	if short.Trend != TrendStable {
		t.Errorf("trend = %s, want stable for fewer than three messages", short.Trend)
	}

	empty := d.AnalyzeHistory(nil)
	if empty.CumulativeScore != 0 || empty.Trend != TrendStable {
		t.Errorf("expected zero analysis for empty history: %+v", empty)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := DefaultConfig()
	bad.Thresholds.High = 10 // breaks monotonicity
	if err := bad.Validate(); err == nil {
		t.Error("expected error for non-monotonic thresholds")
	}

	missing := DefaultConfig()
	delete(missing.Weights, SignalAbuseReport)
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing weight")
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}
