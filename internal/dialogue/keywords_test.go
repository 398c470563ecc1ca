package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/clinic-concierge/internal/session"
)

func TestClassifyKeywords(t *testing.T) {
	tests := []struct {
		text  string
		stage session.Stage
		want  Intent
	}{
		{"Olá!", session.StageStart, IntentGreeting},
		{"Hello", session.StageStart, IntentGreeting},
		{"meu nome é Ana", session.StageAwaitingName, IntentProvideName},
		{"Ana", session.StageAwaitingName, IntentProvideName},
		{"Estou com dor no peito", session.StageProblem, IntentEmergency},
		{"I think I'm having a heart attack", session.StageClosing, IntentEmergency},
		{"Quanto custa o tratamento?", session.StageSituation, IntentPriceQuestion},
		{"Vocês aceitam convênio?", session.StageProblem, IntentInsuranceQuestion},
		{"Aceita convênio?", session.StageClosing, IntentObjection},
		{"Achei caro", session.StageClosing, IntentObjection},
		{"quero agendar", session.StageClosing, IntentScheduling},
		{"sim", session.StageClosing, IntentAffirmative},
		{"agora não", session.StageClosing, IntentNegative},
		{"tenho acne desde a adolescência", session.StageSituation, IntentShareSituation},
		{"uns três anos", session.StageProblem, IntentShareProblem},
		{"me atrapalha no trabalho", session.StageImplication, IntentShareImplication},
		{"já usei pomadas", session.StagePriorTreatment, IntentSharePriorTreatment},
		{"pele lisinha", session.StageSolution, IntentShareDesiredOutcome},
		{"", session.StageSituation, IntentOther},
		{"blablabla xyz", session.StageComplete, IntentOther},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := ClassifyKeywords(tt.text, tt.stage)
			assert.Equal(t, tt.want, got)
			_, ok := ParseIntent(string(got))
			assert.True(t, ok, "keyword classifier must stay inside the vocabulary")
		})
	}
}

func TestDetectObjection(t *testing.T) {
	cases := map[string]Objection{
		"tá muito caro pra mim":                ObjectionPrice,
		"preciso falar com meu marido":         ObjectionPartner,
		"vou pensar e te aviso":                ObjectionThink,
		"só atendo pelo plano de saúde":        ObjectionInsurance,
		"estou esperando o resultado do exame": ObjectionTestResults,
		"I need to ask my wife":                ObjectionPartner,
	}
	for text, want := range cases {
		got, ok := DetectObjection(text)
		assert.True(t, ok, text)
		assert.Equal(t, want, got, text)
	}
	_, ok := DetectObjection("perfeito, vamos marcar")
	assert.False(t, ok)
}

func TestIsResetCommand(t *testing.T) {
	assert.True(t, IsResetCommand(" /reset "))
	assert.True(t, IsResetCommand("#RESET"))
	assert.True(t, IsResetCommand("/novaconversa"))
	assert.False(t, IsResetCommand("reset"))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "en", DetectLanguage("Hello, my name is John"))
	assert.Equal(t, "", DetectLanguage("Oi, tudo bem? Meu nome é João"))
	assert.Equal(t, "", DetectLanguage("123"))
}
