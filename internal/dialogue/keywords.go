package dialogue

import (
	"strings"

	"github.com/wolfman30/clinic-concierge/internal/session"
)

var emergencyPhrases = []string{
	"infarto", "ataque cardiaco", "ataque do coracao", "dor no peito", "aperto no peito",
	"nao consigo respirar", "falta de ar", "sem ar", "desmai*", "convuls*", "avc", "derrame",
	"sangrando muito", "sangramento forte", "overdose", "suicid*", "me matar", "tirar minha vida",
	"heart attack", "chest pain", "can't breathe", "cant breathe", "cannot breathe", "stroke",
	"passed out", "fainted", "seizure", "bleeding heavily", "kill myself", "end my life",
	"emergencia", "emergency",
}

var (
	pricePhrases = []string{
		"preco*", "quanto custa", "quanto e", "quanto fica", "valor*", "custo*", "orcamento",
		"parcel*", "price*", "how much", "cost*", "fee*",
	}
	insurancePhrases = []string{
		"convenio*", "plano de saude", "plano", "seguro saude", "reembolso", "unimed", "amil",
		"bradesco saude", "sulamerica", "insurance", "insured", "covered", "coverage",
	}
	schedulingPhrases = []string{
		"agend*", "marcar", "marca", "horario*", "agenda", "consulta", "avaliacao", "disponib*",
		"schedule", "appointment", "book", "booking", "available", "availability",
	}
	affirmativePhrases = []string{
		"sim", "claro", "pode ser", "quero", "bora", "vamos", "ok", "okay", "beleza", "fechado",
		"com certeza", "perfeito", "isso", "yes", "yeah", "yep", "sure", "let's", "lets", "of course",
	}
	negativePhrases = []string{
		"nao", "agora nao", "nao quero", "nao obrigado", "nao obrigada", "dispenso",
		"nope", "not now", "no thanks", "not interested",
	}
	greetingPhrases = []string{
		"oi", "ola", "opa", "e ai", "bom dia", "boa tarde", "boa noite", "tudo bem",
		"hello", "hi", "hey", "good morning", "good afternoon", "good evening",
	}
	namePhrases = []string{"meu nome", "me chamo", "my name", "pode me chamar", "call me"}
)

// Objection is a post-offer pushback with a scripted rebuttal.
type Objection string

const (
	ObjectionPrice       Objection = "price"
	ObjectionPartner     Objection = "partner"
	ObjectionThink       Objection = "think_about_it"
	ObjectionInsurance   Objection = "insurance"
	ObjectionTestResults Objection = "test_results"
)

var objectionPhrases = []struct {
	kind    Objection
	phrases []string
}{
	{ObjectionTestResults, []string{"resultado*", "exame*", "esperando o", "aguardando o", "test result*", "lab result*", "waiting on", "waiting for my"}},
	{ObjectionInsurance, []string{"convenio*", "plano de saude", "pelo plano", "insurance", "covered"}},
	{ObjectionPartner, []string{"meu marido", "minha esposa", "meu esposo", "minha mulher", "meu namorado", "minha namorada", "meu parceiro", "minha parceira", "conversar com", "falar com", "my husband", "my wife", "my partner", "my boyfriend", "my girlfriend", "talk to my", "ask my"}},
	{ObjectionThink, []string{"vou pensar", "preciso pensar", "pensar melhor", "pensar um pouco", "depois eu vejo", "think about it", "let me think", "need to think"}},
	{ObjectionPrice, []string{"caro", "muito caro", "sem dinheiro", "nao tenho dinheiro", "nao cabe", "apertado", "expensive", "too much", "can't afford", "cant afford", "pricey"}},
}

// IsEmergency reports whether text mentions a medical emergency.
func IsEmergency(text string) bool {
	return newMatcher(text).has(emergencyPhrases...)
}

// DetectObjection returns the first objection text matches.
func DetectObjection(text string) (Objection, bool) {
	m := newMatcher(text)
	for _, o := range objectionPhrases {
		if m.has(o.phrases...) {
			return o.kind, true
		}
	}
	return "", false
}

// IsResetCommand reports whether text asks for a fresh conversation.
func IsResetCommand(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/reset", "#reset", "/novaconversa", "#novaconversa":
		return true
	}
	return false
}

// ClassifyKeywords is the deterministic classifier used whenever the model
// is unavailable, over budget or answers outside the vocabulary. It always
// returns a member of the intent vocabulary.
func ClassifyKeywords(text string, stage session.Stage) Intent {
	m := newMatcher(text)
	switch {
	case m.wordCount() == 0:
		return IntentOther
	case m.has(emergencyPhrases...):
		return IntentEmergency
	case m.has(namePhrases...):
		return IntentProvideName
	}
	if !stage.Before(session.StageClosing) && stage != session.StageEmergency {
		if _, ok := DetectObjection(text); ok {
			return IntentObjection
		}
	}
	switch {
	case m.has(insurancePhrases...):
		return IntentInsuranceQuestion
	case m.has(pricePhrases...):
		return IntentPriceQuestion
	case m.has(schedulingPhrases...):
		return IntentScheduling
	case m.wordCount() <= 4 && m.has(greetingPhrases...):
		return IntentGreeting
	case m.wordCount() <= 4 && m.has(negativePhrases...):
		return IntentNegative
	case m.wordCount() <= 5 && m.has(affirmativePhrases...):
		return IntentAffirmative
	}
	return stageDefault(stage)
}

func stageDefault(stage session.Stage) Intent {
	switch stage {
	case session.StageAwaitingName:
		return IntentProvideName
	case session.StageSituation:
		return IntentShareSituation
	case session.StageProblem:
		return IntentShareProblem
	case session.StageImplication:
		return IntentShareImplication
	case session.StagePriorTreatment:
		return IntentSharePriorTreatment
	case session.StageSolution:
		return IntentShareDesiredOutcome
	}
	return IntentOther
}

var (
	englishMarkers = map[string]bool{
		"hello": true, "hi": true, "hey": true, "my": true, "name": true, "is": true, "the": true,
		"i": true, "i'm": true, "im": true, "please": true, "thanks": true, "thank": true, "you": true,
		"want": true, "need": true, "what": true, "how": true, "appointment": true, "good": true,
		"morning": true, "afternoon": true, "evening": true, "would": true, "like": true, "and": true,
	}
	portugueseMarkers = map[string]bool{
		"oi": true, "ola": true, "meu": true, "minha": true, "nome": true, "e": true, "o": true, "a": true,
		"que": true, "voce": true, "quero": true, "obrigado": true, "obrigada": true, "por": true,
		"favor": true, "tudo": true, "bem": true, "nao": true, "sim": true, "bom": true, "boa": true,
		"dia": true, "tarde": true, "noite": true, "gostaria": true, "de": true, "com": true, "eu": true,
	}
)

// DetectLanguage guesses the writer's language. It returns "en" when English
// markers dominate and "" (canonical) otherwise.
func DetectLanguage(text string) string {
	m := newMatcher(text)
	var en, pt int
	for _, w := range m.words {
		if englishMarkers[w] {
			en++
		}
		if portugueseMarkers[w] {
			pt++
		}
	}
	if en > pt {
		return "en"
	}
	return ""
}
