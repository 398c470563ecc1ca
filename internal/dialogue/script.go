package dialogue

import (
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-concierge/internal/session"
)

// Scripted replies in the canonical language. Everything here goes through
// the localizer before it is sent.

const (
	msgAskName        = "Olá! Eu sou a assistente virtual da %s. Antes de começarmos, como posso te chamar?"
	msgNameReprompt   = "Desculpe, não consegui entender seu nome. Pode me dizer só o seu primeiro nome?"
	msgNameCaptured   = "Prazer, %s!"
	msgTooLong        = "Sua mensagem ficou um pouco longa para mim. Pode resumir em até %d caracteres?"
	msgEmpty          = "Não consegui entender sua mensagem. Pode escrever de novo?"
	msgTenantMissing  = "Desculpe, estou com uma instabilidade no momento. Por favor, fale com nossa equipe pelo telefone %s."
	msgReset          = "Conversa reiniciada. Pode me mandar uma mensagem quando quiser começar de novo."
	msgRepeat         = "Percebi que estamos andando em círculos e quero muito te ajudar. Que tal conversarmos por telefone? É só ligar para %s."
	msgEmergency      = "Isso parece uma emergência médica. Ligue agora para o SAMU (192) ou procure o pronto-socorro mais próximo. Se estiver em risco de vida ou pensando em se machucar, ligue também para o CVV (188), que atende 24 horas.\n\nNossa equipe foi avisada e pode ser contatada pelo telefone %s."
	msgEmergencyAgain = "Por favor, priorize o atendimento de emergência: SAMU 192 ou o pronto-socorro mais próximo. Nossa equipe está no telefone %s."
	msgAskSchedule    = "Perfeito! Qual dia e período ficam melhor para você? Pode ser manhã, tarde ou noite."
	msgBooked         = "Prontinho, %s! Sua avaliação ficou agendada para %s. Você vai receber os detalhes por aqui. Qualquer imprevisto, é só me avisar."
	msgBookingFailed  = "Desculpe, não consegui concluir o agendamento agora. Pode sugerir outro horário ou, se preferir, ligar para %s."
	msgDeclined       = "Sem problemas, %s. Se mudar de ideia, é só me chamar aqui ou ligar para %s."
	msgComplete       = "Seu horário está reservado para %s. Se precisar de algo, estou por aqui!"
	msgCompleteNoSlot = "Obrigada pela conversa! Se precisar de algo, estou por aqui."
	msgClosingCTA     = "Posso reservar um horário para a sua avaliação? Me diga o dia e o período que ficam melhor para você."
	msgUnavailable    = "Desculpe, estamos com uma instabilidade e não consegui processar sua mensagem. Tente de novo em alguns minutos ou ligue para %s."
	msgNoAudio        = "Não consegui ouvir seu áudio. Pode me mandar por escrito?"
)

var stageQuestions = map[session.Stage]string{
	session.StageSituation:      "Para eu te ajudar da melhor forma, me conta: o que te trouxe até a %s hoje?",
	session.StageProblem:        "Entendi. Há quanto tempo isso vem acontecendo? E tem piorado com o tempo?",
	session.StageImplication:    "E como isso tem afetado o seu dia a dia, no trabalho, no sono ou na autoestima?",
	session.StagePriorTreatment: "Você já tentou algum tratamento ou solução para isso antes? Como foi?",
	session.StageSolution:       "Se a gente conseguisse resolver isso, como seria o resultado ideal para você?",
}

var deferrals = map[Intent]string{
	IntentPriceQuestion:     "Ótima pergunta sobre valores! Eu te passo todos os detalhes em seguida, mas antes quero entender bem o seu caso para indicar o caminho certo.",
	IntentInsuranceQuestion: "Boa pergunta sobre convênio! Já já te explico como funciona, mas antes quero entender bem o seu caso para indicar o caminho certo.",
}

var rebuttals = map[Objection]string{
	ObjectionPrice:       "Entendo totalmente, %s. Investir em saúde pesa no bolso. Por isso temos condições de parcelamento e a avaliação inicial já mostra exatamente o que faz sentido para você, sem gastos desnecessários. Quer que eu veja um horário?",
	ObjectionPartner:     "Faz todo sentido decidir junto, %s. Se quiser, a pessoa pode vir com você na avaliação e tirar todas as dúvidas direto com a equipe. Posso reservar um horário para vocês?",
	ObjectionThink:       "Claro, %s, é uma decisão importante. Só lembrando que a avaliação não te compromete com nada e ajuda justamente a decidir com segurança. Quer que eu deixe um horário reservado?",
	ObjectionInsurance:   "Entendo, %s. Trabalhamos de forma particular e fornecemos toda a documentação para você solicitar reembolso ao seu plano. Muitos pacientes conseguem parte do valor de volta. Posso agendar sua avaliação?",
	ObjectionTestResults: "Ótimo que você já está investigando, %s. Pode trazer os resultados na avaliação, e se ainda não saíram, a consulta já adianta o plano enquanto isso. Quer que eu veja um horário?",
}

func askName(clinic string) string { return fmt.Sprintf(msgAskName, clinic) }

func stageQuestion(stage session.Stage, clinic string) string {
	q, ok := stageQuestions[stage]
	if !ok {
		return ""
	}
	if strings.Contains(q, "%s") {
		return fmt.Sprintf(q, clinic)
	}
	return q
}

func rebuttal(o Objection, name string) string {
	return fmt.Sprintf(rebuttals[o], nameOr(name, "tudo bem"))
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}

// UnavailableReply is sent when the conversation state cannot be loaded at
// all.
func UnavailableReply(phone string) string { return fmt.Sprintf(msgUnavailable, phone) }

// TranscriptionFailedReply asks the user to type instead of sending audio.
func TranscriptionFailedReply() string { return msgNoAudio }

// templatePitch is the six-paragraph closing used when generation fails.
func templatePitch(s *session.Session, clinic, phone string) string {
	name := nameOr(s.Name(), "")
	greeting := "Obrigada por compartilhar tudo isso"
	if name != "" {
		greeting += ", " + name
	}
	paragraphs := []string{
		fmt.Sprintf("%s. Pelo que você me contou, %s já acontece %s e vem afetando %s. Sei como isso pesa.",
			greeting, orDefault(s.ProblemContext, "essa questão"), orDefault(s.Duration, "há um tempo"), orDefault(s.Impact, "a sua rotina")),
		fmt.Sprintf("Aqui na %s atendemos muitos pacientes com situações parecidas, inclusive pessoas que já tinham tentado %s, e o retorno tem sido muito positivo.",
			clinic, orDefault(s.TriedSolutions, "outras opções")),
		fmt.Sprintf("A avaliação completa com nossa equipe é o primeiro passo para chegar em %s, com um plano feito para o seu caso.",
			orDefault(s.DesiredOutcome, "o resultado que você procura")),
		"Os valores dependem do plano indicado na avaliação, e temos opções de parcelamento para caber no seu orçamento.",
		"Se estiver em dúvida, a avaliação não te compromete com nada, e você pode trazer alguém de confiança ou seus exames.",
		fmt.Sprintf("Vamos reservar o seu horário? Me diga o melhor dia e período, ou ligue para %s.", phone),
	}
	return strings.Join(paragraphs, "\n\n")
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}
