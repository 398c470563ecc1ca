package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-concierge/internal/llm"
	"github.com/wolfman30/clinic-concierge/internal/messaging"
	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const pitchParagraphs = 6

var slotOrder = []session.Stage{
	session.StageSituation,
	session.StageProblem,
	session.StageImplication,
	session.StagePriorTreatment,
	session.StageSolution,
}

func nextStage(stage session.Stage) session.Stage {
	for i, s := range slotOrder {
		if s == stage && i+1 < len(slotOrder) {
			return slotOrder[i+1]
		}
	}
	return session.StageClosing
}

func fillSlot(sess *session.Session, stage session.Stage, text string) {
	switch stage {
	case session.StageSituation:
		sess.ProblemContext = text
	case session.StageProblem:
		sess.Duration = text
		sess.Worsening = text
	case session.StageImplication:
		sess.Impact = text
	case session.StagePriorTreatment:
		sess.TriedSolutions = text
	case session.StageSolution:
		sess.DesiredOutcome = text
	}
}

func slotFilled(sess *session.Session, stage session.Stage) bool {
	switch stage {
	case session.StageSituation:
		return sess.ProblemContext != ""
	case session.StageProblem:
		return sess.Duration != ""
	case session.StageImplication:
		return sess.Impact != ""
	case session.StagePriorTreatment:
		return sess.TriedSolutions != ""
	case session.StageSolution:
		return sess.DesiredOutcome != ""
	}
	return true
}

// nextOpenStage is the first stage whose slot is still empty.
func nextOpenStage(sess *session.Session) session.Stage {
	for _, stage := range slotOrder {
		if !slotFilled(sess, stage) {
			return stage
		}
	}
	return sess.Stage
}

func slotSummary(sess *session.Session) string {
	lines := []string{
		"Motivo: " + sess.ProblemContext,
		"Duração/evolução: " + sess.Duration,
		"Impacto: " + sess.Impact,
		"Tentativas anteriores: " + sess.TriedSolutions,
		"Resultado desejado: " + sess.DesiredOutcome,
	}
	if sess.SchedulePreference != "" {
		lines = append(lines, "Preferência de horário: "+sess.SchedulePreference)
	}
	return strings.Join(lines, "\n")
}

func languageName(lang string) string {
	switch lang {
	case "en":
		return "English"
	case "es":
		return "Spanish"
	case "", "pt":
		return "Brazilian Portuguese"
	}
	return lang
}

// pitch generates the six-paragraph closing, falling back to the template
// when the gateway fails or ignores the structure.
func (c *Controller) pitch(ctx context.Context, t *turn, log *logging.Logger) string {
	sess := t.sess
	system := fmt.Sprintf(`You are the patient concierge of %s. Write the closing message of a consultative conversation in %s.
Write exactly six short paragraphs separated by blank lines, in this order:
1. empathy recap of the patient's situation
2. social proof
3. value proposition of an in-person evaluation
4. pricing and payment terms
5. pre-emptive handling of common objections
6. a call to action to book the evaluation
Never give medical advice or diagnoses. Human contact phone: %s.
Clinic knowledge base:
%s

Patient notes:
Name: %s
%s`, t.clinic, languageName(sess.Language), t.phone, orDefault(knowledgeBase(sess), "(none)"), nameOr(sess.Name(), "unknown"), slotSummary(sess))

	text, err := c.gateway.Generate(ctx, system, c.chatMessages(ctx, sess, t.in.Text), c.cfg.PitchMaxTokens)
	if err == nil {
		if parts := messaging.SplitParagraphs(text); len(parts) == pitchParagraphs {
			return strings.Join(parts, "\n\n")
		}
		log.Warn("generated pitch ignored the structure, using template", "paragraphs", len(messaging.SplitParagraphs(text)))
	} else {
		log.Warn("pitch generation failed, using template", "error", err)
	}
	return c.localize(ctx, t, templatePitch(sess, t.clinic, t.phone))
}

// answer replies to a free-form question during closing using the clinic
// knowledge base, ending with the call to action.
func (c *Controller) answer(ctx context.Context, t *turn, log *logging.Logger) string {
	sess := t.sess
	system := fmt.Sprintf(`You are the patient concierge of %s. Answer the patient's last message in %s in at most three sentences using only the knowledge base below.
If the answer is not in the knowledge base, say the team will confirm during the evaluation. Never give medical advice.
End by inviting the patient to book an evaluation.
Knowledge base:
%s`, t.clinic, languageName(sess.Language), orDefault(knowledgeBase(sess), "(none)"))

	text, err := c.gateway.Generate(ctx, system, c.chatMessages(ctx, sess, t.in.Text), c.cfg.AnswerMaxTokens)
	if err != nil || strings.TrimSpace(text) == "" {
		log.Warn("answer generation failed, using call to action", "error", err)
		return c.localize(ctx, t, msgClosingCTA)
	}
	return strings.TrimSpace(text)
}

// chatMessages turns the compacted history plus the current message into
// model input.
func (c *Controller) chatMessages(ctx context.Context, sess *session.Session, current string) []llm.ChatMessage {
	history := c.compact(ctx, sess.ConversationHistory)
	out := make([]llm.ChatMessage, 0, len(history)+1)
	for _, turn := range history {
		out = append(out, llm.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	return append(out, llm.ChatMessage{Role: llm.RoleUser, Content: current})
}

func knowledgeBase(sess *session.Session) string {
	if sess.Tenant == nil {
		return ""
	}
	return sess.Tenant.KnowledgeBase
}
