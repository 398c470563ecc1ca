// Package dialogue drives the scripted NEPQ conversation: intent routing,
// interrupts, objections, name capture and scheduling.
package dialogue

// Intent is the fixed vocabulary a message is classified into.
type Intent string

const (
	IntentGreeting            Intent = "greeting"
	IntentProvideName         Intent = "provide_name"
	IntentShareSituation      Intent = "share_situation"
	IntentShareProblem        Intent = "share_problem"
	IntentShareImplication    Intent = "share_implication"
	IntentSharePriorTreatment Intent = "share_prior_treatment"
	IntentShareDesiredOutcome Intent = "share_desired_outcome"
	IntentPriceQuestion       Intent = "price_question"
	IntentInsuranceQuestion   Intent = "insurance_question"
	IntentObjection           Intent = "objection"
	IntentScheduling          Intent = "scheduling"
	IntentAffirmative         Intent = "affirmative"
	IntentNegative            Intent = "negative"
	IntentEmergency           Intent = "emergency"
	IntentOther               Intent = "other"
)

var allIntents = []Intent{
	IntentGreeting,
	IntentProvideName,
	IntentShareSituation,
	IntentShareProblem,
	IntentShareImplication,
	IntentSharePriorTreatment,
	IntentShareDesiredOutcome,
	IntentPriceQuestion,
	IntentInsuranceQuestion,
	IntentObjection,
	IntentScheduling,
	IntentAffirmative,
	IntentNegative,
	IntentEmergency,
	IntentOther,
}

// Categories lists the intent labels offered to the classifier.
func Categories() []string {
	out := make([]string, len(allIntents))
	for i, intent := range allIntents {
		out[i] = string(intent)
	}
	return out
}

// ParseIntent maps a label back to an Intent.
func ParseIntent(label string) (Intent, bool) {
	for _, intent := range allIntents {
		if string(intent) == label {
			return intent, true
		}
	}
	return "", false
}
