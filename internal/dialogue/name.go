package dialogue

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	explicitName = regexp.MustCompile(`(?i)(?:meu nome (?:é|e)|me chamo|pode me chamar de|my name is|call me|my name's)\s+([\p{L}'-]+)`)
	looseName    = regexp.MustCompile(`(?i)(?:^|\s)(?:sou (?:o |a )?|aqui (?:é|e) (?:o |a )?|i'm|i am|this is|it's)\s*([\p{L}'-]+)`)
)

// nameStoplist holds words people send in place of a name.
var nameStoplist = map[string]bool{
	"oi": true, "ola": true, "opa": true, "ei": true, "bom": true, "boa": true, "dia": true,
	"tarde": true, "noite": true, "tudo": true, "bem": true, "td": true, "blz": true, "beleza": true,
	"obrigado": true, "obrigada": true, "ok": true, "sim": true, "nao": true, "quero": true,
	"gostaria": true, "preciso": true, "queria": true, "voce": true, "vc": true, "eu": true,
	"hello": true, "hi": true, "hey": true, "good": true, "morning": true, "afternoon": true,
	"evening": true, "thanks": true, "yes": true, "no": true, "okay": true, "please": true,
	"the": true, "what": true, "why": true, "who": true, "quem": true, "que": true, "qual": true,
	"paciente": true, "cliente": true, "interessado": true, "interessada": true, "muito": true,
	// verbs and fillers that open a complaint rather than an introduction
	"estou": true, "to": true, "ta": true, "esta": true, "tenho": true, "tive": true, "sinto": true,
	"sentindo": true, "fiz": true, "faco": true, "pode": true, "posso": true, "vou": true,
	"agendar": true, "marcar": true, "saber": true, "ajuda": true, "socorro": true, "como": true,
	"quando": true, "onde": true, "quanto": true, "com": true, "sem": true, "uma": true, "um": true,
	"minha": true, "meu": true, "na": true, "em": true, "pra": true, "para": true,
	// symptoms and treatment words
	"dor": true, "dores": true, "febre": true, "alergia": true, "coceira": true, "acne": true,
	"mancha": true, "manchas": true, "espinha": true, "espinhas": true, "ruga": true, "rugas": true,
	"pele": true, "rosto": true, "cabelo": true, "queda": true, "botox": true, "preenchimento": true,
	"consulta": true, "avaliacao": true, "tratamento": true, "preco": true, "valor": true,
	"i": true, "have": true, "need": true, "want": true, "pain": true, "my": true, "is": true,
}

// nameParticles may join the words of a full name ("Maria da Silva").
var nameParticles = map[string]bool{"da": true, "de": true, "do": true, "das": true, "dos": true}

// ExtractName pulls a first name out of text. With strict set only explicit
// introductions ("meu nome é", "my name is") count; otherwise a reply of up
// to three words is accepted when every word could be part of a name.
func ExtractName(text string, strict bool) (string, bool) {
	text = strings.TrimSpace(text)
	if m := explicitName.FindStringSubmatch(text); m != nil {
		return validName(m[1])
	}
	if strict {
		return "", false
	}
	if m := looseName.FindStringSubmatch(text); m != nil {
		return validName(m[1])
	}
	words := strings.Fields(strings.Trim(text, ".!?,; "))
	if len(words) == 0 || len(words) > 3 {
		return "", false
	}
	var first string
	for i, w := range words {
		w = strings.Trim(w, ".!?,;")
		if i > 0 && nameParticles[fold(w)] {
			continue
		}
		name, ok := validName(w)
		if !ok {
			return "", false
		}
		if i == 0 {
			first = name
		}
	}
	return first, true
}

func validName(candidate string) (string, bool) {
	candidate = strings.Trim(candidate, "'-")
	n := utf8.RuneCountInString(candidate)
	if n < 2 || n > 30 {
		return "", false
	}
	for _, r := range candidate {
		if !unicode.IsLetter(r) && r != '\'' && r != '-' {
			return "", false
		}
	}
	if nameStoplist[fold(candidate)] {
		return "", false
	}
	return titleCase(candidate), true
}

func titleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
