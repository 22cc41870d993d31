package negotiation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/encoder"
)

// MaskedOffer is an offer reduced to what aggregation needs: who, the facts
// stated, and how confident they were.
type MaskedOffer struct {
	AgentID    string   `json:"agent_id"`
	Facts      []string `json:"facts"`
	Confidence float64  `json:"confidence"`
	Round      int      `json:"round"`
	// CorroboratedBy maps a fact to the other agents that stated it too.
	CorroboratedBy map[string][]string `json:"corroborated_by,omitempty"`
}

var (
	sentenceSplit  = regexp.MustCompile(`[.!?]+(\s+|$)|\n+`)
	stageDirection = regexp.MustCompile(`\*[^*]*\*|\[[^\]]*\]|\([^)]*(smiles|laughs|nods|sighs|thinking)[^)]*\)`)
	greeting       = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|greetings|dear [^,]{1,30})\b[,!]?\s*`)
	rolePrefix     = regexp.MustCompile(`(?i)^\s*(as (an?|the|your) [^,]{1,40},\s*)`)
	hedges         = regexp.MustCompile(`(?i)\b(i think|i believe|i guess|i feel like|it seems( that)?|honestly|to be honest|basically)\b,?\s*`)
	spaces         = regexp.MustCompile(`\s+`)
)

var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "greetings": true, "dear": true,
	"thanks": true, "thank": true, "cheers": true, "regards": true, "best": true,
	"sincerely": true, "welcome": true, "pleasure": true, "glad": true, "happy": true,
}

var scaffoldPhrases = []string{
	"as an ai", "as a language model", "i am an ai", "let me know if", "feel free to",
	"hope this helps", "looking forward", "happy to help", "i'd be happy to", "i would be happy to",
}

// Mask applies observation masking to the collected offers: raw facts are
// kept verbatim, while greetings, filler, role-play scaffolding and repeats
// within one offer are dropped. Nothing is summarized. A fact stated by
// several agents stays on every offer and records who else stated it.
func Mask(offers []core.Offer) []MaskedOffer {
	out := make([]MaskedOffer, 0, len(offers))
	keys := make([][]string, 0, len(offers))
	statedBy := make(map[string][]string)
	for _, o := range offers {
		m := MaskedOffer{AgentID: o.AgentID, Confidence: o.Confidence, Round: o.Round}
		var factKeys []string
		seen := make(map[string]bool)
		for _, sentence := range sentenceSplit.Split(stageDirection.ReplaceAllString(o.Content, " "), -1) {
			fact := cleanSentence(sentence)
			if fact == "" || isScaffolding(fact) {
				continue
			}
			key := factKey(fact)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			m.Facts = append(m.Facts, fact)
			factKeys = append(factKeys, key)
			if !contains(statedBy[key], o.AgentID) {
				statedBy[key] = append(statedBy[key], o.AgentID)
			}
		}
		out = append(out, m)
		keys = append(keys, factKeys)
	}
	for i := range out {
		for j, key := range keys[i] {
			var others []string
			for _, id := range statedBy[key] {
				if id != out[i].AgentID {
					others = append(others, id)
				}
			}
			if len(others) == 0 {
				continue
			}
			if out[i].CorroboratedBy == nil {
				out[i].CorroboratedBy = make(map[string][]string)
			}
			out[i].CorroboratedBy[out[i].Facts[j]] = others
		}
	}
	return out
}

func factKey(fact string) string {
	return strings.Join(encoder.Terms(fact), " ")
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func cleanSentence(s string) string {
	s = greeting.ReplaceAllString(s, "")
	s = rolePrefix.ReplaceAllString(s, "")
	s = hedges.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return strings.Trim(s, " ,;:-")
}

func isScaffolding(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range scaffoldPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	// A short sentence that opens with a greeting carries no facts.
	words := strings.Fields(lower)
	if len(words) > 0 && greetingWords[strings.Trim(words[0], ",!")] && len(words) <= 5 {
		return true
	}
	return false
}

// Facts returns every distinct fact in masked, in order. A fact several
// agents stated appears once.
func Facts(masked []MaskedOffer) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range masked {
		for _, f := range m.Facts {
			key := factKey(f)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, f)
		}
	}
	return out
}

// Render formats masked offers as plain text for an aggregator prompt.
func Render(masked []MaskedOffer) string {
	var b strings.Builder
	for _, m := range masked {
		if len(m.Facts) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (confidence %.2f, round %d):\n", m.AgentID, m.Confidence, m.Round)
		for _, f := range m.Facts {
			if others := m.CorroboratedBy[f]; len(others) > 0 {
				fmt.Fprintf(&b, "- %s (also stated by %s)\n", f, strings.Join(others, ", "))
				continue
			}
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}
