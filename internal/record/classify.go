package record

import "strings"

// Classification is the explicit result of object-type inference.
//
// Certain is true only when the caller supplied a valid type; an inferred
// Type is a best guess and downstream code must treat it as such (the
// reducer caps confidence and tags the object) rather than silently
// promoting the guess to fact.
type Classification struct {
	Type    ObjectType
	Certain bool
}

// GuessConfidenceCap bounds the confidence of an object whose type was
// inferred rather than declared. A guess is never allowed to look more
// certain than the text it was guessed from.
const GuessConfidenceCap = 0.4

// TagClassifierGuess marks objects whose type came from keyword
// inference, so reviewers can find and confirm or reclassify them.
const TagClassifierGuess = "classifier:guess"

// Keyword sets for summary-text inference. Substring match on the
// lowercased summary; decisions are checked before commitments.
var (
	decisionWords   = []string{"decide", "decision", "tradeoff", "adopt", "choose"}
	commitmentWords = []string{"must", "next", "follow-up", "deadline", "due", "todo", "commit"}
)

// Classify resolves an object type from a proposed value and a summary.
// A valid proposed type wins outright. Otherwise the summary text is
// scanned for decision and commitment keywords, falling back to fact.
func Classify(summary string, proposed ObjectType) Classification {
	if ValidObjectTypes[proposed] {
		return Classification{Type: proposed, Certain: true}
	}
	text := strings.ToLower(summary)
	for _, w := range decisionWords {
		if strings.Contains(text, w) {
			return Classification{Type: ObjectDecision}
		}
	}
	for _, w := range commitmentWords {
		if strings.Contains(text, w) {
			return Classification{Type: ObjectCommitment}
		}
	}
	return Classification{Type: ObjectFact}
}
