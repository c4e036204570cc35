package sentiment

import (
	"context"
	"strings"
	"unicode"
)

type Label string

const (
	LabelPositive Label = "positive"
	LabelNeutral  Label = "neutral"
	LabelNegative Label = "negative"
)

// Result is one classification verdict. Confidence is in [0, 1]; callers
// escalate on negative labels above their configured threshold.
type Result struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier scores a single customer message. Implementations must be safe
// for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// Lexicon is a weighted keyword classifier. It is deliberately simple: fast,
// deterministic and dependency-free, which keeps the conversational turn's
// latency predictable. Scores accumulate per matched token and the label is
// decided by sign; confidence grows with the evidence.
type Lexicon struct {
	weights map[string]float64
}

// negators flip the sign of the following sentiment-bearing token.
var negators = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "dont": {}, "don't": {},
	"cant": {}, "can't": {}, "won't": {}, "wont": {}, "isn't": {}, "isnt": {},
}

var intensifiers = map[string]struct{}{
	"very": {}, "really": {}, "extremely": {}, "totally": {}, "absolutely": {},
}

var defaultWeights = map[string]float64{
	// Frustration and escalation vocabulary weighs heavier than mild negatives.
	"angry": -0.9, "furious": -1.0, "outraged": -1.0, "unacceptable": -0.9,
	"terrible": -0.8, "awful": -0.8, "horrible": -0.8, "worst": -0.8,
	"ridiculous": -0.7, "useless": -0.7, "broken": -0.5, "scam": -0.9,
	"refund": -0.4, "cancel": -0.4, "complaint": -0.5, "lawyer": -0.9,
	"disappointed": -0.6, "frustrated": -0.7, "frustrating": -0.7,
	"waiting": -0.3, "slow": -0.4, "bug": -0.3, "wrong": -0.4,
	"bad": -0.5, "hate": -0.8, "fail": -0.5, "failed": -0.5, "failure": -0.5,
	"sue": -0.9, "manager": -0.5, "supervisor": -0.5, "human": -0.4,

	"thanks": 0.5, "thank": 0.5, "great": 0.6, "perfect": 0.7,
	"awesome": 0.7, "excellent": 0.7, "love": 0.6, "helpful": 0.5,
	"good": 0.4, "works": 0.3, "solved": 0.5, "resolved": 0.5,
	"appreciate": 0.5, "wonderful": 0.6,
}

func NewLexicon() *Lexicon {
	return &Lexicon{weights: defaultWeights}
}

// NewLexiconWithWeights overlays custom weights on the defaults, letting a
// deployment tune escalation vocabulary per project.
func NewLexiconWithWeights(overlay map[string]float64) *Lexicon {
	weights := make(map[string]float64, len(defaultWeights)+len(overlay))
	for k, v := range defaultWeights {
		weights[k] = v
	}
	for k, v := range overlay {
		weights[strings.ToLower(k)] = v
	}
	return &Lexicon{weights: weights}
}

func (l *Lexicon) Classify(_ context.Context, text string) (Result, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Result{Label: LabelNeutral, Confidence: 0}, nil
	}

	var score float64
	matched := 0
	negate := false
	boost := 1.0
	for _, tok := range tokens {
		if _, ok := negators[tok]; ok {
			negate = true
			continue
		}
		if _, ok := intensifiers[tok]; ok {
			boost = 1.5
			continue
		}
		w, ok := l.weights[tok]
		if !ok {
			negate = false
			boost = 1.0
			continue
		}
		if negate {
			w = -w
		}
		score += w * boost
		matched++
		negate = false
		boost = 1.0
	}

	if matched == 0 {
		return Result{Label: LabelNeutral, Confidence: 0.5}, nil
	}

	avg := score / float64(matched)
	confidence := avg
	if confidence < 0 {
		confidence = -confidence
	}
	// Repeated hits on the lexicon are stronger evidence than a single word.
	confidence += 0.1 * float64(matched-1)
	if confidence > 1 {
		confidence = 1
	}

	switch {
	case avg <= -0.2:
		return Result{Label: LabelNegative, Confidence: confidence}, nil
	case avg >= 0.2:
		return Result{Label: LabelPositive, Confidence: confidence}, nil
	default:
		return Result{Label: LabelNeutral, Confidence: confidence}, nil
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}
