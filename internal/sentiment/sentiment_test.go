package sentiment

import (
	"context"
	"testing"
)

func TestClassifyNegative(t *testing.T) {
	l := NewLexicon()
	res, err := l.Classify(context.Background(), "This is absolutely unacceptable, I am furious and I want a refund")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Label != LabelNegative {
		t.Fatalf("Label = %q, want negative", res.Label)
	}
	if res.Confidence < 0.7 {
		t.Fatalf("Confidence = %.2f, want >= 0.7 for strong frustration", res.Confidence)
	}
}

func TestClassifyPositive(t *testing.T) {
	l := NewLexicon()
	res, err := l.Classify(context.Background(), "thanks, that was really helpful, great support")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Label != LabelPositive {
		t.Fatalf("Label = %q, want positive", res.Label)
	}
}

func TestClassifyNeutralWhenNoEvidence(t *testing.T) {
	l := NewLexicon()
	res, err := l.Classify(context.Background(), "my order number is 12345")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Label != LabelNeutral {
		t.Fatalf("Label = %q, want neutral", res.Label)
	}
}

func TestClassifyEmptyText(t *testing.T) {
	l := NewLexicon()
	res, err := l.Classify(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Label != LabelNeutral || res.Confidence != 0 {
		t.Fatalf("empty text result = %+v, want neutral with zero confidence", res)
	}
}

func TestClassifyNegationFlipsSign(t *testing.T) {
	l := NewLexicon()
	res, err := l.Classify(context.Background(), "not helpful at all")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Label != LabelNegative {
		t.Fatalf("Label = %q, want negative for negated praise", res.Label)
	}
}

func TestClassifyCustomWeights(t *testing.T) {
	l := NewLexiconWithWeights(map[string]float64{"outage": -1.0})
	res, err := l.Classify(context.Background(), "another outage today")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.Label != LabelNegative {
		t.Fatalf("Label = %q, want negative for overlaid keyword", res.Label)
	}
}
