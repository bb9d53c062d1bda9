package chat

import (
	"context"
	"strings"

	"github.com/suPer8Hu/companion-chat/internal/protocol"
)

const (
	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"
)

type Assessment struct {
	Level     string
	Crisis    bool
	Message   string
	Resources []protocol.Resource
}

// Classifier screens a user message before it reaches the assistant.
type Classifier interface {
	Assess(ctx context.Context, text string) Assessment
}

// KeywordClassifier is a conservative phrase matcher. It errs toward
// surfacing resources; it does not diagnose.
type KeywordClassifier struct {
	High      []string
	Moderate  []string
	Resources []protocol.Resource
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		High: []string{
			"kill myself", "killing myself", "end my life", "suicide", "suicidal",
			"want to die", "self harm", "self-harm", "hurt myself", "overdose",
		},
		Moderate: []string{
			"hopeless", "worthless", "can't go on", "cant go on", "no reason to live",
			"panic attack", "can't cope", "cant cope", "falling apart",
		},
		Resources: []protocol.Resource{
			{
				Title:       "Find a helpline",
				Description: "Free, confidential support lines in your country.",
				URL:         "https://findahelpline.com",
			},
		},
	}
}

func (k *KeywordClassifier) Assess(_ context.Context, text string) Assessment {
	t := strings.ToLower(text)
	switch {
	case containsAny(t, k.High):
		return Assessment{
			Level:     RiskHigh,
			Crisis:    true,
			Message:   "It sounds like you may be in crisis. If you are in immediate danger, please contact local emergency services.",
			Resources: k.Resources,
		}
	case containsAny(t, k.Moderate):
		return Assessment{Level: RiskModerate, Resources: k.Resources}
	default:
		return Assessment{Level: RiskLow}
	}
}

// Events are emitted ahead of the first token. Low risk emits nothing.
func (a Assessment) Events() []protocol.Event {
	if a.Level == "" || a.Level == RiskLow {
		return nil
	}
	evs := []protocol.Event{protocol.RiskAssessment(a.Level)}
	if a.Crisis {
		evs = append(evs, protocol.CrisisAlert(a.Message))
	}
	if len(a.Resources) > 0 {
		evs = append(evs, protocol.Resources(a.Resources, a.Level))
	}
	return evs
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
