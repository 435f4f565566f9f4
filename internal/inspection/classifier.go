package inspection

import (
	"regexp"
	"strings"
)

type Kind int

const (
	KindNone Kind = iota
	KindComplete
	KindCapture
	KindAssertView
)

func (k Kind) String() string {
	switch k {
	case KindComplete:
		return "complete"
	case KindCapture:
		return "capture"
	case KindAssertView:
		return "assert_view"
	default:
		return "none"
	}
}

// View names what the inspector says the camera is pointed at.
type View struct {
	Section string `json:"section"`
	Item    string `json:"item"`
}

type Classification struct {
	Kind  Kind
	Views []View
}

// Classifier maps a model transcript to the one control signal it carries.
type Classifier interface {
	Classify(transcript string) Classification
}

type ViewRule struct {
	Pattern *regexp.Regexp
	View    View
}

// KeywordClassifier matches lowercase substrings with a fixed precedence:
// completion, then capture, then view assertions.
type KeywordClassifier struct {
	CompletePhrases []string
	CapturePhrases  []string
	ViewRules       []ViewRule
}

func NewKeywordClassifier() KeywordClassifier {
	return KeywordClassifier{
		CompletePhrases: []string{"inspection completed"},
		CapturePhrases:  []string{"good image", "captured"},
		ViewRules: []ViewRule{
			{Pattern: regexp.MustCompile(`(front).*(tyre|tire|tyer)`), View: View{Section: "front", Item: "tyre"}},
			{Pattern: regexp.MustCompile(`(rear|back).*(tyre|tire|tyer)`), View: View{Section: "back", Item: "tyre"}},
		},
	}
}

func (c KeywordClassifier) Classify(transcript string) Classification {
	t := strings.ToLower(transcript)
	if containsAny(t, c.CompletePhrases) {
		return Classification{Kind: KindComplete}
	}
	if containsAny(t, c.CapturePhrases) {
		return Classification{Kind: KindCapture}
	}
	var views []View
	for _, rule := range c.ViewRules {
		if rule.Pattern != nil && rule.Pattern.MatchString(t) {
			views = append(views, rule.View)
		}
	}
	if len(views) > 0 {
		return Classification{Kind: KindAssertView, Views: views}
	}
	return Classification{Kind: KindNone}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
