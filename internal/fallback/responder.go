// Package fallback produces canned chat replies when no remote chat endpoint
// answers. Replies are HTML fragments rendered directly by the chat widget.
package fallback

import (
	"fmt"
	"html"
	"strings"
	"unicode"
)

// Rule names reported by Responder.Rule.
const (
	RuleFactCheck = "fact_check"
	RuleAnalysis  = "analysis"
	RuleGeneral   = "general"
)

// FactCheckGuide is the reply for questions about fake news and fact checking.
const FactCheckGuide = `<strong>Fake News Detection Guide:</strong><br><br>
1. 🔍 <strong>Source Verification</strong><br>
• Check the website's "About Us" page<br>
• Look for contact information<br>
• Verify author credentials<br><br>
2. 📝 <strong>Content Analysis</strong><br>
• Watch for emotional language<br>
• Check for spelling/grammar errors<br>
• Look for cited sources<br><br>
3. 🏢 <strong>Cross-Referencing</strong><br>
• Search the topic on reputable sites<br>
• Check fact-checking organizations<br><br>
<strong>Recommended Fact-Checkers:</strong><br>
• Snopes.com<br>
• FactCheck.org<br>
• PolitiFact.com<br>
• Reuters Fact Check<br>`

// AnalysisInstructions is the reply for requests to analyze content or URLs.
const AnalysisInstructions = `🔍 <strong>Content Analysis Instructions:</strong><br><br>
1. Go to the <a href="/analyze" class="text-primary" target="_blank">Analysis page</a><br>
2. Paste the text or URL you want to check<br>
3. Click "Analyze Content"<br>
4. Review the detailed report<br><br>
<strong>What we analyze:</strong><br>
• Source credibility score<br>
• Emotional language detection<br>
• Factual accuracy indicators<br>
• Bias detection<br>`

const generalTemplate = `I understand you're asking about "%s".<br><br>
<strong>As your TruthGuard assistant, I can help with:</strong><br><br>
• Content analysis for misinformation<br>
• Source credibility assessment<br>
• Fact-checking guidance<br>
• Misinformation pattern recognition<br><br>
<div class="alert alert-info mb-0"><i class="fas fa-info-circle me-2"></i><strong>AI Status:</strong> %s</div>`

const (
	statusAIActive = "Gemini AI Active"
	statusEnhanced = "Using enhanced responses"
)

type rule struct {
	name     string
	keywords []string
	// topics match when every word of a set appears as a whole word.
	topics [][]string
	render func(text string, aiAvailable bool) string
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		name:     RuleFactCheck,
		keywords: []string{"fake news", "misinformation", "fact check"},
		topics:   [][]string{{"fake", "news"}},
		render:   func(string, bool) string { return FactCheckGuide },
	},
	{
		name:     RuleAnalysis,
		keywords: []string{"analyze", "check", "url"},
		render:   func(string, bool) string { return AnalysisInstructions },
	},
}

var generalRule = rule{
	name: RuleGeneral,
	render: func(text string, aiAvailable bool) string {
		status := statusEnhanced
		if aiAvailable {
			status = statusAIActive
		}
		return fmt.Sprintf(generalTemplate, html.EscapeString(text), status)
	},
}

// Responder maps user text to a canned reply. It is safe for concurrent use.
type Responder struct {
	aiAvailable bool
}

// NewResponder creates a Responder. aiAvailable is reported in the generic
// reply's status line.
func NewResponder(aiAvailable bool) *Responder {
	return &Responder{aiAvailable: aiAvailable}
}

// AIAvailable reports the flag the responder was built with.
func (r *Responder) AIAvailable() bool {
	return r.aiAvailable
}

// Respond returns the reply for text. It never fails.
func (r *Responder) Respond(text string) string {
	return match(text).render(text, r.aiAvailable)
}

// Rule returns the name of the rule Respond would use for text.
func (r *Responder) Rule(text string) string {
	return match(text).name
}

func match(text string) rule {
	lower := strings.ToLower(text)
	var words map[string]bool
	for _, rl := range rules {
		for _, kw := range rl.keywords {
			if strings.Contains(lower, kw) {
				return rl
			}
		}
		if len(rl.topics) == 0 {
			continue
		}
		if words == nil {
			words = wordSet(lower)
		}
		for _, topic := range rl.topics {
			if hasAll(words, topic) {
				return rl
			}
		}
	}
	return generalRule
}

func wordSet(lower string) map[string]bool {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func hasAll(words map[string]bool, topic []string) bool {
	for _, w := range topic {
		if !words[w] {
			return false
		}
	}
	return true
}

// Welcome renders the greeting shown when a chat starts or is cleared.
// model is named only when non-empty.
func Welcome(model string) string {
	var b strings.Builder
	b.WriteString("<p>👋 Hello! I'm your TruthGuard AI Assistant")
	if model != "" {
		b.WriteString(", powered by ")
		b.WriteString(html.EscapeString(model))
	}
	b.WriteString(".</p>\n<p>I can help you with:</p>\n<ul class=\"list-unstyled mb-0\">\n")
	for _, item := range welcomeItems {
		b.WriteString("<li>")
		b.WriteString(item)
		b.WriteString("</li>\n")
	}
	b.WriteString("</ul>\n<p class=\"mt-3\">What would you like to check today?</p>")
	return b.String()
}

var welcomeItems = []string{
	"Analyzing text for misinformation",
	"Checking URLs for credibility",
	"Fact-checking assistance",
	"Source verification",
	"Misinformation detection",
}

// Suggestions are the quick questions offered under the welcome message.
var Suggestions = []string{
	"How do I analyze content for misinformation?",
	"Tell me about TruthGuard",
	"How can I check if a news article is fake?",
	"What are the latest fake news trends?",
}
