package evaluation

import (
	"fmt"
	"strings"

	"ArticlesRanker/internal/domain"
)

const excerptLimit = 600

const relevanceSystemPrompt = `You are a fast relevance classifier for a technical news radar.
Score how relevant each article is to the given keyword on a 0-10 scale:
0 = unrelated, 3 = mentions the topic in passing, 6 = clearly about the topic, 10 = central and specific.
Respond with JSON only: {"results":[{"index":<int>,"score":<number>,"reason":"<short>"}]}`

const qualitySystemPrompt = `You are a senior technical editor ranking articles for engineers.
For each article score five axes from 0 to 20:
technical (depth and correctness), novelty (new information), impact (practical consequences),
quality (writing and evidence), relevance (fit to the keyword, judged with full context).
Also give total (0-100) and summary_ja, a one-sentence Japanese summary.
Respond with JSON only: {"results":[{"index":<int>,"technical":<n>,"novelty":<n>,"impact":<n>,"quality":<n>,"relevance":<n>,"total":<n>,"summary_ja":"<text>"}]}`

const judgeSystemPrompt = `You are one of several independent judges scoring a technical article.
Score five axes from 0 to 20: technical, novelty, impact, quality, relevance (fit to the keyword).
Give a one-sentence rationale per axis and summary_ja, a one-sentence Japanese summary.
%s
Respond with JSON only: {"scores":{"technical":<n>,"novelty":<n>,"impact":<n>,"quality":<n>,"relevance":<n>},"rationale":{"technical":"...","novelty":"...","impact":"...","quality":"...","relevance":"..."},"summary_ja":"<text>"}`

const metaJudgeSystemPrompt = `You consolidate the verdicts of several judges who disagreed about a technical article.
Weigh their rationales, resolve each disagreement explicitly, and issue authoritative final scores
(five axes, 0-20 each), a confidence between 0 and 1, and summary_ja, a one-sentence Japanese summary.
List every contradiction you resolved.
Respond with JSON only: {"scores":{"technical":<n>,"novelty":<n>,"impact":<n>,"quality":<n>,"relevance":<n>},"confidence":<n>,"summary_ja":"<text>","contradictions":[{"axis":"<axis>","judge_a":"<name>","judge_b":"<name>","score_a":<n>,"score_b":<n>,"difference":<n>,"resolution":"<short>"}]}`

func keywordLine(keyword domain.Keyword) string {
	line := fmt.Sprintf("Keyword: %s", keyword.Term)
	if aliases := keyword.Terms()[1:]; len(aliases) > 0 {
		line += fmt.Sprintf(" (aliases: %s)", strings.Join(aliases, ", "))
	}
	return line
}

func batchPrompt(keyword domain.Keyword, articles []domain.Article) string {
	var b strings.Builder
	b.WriteString(keywordLine(keyword))
	b.WriteString("\n\nArticles:\n")
	for i, a := range articles {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i, a.Title, a.Excerpt(excerptLimit))
	}
	return b.String()
}

func articlePrompt(keyword domain.Keyword, article domain.Article) string {
	var b strings.Builder
	b.WriteString(keywordLine(keyword))
	fmt.Fprintf(&b, "\n\nTitle: %s\nURL: %s\n\n%s\n", article.Title, article.URL, article.Excerpt(excerptLimit*3))
	return b.String()
}

func judgeSystem(focus string) string {
	if strings.TrimSpace(focus) != "" {
		focus = "Your particular focus: " + strings.TrimSpace(focus)
	}
	return fmt.Sprintf(judgeSystemPrompt, focus)
}

func metaPrompt(keyword domain.Keyword, article domain.Article, judges []domain.JudgeEvaluation, detected []domain.Contradiction) string {
	var b strings.Builder
	b.WriteString(articlePrompt(keyword, article))
	b.WriteString("\nJudge verdicts:\n")
	for _, j := range judges {
		fmt.Fprintf(&b, "- %s (weight %.2f):", j.JudgeName, j.Weight)
		for _, axis := range domain.Axes() {
			fmt.Fprintf(&b, " %s=%.1f", axis, j.Scores.Get(axis))
		}
		b.WriteString("\n")
		for _, axis := range domain.Axes() {
			if r := strings.TrimSpace(j.Rationale[axis]); r != "" {
				fmt.Fprintf(&b, "    %s: %s\n", axis, r)
			}
		}
	}
	if len(detected) > 0 {
		b.WriteString("\nDisagreements above tolerance:\n")
		for _, c := range detected {
			fmt.Fprintf(&b, "- %s: %s=%.1f vs %s=%.1f (diff %.1f)\n", c.Axis, c.JudgeA, c.ScoreA, c.JudgeB, c.ScoreB, c.Difference)
		}
	}
	return b.String()
}
