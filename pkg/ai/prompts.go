package ai

import (
	"fmt"
	"strings"

	"cv-optimizer/internal/domain"
)

// maxJobTextChars keeps very long job pages inside the model context.
const maxJobTextChars = 20000

func KeywordsPrompt(jobText string) string {
	if len(jobText) > maxJobTextChars {
		jobText = jobText[:maxJobTextChars]
	}
	return "List the skills, technologies, qualifications and phrases a hiring manager " +
		"would screen for in the following job posting. Return a comma separated list only.\n\n" +
		"JOB POSTING:\n" + jobText
}

var tierInstructions = map[domain.InstructionTier]string{
	domain.TierMinimal:    "Make minimal edits: adjust wording where a keyword fits naturally and keep structure and tone unchanged.",
	domain.TierModerate:   "Rephrase bullet points and the summary to feature the keywords while keeping every fact and section intact.",
	domain.TierAggressive: "Rewrite freely to maximise keyword alignment, reorder emphasis and tighten phrasing, without inventing experience.",
}

// RefinementPrompt builds the rewrite instruction for the given level.
func RefinementPrompt(keywords, document string, level int) string {
	tier := domain.TierForLevel(level)
	var b strings.Builder
	fmt.Fprintf(&b, "Refine the CV below for the target keywords. Intensity %d of 10. %s\n", level, tierInstructions[tier])
	b.WriteString("Return the complete CV as HTML using the same markup structure. Do not wrap it in markdown.\n\n")
	b.WriteString("KEYWORDS:\n")
	b.WriteString(keywords)
	b.WriteString("\n\nCV:\n")
	b.WriteString(document)
	return b.String()
}
