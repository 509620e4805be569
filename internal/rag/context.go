package rag

import (
	"fmt"
	"strings"
)

const hydeSystemPrompt = `You are a helpful AI assistant built to write hypothetical answers to the user's question.
Write a concise, plausible answer as it might appear in a reference document. Do not mention that the answer is hypothetical.`

const answerSystemPrompt = `You are a helpful AI assistant.
You will parse the provided text documents and generate a well-structured, human-readable explanation based on the user's question.
Each document excerpt is introduced by "Page <number>:".
Rules:
1. If no relevant info is found, return {"answer": "` + FallbackText + `", "relevant_pages": []}
2. Always return the list of relevant pages, e.g. [PAGE, PAGE, PAGE], whenever any relevant pages are found. Only use page numbers that appear in the excerpts.
3. The final answer should be a well-structured, human-readable answer.
4. Use the style and tone of beginner-friendly explanations, similar to what's found in documentation.`

// BuildContext renders matches as "Page <label>:\n<text>" blocks separated by a blank line
func BuildContext(matches []Match) string {
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, fmt.Sprintf("Page %s:\n%s", pageLabel(m.Metadata), m.Text))
	}
	return strings.Join(parts, "\n\n")
}

// BuildPrompt appends the question to the context block
func BuildPrompt(contextBlock, question string) string {
	return contextBlock + "\n\nQuestion: " + question
}

func pageLabel(md Metadata) string {
	if md.PageLabel != "" {
		return md.PageLabel
	}
	return fmt.Sprint(md.Page)
}
