package rag

import (
	"fmt"
	"slices"
)

// PageValidation controls how relevant_pages from the synthesizer are checked
type PageValidation string

const (
	// PagesStrict keeps only pages present in the retrieved chunks
	PagesStrict PageValidation = "strict"
	// PagesTrust passes the synthesizer's pages through unchanged
	PagesTrust PageValidation = "trust"
)

// ParsePageValidation maps a config value to a PageValidation
func ParsePageValidation(s string) (PageValidation, error) {
	switch v := PageValidation(s); v {
	case PagesStrict, PagesTrust:
		return v, nil
	case "":
		return PagesStrict, nil
	default:
		return "", fmt.Errorf("unknown page validation mode %q", s)
	}
}

// validatePages applies mode to the synthesizer output.
//
// In strict mode pages outside the retrieved set are dropped, duplicates
// are removed and model order is kept. When a real answer ends up with no
// pages at all, the retrieved pages are substituted so the caller always
// has a citation. A fallback answer from the synthesizer is normalised to
// the exact fallback shape.
func validatePages(mode PageValidation, ans Answer, matches []Match) Answer {
	if ans.RelevantPages == nil {
		ans.RelevantPages = []int{}
	}
	if mode == PagesTrust {
		return ans
	}
	if ans.Answer == FallbackText {
		return FallbackAnswer()
	}

	allowed := sortedPages(matches)
	kept := make([]int, 0, len(ans.RelevantPages))
	for _, p := range ans.RelevantPages {
		if slices.Contains(allowed, p) && !slices.Contains(kept, p) {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		kept = allowed
	}
	ans.RelevantPages = kept
	return ans
}
