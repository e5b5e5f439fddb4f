package normalization

import "unicode"

func isHan(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// CutForSearch tokenizes text for keyword matching. ASCII identifier runs are
// emitted whole; Chinese runs are emitted as sliding bigrams plus the full run
// for short runs, which gives recall comparable to search-mode word
// segmentation without a dictionary.
func CutForSearch(text string) []string {
	var tokens []string
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case isHan(r):
			j := i
			for j < len(runes) && isHan(runes[j]) {
				j++
			}
			tokens = append(tokens, cutHanRun(runes[i:j])...)
			i = j
		case isWordRune(r):
			j := i
			for j < len(runes) && isWordRune(runes[j]) && !isHan(runes[j]) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		default:
			i++
		}
	}
	return tokens
}

func cutHanRun(run []rune) []string {
	if len(run) == 0 {
		return nil
	}
	if len(run) <= 2 {
		return []string{string(run)}
	}
	tokens := make([]string, 0, len(run))
	for i := 0; i+2 <= len(run); i++ {
		tokens = append(tokens, string(run[i:i+2]))
	}
	if len(run) <= 4 {
		tokens = append(tokens, string(run))
	}
	return tokens
}
