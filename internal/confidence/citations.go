package confidence

import (
	"regexp"
	"strconv"

	"github.com/a-marczewski/ragline/internal/fusion"
)

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// CitationValidity checks the bracketed citations in an answer against the
// candidate set that was offered as context. It returns the fraction of
// citations that refer to a real candidate (1-based position), and false when
// the answer cites nothing, in which case the signal is unavailable rather
// than zero.
func CitationValidity(answer string, candidates []fusion.Candidate) (float64, bool) {
	matches := citationMarker.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return 0, false
	}

	valid := 0
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 && n <= len(candidates) {
			valid++
		}
	}
	return float64(valid) / float64(len(matches)), true
}
