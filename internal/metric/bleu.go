package metric

import (
	"math"
	"strings"
)

const maxOrder = 4

// CorpusBLEU scores candidates against references with uniformly weighted
// clipped 1..4-gram precisions and the brevity penalty. Tokens are
// whitespace separated. The score is in [0, 1].
func CorpusBLEU(candidates, references []string) float64 {
	var (
		matches [maxOrder]int
		totals  [maxOrder]int
		outLen  int
		refLen  int
	)
	for i, cand := range candidates {
		out := strings.Fields(cand)
		var ref []string
		if i < len(references) {
			ref = strings.Fields(references[i])
		}
		outLen += len(out)
		refLen += len(ref)

		for n := 1; n <= maxOrder; n++ {
			refCounts := ngrams(ref, n)
			for gram, c := range ngrams(out, n) {
				matches[n-1] += min(c, refCounts[gram])
				totals[n-1] += c
			}
		}
	}

	if outLen == 0 || matches[0] == 0 {
		return 0
	}

	logSum := 0.0
	for n := 0; n < maxOrder; n++ {
		if totals[n] == 0 || matches[n] == 0 {
			return 0
		}
		logSum += 0.25 * math.Log(float64(matches[n])/float64(totals[n]))
	}
	return brevityPenalty(outLen, refLen) * math.Exp(logSum)
}

func brevityPenalty(outLen, refLen int) float64 {
	if outLen == 0 {
		return 0
	}
	return math.Min(1, math.Exp(1-float64(refLen)/float64(outLen)))
}

func ngrams(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return counts
}
