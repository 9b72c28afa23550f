// Package textsim fingerprints text for cheap near-duplicate detection. The
// content cache ranks similar entries with it and the consensus engine scores
// cross-provider agreement on prose answers.
package textsim

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// Fingerprint computes a 64-bit SimHash over the words and word bigrams of
// normalized content. Near-duplicate texts land at small Hamming distances.
// The zero fingerprint is reserved for empty content.
func Fingerprint(normalized string) uint64 {
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return 0
	}

	var weights [64]int
	add := func(feature string) {
		h := fnv.New64a()
		h.Write([]byte(feature))
		v := h.Sum64()
		for i := 0; i < 64; i++ {
			if v&(1<<uint(i)) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}

	for i, w := range words {
		add(w)
		if i+1 < len(words) {
			add(w + " " + words[i+1])
		}
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if weights[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Similarity maps the Hamming distance between two fingerprints onto [0, 1]:
// identical fingerprints score 1.0, uncorrelated ones hover near 0.5.
func Similarity(a, b uint64) float64 {
	return 1 - float64(bits.OnesCount64(a^b))/64
}
