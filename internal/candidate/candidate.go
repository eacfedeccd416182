// Package candidate aggregates a per-bin foreground/background mask
// into genomic intervals ("candidates"), merging across short gaps and
// optionally splitting long candidates into summits. The bit scanning
// is word-at-a-time, via grailbio/base/bitset's NonzeroWordScanner.
package candidate

import (
	"math"
	"math/bits"
	"strings"

	"github.com/grailbio/base/bitset"
)

const wordBits = bits.UintSize

// Mask is a word-packed boolean array over a chromosome's bins.
type Mask struct {
	words []uintptr
	n     int
}

// NewMask builds a Mask of length n with all bits clear.
func NewMask(n int) Mask {
	return Mask{words: make([]uintptr, (n+wordBits-1)/wordBits), n: n}
}

// Set marks bin i as foreground.
func (m *Mask) Set(i int) {
	if i < 0 || i >= m.n {
		return
	}
	m.words[i/wordBits] |= uintptr(1) << uint(i%wordBits)
}

// MaskFromThreshold builds a Mask where bin i is set iff logNull[i] <=
// threshold (i.e. the null hypothesis is improbable enough to call the
// bin foreground).
func MaskFromThreshold(logNull []float64, threshold float64) Mask {
	m := NewMask(len(logNull))
	for i, v := range logNull {
		if v <= threshold {
			m.Set(i)
		}
	}
	return m
}

// SetBins returns the sorted indices of foreground bins, scanned via
// bitset.NonzeroWordScanner one word-column at a time; nonzeroWords is
// the count of nonzero entries in m.words, which the scanner uses to
// know when it has exhausted the row.
func (m Mask) SetBins() []int {
	nonzeroWords := 0
	for _, word := range m.words {
		if word != 0 {
			nonzeroWords++
		}
	}
	if nonzeroWords == 0 {
		return nil
	}
	var out []int
	for scanner, col := bitset.NewNonzeroWordScanner(m.words, nonzeroWords); col != -1; col = scanner.Next() {
		out = append(out, col)
	}
	return out
}

// Interval is a half-open bin-index range [Start, End) of contiguous
// (after gap-merging) foreground bins.
type Interval struct {
	Start, End int // bin indices, half-open
}

// Len returns the number of bins spanned.
func (iv Interval) Len() int { return iv.End - iv.Start }

// Options configures candidate aggregation.
type Options struct {
	// Gap is the maximum number of background bins allowed between two
	// foreground runs before they are still merged into one candidate.
	// If negative, Build derives it via EstimateGap.
	Gap int
	// FragmentationThreshold is F in the gap estimation formula
	// (spec's fragmentation-based gap estimation), in base pairs.
	FragmentationThreshold int
	BinSize                int
}

// Build aggregates the set bins of m into merged candidate intervals,
// using opts.Gap (or an estimated gap, see EstimateGap, when opts.Gap
// is negative) to bridge short background runs.
func Build(m Mask, opts Options) []Interval {
	bins := m.SetBins()
	if len(bins) == 0 {
		return nil
	}
	gap := opts.Gap
	if gap < 0 {
		gap = EstimateGap(bins, opts.FragmentationThreshold, opts.BinSize)
	}
	return mergeAtGap(bins, gap)
}

// mergeAtGap merges sorted foreground bin indices into intervals,
// bridging runs of background bins no longer than gap.
func mergeAtGap(bins []int, gap int) []Interval {
	if len(bins) == 0 {
		return nil
	}
	var out []Interval
	start, prev := bins[0], bins[0]
	for _, b := range bins[1:] {
		if b-prev-1 <= gap {
			prev = b
			continue
		}
		out = append(out, Interval{Start: start, End: prev + 1})
		start, prev = b, b
	}
	out = append(out, Interval{Start: start, End: prev + 1})
	return out
}

// EstimateGap derives the gap-merge distance (in bins) from how the
// candidate count itself responds to gap-merging: count(g) is the
// number of candidates produced by merging bins at gap g, f(g) =
// count(g)/count(0), S = Gmax - sum(f(g) for g in [0, Gmax]); the
// chosen gap is floor(S - F/binSize) when that exceeds 0, else 0. Gmax
// defaults to ceil(5000/binSize).
func EstimateGap(bins []int, fragmentationThreshold, binSize int) int {
	if binSize <= 0 {
		binSize = 1
	}
	gMax := (5000 + binSize - 1) / binSize
	count0 := len(mergeAtGap(bins, 0))
	if count0 == 0 {
		return 0
	}
	var sumF float64
	for g := 0; g <= gMax; g++ {
		countG := len(mergeAtGap(bins, g))
		sumF += float64(countG) / float64(count0)
	}
	s := float64(gMax) - sumF
	threshold := float64(fragmentationThreshold) / float64(binSize)
	if s < threshold {
		return 0
	}
	return int(math.Floor(s - threshold))
}

// IsAlternateContig reports whether a chromosome name looks like an
// alternate/unplaced/random contig that candidate building should
// exclude: names containing an underscore, or containing "random" or
// "un" case-insensitively.
func IsAlternateContig(chrom string) bool {
	lower := strings.ToLower(chrom)
	return strings.Contains(chrom, "_") ||
		strings.Contains(lower, "random") ||
		strings.Contains(lower, "un")
}

// FilterChromosomes returns the subset of chroms that are not
// alternate contigs, per IsAlternateContig.
func FilterChromosomes(chroms []string) []string {
	var out []string
	for _, c := range chroms {
		if !IsAlternateContig(c) {
			out = append(out, c)
		}
	}
	return out
}
