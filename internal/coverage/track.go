package coverage

import (
	"github.com/JetBrains-Research/omnipeak/internal/genome"
	"github.com/pkg/errors"
)

// Track is a per-chromosome integer coverage vector, one entry per bin,
// filled once when it is built and not cached by the Track itself:
// construct then freeze, no interior mutability behind a lazy field.
type Track struct {
	layout genome.Layout
	bins   map[string][]int32
}

// NewTrack allocates a zero-filled Track for every chromosome in layout.
func NewTrack(layout genome.Layout) Track {
	bins := make(map[string][]int32, len(layout.Names()))
	for _, name := range layout.Names() {
		bins[name] = make([]int32, layout.NumBins(name))
	}
	return Track{layout: layout, bins: bins}
}

// Layout returns the genome layout the track is defined over.
func (t Track) Layout() genome.Layout { return t.layout }

// Bin returns the bin vector for chrom. The returned slice is owned by
// the Track and must not be retained past the Track's lifetime if the
// Track is later mutated.
func (t Track) Bin(chrom string) []int32 { return t.bins[chrom] }

// Add increments the bin containing position pos (0-based) on chrom by
// one. Positions outside the chromosome are ignored.
func (t Track) Add(chrom string, pos int) {
	bins := t.bins[chrom]
	if bins == nil || pos < 0 || pos >= t.layout.Length(chrom) {
		return
	}
	k := pos / t.layout.BinSize()
	if k < 0 || k >= len(bins) {
		return
	}
	bins[k]++
}

// Score sums bin counts over the half-open base-pair range [start, end)
// on chrom.
func (t Track) Score(chrom string, start, end int) (int64, error) {
	bins := t.bins[chrom]
	if bins == nil {
		return 0, errors.Errorf("coverage: unknown chromosome %q", chrom)
	}
	binSize := t.layout.BinSize()
	k0 := start / binSize
	k1 := (end - 1) / binSize
	if k0 < 0 {
		k0 = 0
	}
	if k1 >= len(bins) {
		k1 = len(bins) - 1
	}
	var sum int64
	for k := k0; k <= k1; k++ {
		sum += int64(bins[k])
	}
	return sum, nil
}

// IsZero reports whether every bin on every chromosome is zero. Used to
// detect entirely-empty treatment coverage, a fatal input condition.
func (t Track) IsZero() bool {
	for _, bins := range t.bins {
		for _, v := range bins {
			if v != 0 {
				return false
			}
		}
	}
	return true
}

// NonZeroChromosomes returns the subset of layout.Names() whose bin
// vector contains at least one nonzero entry.
func (t Track) NonZeroChromosomes() []string {
	var out []string
	for _, name := range t.layout.Names() {
		bins := t.bins[name]
		for _, v := range bins {
			if v != 0 {
				out = append(out, name)
				break
			}
		}
	}
	return out
}
