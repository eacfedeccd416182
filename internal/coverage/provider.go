package coverage

import (
	"math"
	"sort"

	"github.com/JetBrains-Research/omnipeak/internal/genome"
	"github.com/JetBrains-Research/omnipeak/internal/readsource"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// Provider is the binned coverage provider contract: given a treatment
// file and optional control, produce per-bin non-negative integer
// coverage, optionally control-regressed.
type Provider interface {
	// Bin returns the ordered per-bin treatment signal for chrom.
	Bin(chrom string) ([]int32, error)

	// Score sums treatment signal over [start, end) on chrom.
	Score(chrom string, start, end int) (int64, error)

	// ControlAvailable reports whether a control track was supplied.
	ControlAvailable() bool

	// ControlScore sums control signal over [start, end) on chrom. Only
	// meaningful when ControlAvailable() is true.
	ControlScore(chrom string, start, end int) (int64, error)

	// ControlNormalizedScore returns max(0, T - beta*scale*C) rounded to
	// the nearest integer. With regression disabled it is simply the
	// treatment score.
	ControlNormalizedScore(chrom string, start, end int) (int64, error)
}

// ReadOpts configures the read-based BCP. Defaults match gonetics'
// BamCoverageDefaultConfig: no shift, no uniqueness filter, no strand
// restriction.
type ReadOpts struct {
	// ShiftPlus / ShiftMinus shift the 5' position of reads on the '+'
	// and '-' strand respectively, in base pairs.
	ShiftPlus, ShiftMinus int
	// Unique restricts counting to at most one read per (position,
	// strand) pair.
	Unique bool
}

// BuildReadBased scans every record yielded by r and produces a Track
// over layout, applying the fragment shift and optional uniqueness
// filter of the read-based provider.
func BuildReadBased(r readsource.Reader, layout genome.Layout, opts ReadOpts) (Track, error) {
	track := NewTrack(layout)
	seen := map[seenKey]bool{}

	n := 0
	for r.Scan() {
		rec := r.Record()
		if rec.Flags&sam.Unmapped != 0 || rec.Ref == nil {
			continue
		}
		chrom := rec.Ref.Name()
		if !layout.Has(chrom) {
			continue
		}
		strand := byte('+')
		pos := rec.Pos
		if rec.Flags&sam.Reverse != 0 {
			strand = '-'
			pos = rec.End() - 1
			pos += opts.ShiftMinus
		} else {
			pos += opts.ShiftPlus
		}
		if pos < 0 {
			pos = 0
		}
		if opts.Unique {
			key := seenKey{chrom: chrom, pos: pos, strand: strand}
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		track.Add(chrom, pos)
		n++
	}
	if err := r.Err(); err != nil {
		return Track{}, errors.Wrap(err, "coverage: reading alignment records")
	}
	log.Debug.Printf("coverage: read-based BCP counted %d reads", n)
	return track, nil
}

type seenKey struct {
	chrom  string
	pos    int
	strand byte
}

// BuildSummaryBased produces a Track from a continuous coverage source
// (e.g. BigWig), scaling values so the 99th-percentile bin signal lands
// inside [0.2*binSize, 2.0*binSize].
func BuildSummaryBased(r readsource.SummaryReader, layout genome.Layout) (Track, error) {
	binSize := layout.BinSize()
	raw := make(map[string][]float64, len(layout.Names()))
	var allValues []float64

	for _, chrom := range layout.Names() {
		n := layout.NumBins(chrom)
		vals := make([]float64, n)
		for k := 0; k < n; k++ {
			start, end := layout.BinRange(chrom, k)
			sum, err := r.SumOverRange(chrom, start, end)
			if err != nil {
				return Track{}, errors.Wrapf(err, "coverage: summing %s:%d-%d", chrom, start, end)
			}
			if sum < 0 {
				return Track{}, errors.Errorf("coverage: negative summary value on %s bin %d", chrom, k)
			}
			vals[k] = sum
			if sum > 0 {
				allValues = append(allValues, sum)
			}
		}
		raw[chrom] = vals
	}

	scale := 1.0
	if len(allValues) > 0 {
		p99 := percentile(allValues, 0.99)
		lo, hi := 0.2*float64(binSize), 2.0*float64(binSize)
		switch {
		case p99 < lo && p99 > 0:
			scale = lo / p99
		case p99 > hi:
			scale = hi / p99
		}
	}

	track := NewTrack(layout)
	for _, chrom := range layout.Names() {
		vals := raw[chrom]
		bins := track.Bin(chrom)
		for k, v := range vals {
			bins[k] = int32(math.Round(v * scale))
		}
	}
	return track, nil
}

func percentile(xs []float64, q float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

// regressedProvider implements Provider by combining a treatment Track
// with an optional control Track and regression parameters computed by
// globalScale and fitBeta.
type regressedProvider struct {
	treatment Track
	control   *Track
	scale     float64 // s
	beta      float64 // beta in [0,1]
}

// NewProvider builds a Provider from a treatment Track and an optional
// control Track. If control is non-nil, globalScale sets scale to
// sum(T)/sum(C), and fitBeta sets beta when regress is true; otherwise
// beta stays 0 and ControlNormalizedScore returns the treatment score.
func NewProvider(treatment Track, control *Track, regress bool) (Provider, error) {
	p := &regressedProvider{treatment: treatment, control: control}
	if control == nil {
		return p, nil
	}
	scale, err := globalScale(treatment, *control)
	if err != nil {
		return nil, err
	}
	p.scale = scale
	if regress {
		p.beta = fitBeta(treatment, *control, scale)
	}
	return p, nil
}

func (p *regressedProvider) Bin(chrom string) ([]int32, error) {
	bins := p.treatment.Bin(chrom)
	if bins == nil {
		return nil, errors.Errorf("coverage: unknown chromosome %q", chrom)
	}
	return bins, nil
}

func (p *regressedProvider) Score(chrom string, start, end int) (int64, error) {
	return p.treatment.Score(chrom, start, end)
}

func (p *regressedProvider) ControlAvailable() bool { return p.control != nil }

func (p *regressedProvider) ControlScore(chrom string, start, end int) (int64, error) {
	if p.control == nil {
		return 0, errors.New("coverage: no control track available")
	}
	return p.control.Score(chrom, start, end)
}

func (p *regressedProvider) ControlNormalizedScore(chrom string, start, end int) (int64, error) {
	t, err := p.treatment.Score(chrom, start, end)
	if err != nil {
		return 0, err
	}
	if p.control == nil {
		return t, nil
	}
	c, err := p.control.Score(chrom, start, end)
	if err != nil {
		return 0, err
	}
	regressed := float64(t) - p.beta*p.scale*float64(c)
	if regressed < 0 {
		regressed = 0
	}
	return int64(math.Round(regressed)), nil
}

// globalScale computes s = sum(T) / sum(C) across the genome, the linear
// rescaling factor used to bring control onto the treatment's scale.
func globalScale(treatment, control Track) (float64, error) {
	var sumT, sumC int64
	for _, chrom := range treatment.Layout().Names() {
		for _, v := range treatment.Bin(chrom) {
			sumT += int64(v)
		}
		for _, v := range control.Bin(chrom) {
			sumC += int64(v)
		}
	}
	if sumC == 0 {
		return 0, errors.New("coverage: control track has zero total signal")
	}
	return float64(sumT) / float64(sumC), nil
}

// fitBeta estimates beta in [0,1] minimizing the absolute Pearson
// correlation between T(b)-beta*s*C(b) and s*C(b), stepping beta by
// 0.01.
func fitBeta(treatment, control Track, scale float64) float64 {
	var t, c []float64
	for _, chrom := range treatment.Layout().Names() {
		tb := treatment.Bin(chrom)
		cb := control.Bin(chrom)
		for i := range tb {
			t = append(t, float64(tb[i]))
			c = append(c, float64(cb[i])*scale)
		}
	}
	bestBeta, bestAbsCorr := 0.0, math.Inf(1)
	for step := 0; step <= 100; step++ {
		beta := float64(step) * 0.01
		regressed := make([]float64, len(t))
		for i := range t {
			regressed[i] = t[i] - beta*c[i]
		}
		corr := pearson(regressed, c)
		if math.Abs(corr) < bestAbsCorr {
			bestAbsCorr = math.Abs(corr)
			bestBeta = beta
		}
	}
	return bestBeta
}

func pearson(x, y []float64) float64 {
	n := float64(len(x))
	if n == 0 {
		return 0
	}
	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/n, sy/n
	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}
