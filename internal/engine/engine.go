// Package engine wires the pipeline stages — coverage, HMM fit,
// sensitivity estimation, candidate building, and scoring — into the
// two user-facing operations, Analyze (single-track peak calling) and
// Compare (two-track differential calling), parallelized per chromosome
// via traverse with at most Config.Parallelism chromosomes in flight.
package engine

import (
	"context"
	"math"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"

	"github.com/JetBrains-Research/omnipeak/internal/blacklist"
	"github.com/JetBrains-Research/omnipeak/internal/candidate"
	"github.com/JetBrains-Research/omnipeak/internal/coverage"
	"github.com/JetBrains-Research/omnipeak/internal/genome"
	"github.com/JetBrains-Research/omnipeak/internal/hmm"
	"github.com/JetBrains-Research/omnipeak/internal/modelio"
	"github.com/JetBrains-Research/omnipeak/internal/nbinom"
	"github.com/JetBrains-Research/omnipeak/internal/omerr"
	"github.com/JetBrains-Research/omnipeak/internal/score"
	"github.com/JetBrains-Research/omnipeak/internal/sensitivity"
)

// Config is the immutable set of parameters governing one Analyze or
// Compare run. Zero-value fields are replaced by DefaultConfig's
// values where that makes sense; construct via DefaultConfig and
// override only what you need.
type Config struct {
	StateSet     hmm.StateSet
	FitConfig    hmm.FitConfig
	ScoreConfig  score.Config
	FDRTarget    float64
	Blacklist    blacklist.Set
	Parallelism  int
	FragmentBase int // fragmentation threshold, bp, for gap estimation
}

// DefaultConfig returns the engine's default tuning for Analyze.
func DefaultConfig() Config {
	return Config{
		StateSet:     hmm.Analyze,
		FitConfig:    hmm.DefaultFitConfig(),
		ScoreConfig:  score.DefaultConfig(),
		FDRTarget:    0.05,
		Blacklist:    blacklist.Empty(),
		Parallelism:  4,
		FragmentBase: 5000,
	}
}

// ChromosomeOutcome is the per-chromosome result of a pipeline run,
// returned alongside the flattened peak list so callers (and
// modelio.Save) can persist fit diagnostics.
type ChromosomeOutcome struct {
	Chromosome string
	FitInfo    modelio.FitInfo
	LogNull    []float32
	Peaks      []score.Peak
}

// Analyze runs the single-track pipeline over every non-alternate
// chromosome in layout, calling provider for per-bin signal.
func Analyze(ctx context.Context, provider coverage.Provider, layout genome.Layout, cfg Config) ([]score.Peak, []ChromosomeOutcome, error) {
	chroms := candidate.FilterChromosomes(layout.Names())
	outcomes := make([]ChromosomeOutcome, len(chroms))
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	err := traverse.Limit(parallelism).Each(len(chroms), func(i int) error {
		select {
		case <-ctx.Done():
			return omerr.Wrap(omerr.Cancelled, ctx.Err(), "engine: run cancelled")
		default:
		}
		chrom := chroms[i]
		bins, err := provider.Bin(chrom)
		if err != nil {
			return omerr.Wrap(omerr.Input, err, "engine: reading bins for "+chrom)
		}
		if provider.ControlAvailable() {
			normalized := make([]int32, len(bins))
			for k := range normalized {
				start, end := layout.BinRange(chrom, k)
				v, err := provider.ControlNormalizedScore(chrom, start, end)
				if err != nil {
					return omerr.Wrap(omerr.Input, err, "engine: normalizing bins for "+chrom)
				}
				normalized[k] = int32(v)
			}
			bins = normalized
		}
		outcome, err := analyzeChromosome(chrom, bins, layout.BinSize(), cfg)
		if err != nil {
			return err
		}
		outcomes[i] = outcome
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var peaks []score.Peak
	for _, o := range outcomes {
		peaks = append(peaks, o.Peaks...)
	}
	sortPeaks(peaks)
	return peaks, outcomes, nil
}

func analyzeChromosome(chrom string, bins []int32, binSize int, cfg Config) (ChromosomeOutcome, error) {
	if len(bins) == 0 {
		return ChromosomeOutcome{}, omerr.Newf(omerr.Input, "engine: chromosome %s has no bins", chrom)
	}
	model, converged, res := hmm.Fit(bins, cfg.StateSet, cfg.FitConfig)
	logNull := res.LogNull

	mean := meanBin(bins)
	lambdaPerBin := math.Max(mean, 1e-6)

	counter := func(prob float64) (int, float64) {
		threshold := math.Log(prob)
		mask := candidate.MaskFromThreshold(logNull, threshold)
		// No gap-merging during the sensitivity sweep: n(s) and L(s) are
		// counted on raw foreground runs, before any gap is estimated.
		ivs := candidate.Build(mask, candidate.Options{Gap: 0, FragmentationThreshold: cfg.FragmentBase, BinSize: 1})
		if len(ivs) == 0 {
			return 0, 0
		}
		total := 0
		for _, iv := range ivs {
			total += iv.Len()
		}
		return len(ivs), float64(total) / float64(len(ivs))
	}
	points := sensitivity.Sweep(1e-10, 0.5, counter)
	chosen, _ := sensitivity.Estimate(points, cfg.FDRTarget)

	mask := candidate.MaskFromThreshold(logNull, math.Log(math.Max(chosen.Threshold, 1e-300)))
	ivs := candidate.Build(mask, candidate.Options{Gap: -1, FragmentationThreshold: cfg.FragmentBase, BinSize: binSize})

	scoreCfg := cfg.ScoreConfig
	scoreCfg.FDRTarget = cfg.FDRTarget
	peaks := score.BuildPeaks(chrom, ivs, bins, logNull, lambdaPerBin, binSize, cfg.Blacklist, scoreCfg)

	logNull32 := make([]float32, len(logNull))
	for i, v := range logNull {
		logNull32[i] = float32(v)
	}

	log.Debug.Printf("engine: %s fit converged=%v peaks=%d", chrom, converged, len(peaks))
	return ChromosomeOutcome{
		Chromosome: chrom,
		FitInfo: modelio.FitInfo{
			Chromosome:    chrom,
			Converged:     converged,
			Iterations:    cfg.FitConfig.MaxIterations,
			LogLikelihood: res.LogLikelihood,
			LowQuality:    model.LowQuality,
		},
		LogNull: logNull32,
		Peaks:   peaks,
	}, nil
}

// Compare runs the differential pipeline over two tracks sharing the
// same layout, emitting peaks for bins whose difference track is
// confidently in the Compare model's Increased or Decreased state.
func Compare(ctx context.Context, a, b coverage.Provider, layout genome.Layout, cfg Config) ([]score.Peak, []ChromosomeOutcome, error) {
	compareCfg := cfg
	compareCfg.StateSet = hmm.Compare
	chroms := candidate.FilterChromosomes(layout.Names())
	outcomes := make([]ChromosomeOutcome, len(chroms))
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	err := traverse.Limit(parallelism).Each(len(chroms), func(i int) error {
		select {
		case <-ctx.Done():
			return omerr.Wrap(omerr.Cancelled, ctx.Err(), "engine: run cancelled")
		default:
		}
		chrom := chroms[i]
		binsA, err := a.Bin(chrom)
		if err != nil {
			return omerr.Wrap(omerr.Input, err, "engine: reading track A bins for "+chrom)
		}
		binsB, err := b.Bin(chrom)
		if err != nil {
			return omerr.Wrap(omerr.Input, err, "engine: reading track B bins for "+chrom)
		}
		outcome, err := compareChromosome(chrom, binsA, binsB, layout.BinSize(), compareCfg)
		if err != nil {
			return err
		}
		outcomes[i] = outcome
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var peaks []score.Peak
	for _, o := range outcomes {
		peaks = append(peaks, o.Peaks...)
	}
	sortPeaks(peaks)
	return peaks, outcomes, nil
}

func compareChromosome(chrom string, binsA, binsB []int32, binSize int, cfg Config) (ChromosomeOutcome, error) {
	n := len(binsA)
	if n != len(binsB) || n == 0 {
		return ChromosomeOutcome{}, omerr.Newf(omerr.Input, "engine: track length mismatch on %s", chrom)
	}
	diff := make([]int32, n)
	for i := range diff {
		d := int32(binsA[i]) - int32(binsB[i])
		if d < 0 {
			d = -d
		}
		diff[i] = d
	}
	model, converged, res := hmm.Fit(diff, hmm.Compare, cfg.FitConfig)
	logNull := res.LogNull

	lambdaPerBin := math.Max(meanBin(diff), 1e-6)
	counter := func(prob float64) (int, float64) {
		threshold := math.Log(prob)
		mask := candidate.MaskFromThreshold(logNull, threshold)
		// No gap-merging during the sensitivity sweep: n(s) and L(s) are
		// counted on raw foreground runs, before any gap is estimated.
		ivs := candidate.Build(mask, candidate.Options{Gap: 0, FragmentationThreshold: cfg.FragmentBase, BinSize: 1})
		if len(ivs) == 0 {
			return 0, 0
		}
		total := 0
		for _, iv := range ivs {
			total += iv.Len()
		}
		return len(ivs), float64(total) / float64(len(ivs))
	}
	points := sensitivity.Sweep(1e-10, 0.5, counter)
	chosen, _ := sensitivity.Estimate(points, cfg.FDRTarget)

	mask := candidate.MaskFromThreshold(logNull, math.Log(math.Max(chosen.Threshold, 1e-300)))
	ivs := candidate.Build(mask, candidate.Options{Gap: -1, FragmentationThreshold: cfg.FragmentBase, BinSize: binSize})
	scoreCfg := cfg.ScoreConfig
	scoreCfg.FDRTarget = cfg.FDRTarget
	peaks := score.BuildPeaks(chrom, ivs, diff, logNull, lambdaPerBin, binSize, cfg.Blacklist, scoreCfg)
	for i := range peaks {
		peaks[i].Name = directionLabel(binsA, binsB, peaks[i].Start/binSize, peaks[i].End/binSize)
	}

	logNull32 := make([]float32, len(logNull))
	for i, v := range logNull {
		logNull32[i] = float32(v)
	}
	return ChromosomeOutcome{
		Chromosome: chrom,
		FitInfo: modelio.FitInfo{
			Chromosome:    chrom,
			Converged:     converged,
			Iterations:    cfg.FitConfig.MaxIterations,
			LogLikelihood: res.LogLikelihood,
			LowQuality:    model.LowQuality,
		},
		LogNull: logNull32,
		Peaks:   peaks,
	}, nil
}

// directionLabel reports whether track A or track B carries more
// signal over the bin range [start, end), since the Compare model's diff track only
// encodes magnitude of change, not which side it favors.
func directionLabel(binsA, binsB []int32, start, end int) string {
	var sumA, sumB int64
	for i := start; i < end && i < len(binsA); i++ {
		sumA += int64(binsA[i])
		sumB += int64(binsB[i])
	}
	if sumA >= sumB {
		return "gain"
	}
	return "loss"
}

func meanBin(bins []int32) float64 {
	if len(bins) == 0 {
		return 0
	}
	xs := make([]float64, len(bins))
	for i, v := range bins {
		xs[i] = float64(v)
	}
	return nbinom.KahanSum(xs) / float64(len(xs))
}

func sortPeaks(peaks []score.Peak) {
	sort.Slice(peaks, func(i, j int) bool {
		a, b := peaks[i], peaks[j]
		if a.Chrom != b.Chrom {
			return a.Chrom < b.Chrom
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})
}
