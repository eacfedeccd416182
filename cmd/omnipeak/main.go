// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/JetBrains-Research/omnipeak/internal/bed"
	"github.com/JetBrains-Research/omnipeak/internal/blacklist"
	"github.com/JetBrains-Research/omnipeak/internal/coverage"
	"github.com/JetBrains-Research/omnipeak/internal/engine"
	"github.com/JetBrains-Research/omnipeak/internal/genome"
	"github.com/JetBrains-Research/omnipeak/internal/modelio"
	"github.com/JetBrains-Research/omnipeak/internal/readsource"
	"github.com/JetBrains-Research/omnipeak/internal/score"
)

func usage() {
	fmt.Printf("Usage: %s {analyze|compare} [OPTIONS]\n", os.Args[0])
	fmt.Printf("Run '%s analyze -help' or '%s compare -help' for subcommand options.\n", os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = usage
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	args := os.Args[2:]
	var err error
	switch cmd {
	case "analyze":
		err = runAnalyze(args)
	case "compare":
		err = runCompare(args)
	case "-help", "--help", "-h":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

// commonFlags holds the options shared by analyze and compare.
type commonFlags struct {
	chromSizes  *string
	binSize     *int
	blacklist   *string
	fdr         *float64
	out         *string
	parallelism *int
	unique      *bool
	shiftPlus   *int
	shiftMinus  *int
}

func registerCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		chromSizes:  fs.String("chrom-sizes", "", "Path to a two-column chromosome sizes file (required)"),
		binSize:     fs.Int("bin", 200, "Bin size in base pairs"),
		blacklist:   fs.String("blacklist", "", "Optional BED file of regions to exclude from peak calling"),
		fdr:         fs.Float64("fdr", 0.05, "Target false discovery rate"),
		out:         fs.String("out", "", "Output BED6+3 path (required)"),
		parallelism: fs.Int("parallelism", 4, "Maximum number of chromosomes processed concurrently"),
		unique:      fs.Bool("unique", false, "Count at most one read per position and strand (read-based input only)"),
		shiftPlus:   fs.Int("shift-plus", 0, "5' shift applied to '+' strand reads, in bp (read-based input only)"),
		shiftMinus:  fs.Int("shift-minus", 0, "5' shift applied to '-' strand reads, in bp (read-based input only)"),
	}
}

func loadLayout(ctx context.Context, chromSizesPath string, binSize int) (layout genome.Layout, err error) {
	f, err := file.Open(ctx, chromSizesPath)
	if err != nil {
		return genome.Layout{}, err
	}
	defer file.CloseAndReport(ctx, f, &err)
	layout, err = genome.ReadChromSizes(f.Reader(ctx), binSize)
	return layout, err
}

func loadBlacklist(ctx context.Context, path string) (bl blacklist.Set, err error) {
	if path == "" {
		return blacklist.Empty(), nil
	}
	f, err := file.Open(ctx, path)
	if err != nil {
		return blacklist.Set{}, err
	}
	defer file.CloseAndReport(ctx, f, &err)
	bl, err = blacklist.Load(f.Reader(ctx))
	return bl, err
}

// buildProvider opens path (treatment or control) and, if ctrlPath is
// non-empty, a control track, returning a Provider over layout. Only
// the bedGraph continuous-coverage format is decoded in-process;
// alignment (BAM/SAM/CRAM) inputs require a readsource.Reader supplied
// by an external decoder and are rejected here with a clear error,
// consistent with that decoding being out of this module's scope.
func buildProvider(ctx context.Context, path, ctrlPath string, layout genome.Layout, opts coverage.ReadOpts, regress bool) (coverage.Provider, error) {
	treatment, err := loadTrack(ctx, path, layout, opts)
	if err != nil {
		return nil, err
	}
	if ctrlPath == "" {
		return coverage.NewProvider(treatment, nil, false)
	}
	control, err := loadTrack(ctx, ctrlPath, layout, opts)
	if err != nil {
		return nil, err
	}
	return coverage.NewProvider(treatment, &control, regress)
}

func loadTrack(ctx context.Context, path string, layout genome.Layout, opts coverage.ReadOpts) (track coverage.Track, err error) {
	format := readsource.GuessFormat(path)
	if format != readsource.ContinuousCoverage && format != readsource.Unknown {
		return coverage.Track{}, fmt.Errorf("%s: alignment decoding is not built into this binary; "+
			"convert to bedGraph coverage first", path)
	}
	f, err := file.Open(ctx, path)
	if err != nil {
		return coverage.Track{}, err
	}
	defer file.CloseAndReport(ctx, f, &err)
	reader, err := readsource.LoadBedGraph(f.Reader(ctx))
	if err != nil {
		return coverage.Track{}, err
	}
	track, err = coverage.BuildSummaryBased(reader, layout)
	return track, err
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	common := registerCommonFlags(fs)
	treatmentPath := fs.String("treatment", "", "Treatment coverage file (required)")
	controlPath := fs.String("control", "", "Optional control coverage file")
	regress := fs.Bool("regress", false, "Fit a control-regression beta instead of a flat rescale")
	modelOut := fs.String("model-out", "", "Optional path to persist the fitted model")
	fs.Usage = func() {
		fmt.Printf("Usage: %s analyze -chrom-sizes FILE -treatment FILE -out FILE [OPTIONS]\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *common.chromSizes == "" || *treatmentPath == "" || *common.out == "" {
		fs.Usage()
		return fmt.Errorf("analyze: -chrom-sizes, -treatment, and -out are required")
	}

	ctx := vcontext.Background()
	layout, err := loadLayout(ctx, *common.chromSizes, *common.binSize)
	if err != nil {
		return err
	}
	bl, err := loadBlacklist(ctx, *common.blacklist)
	if err != nil {
		return err
	}
	readOpts := coverage.ReadOpts{ShiftPlus: *common.shiftPlus, ShiftMinus: *common.shiftMinus, Unique: *common.unique}
	provider, err := buildProvider(ctx, *treatmentPath, *controlPath, layout, readOpts, *regress)
	if err != nil {
		return err
	}

	cfg := engine.DefaultConfig()
	cfg.FDRTarget = *common.fdr
	cfg.Blacklist = bl
	cfg.Parallelism = *common.parallelism

	peaks, outcomes, err := engine.Analyze(ctx, provider, layout, cfg)
	if err != nil {
		return err
	}
	if err := writePeaks(ctx, *common.out, peaks); err != nil {
		return err
	}
	if *modelOut != "" {
		if err := writeModel(ctx, *modelOut, modelio.KindAnalyze, layout, outcomes); err != nil {
			return err
		}
	}
	log.Printf("analyze: wrote %d peaks to %s", len(peaks), *common.out)
	return nil
}

func runCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	common := registerCommonFlags(fs)
	trackA := fs.String("track-a", "", "First coverage track (required)")
	trackB := fs.String("track-b", "", "Second coverage track (required)")
	modelOut := fs.String("model-out", "", "Optional path to persist the fitted model")
	fs.Usage = func() {
		fmt.Printf("Usage: %s compare -chrom-sizes FILE -track-a FILE -track-b FILE -out FILE [OPTIONS]\n", os.Args[0])
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *common.chromSizes == "" || *trackA == "" || *trackB == "" || *common.out == "" {
		fs.Usage()
		return fmt.Errorf("compare: -chrom-sizes, -track-a, -track-b, and -out are required")
	}

	ctx := vcontext.Background()
	layout, err := loadLayout(ctx, *common.chromSizes, *common.binSize)
	if err != nil {
		return err
	}
	bl, err := loadBlacklist(ctx, *common.blacklist)
	if err != nil {
		return err
	}
	readOpts := coverage.ReadOpts{ShiftPlus: *common.shiftPlus, ShiftMinus: *common.shiftMinus, Unique: *common.unique}
	pa, err := buildProvider(ctx, *trackA, "", layout, readOpts, false)
	if err != nil {
		return err
	}
	pb, err := buildProvider(ctx, *trackB, "", layout, readOpts, false)
	if err != nil {
		return err
	}

	cfg := engine.DefaultConfig()
	cfg.FDRTarget = *common.fdr
	cfg.Blacklist = bl
	cfg.Parallelism = *common.parallelism

	peaks, outcomes, err := engine.Compare(ctx, pa, pb, layout, cfg)
	if err != nil {
		return err
	}
	if err := writePeaks(ctx, *common.out, peaks); err != nil {
		return err
	}
	if *modelOut != "" {
		if err := writeModel(ctx, *modelOut, modelio.KindCompare, layout, outcomes); err != nil {
			return err
		}
	}
	log.Printf("compare: wrote %d peaks to %s", len(peaks), *common.out)
	return nil
}

func writePeaks(ctx context.Context, path string, peaks []score.Peak) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)
	err = bed.Write(f.Writer(ctx), peaks)
	return err
}

func writeModel(ctx context.Context, path string, kind modelio.Kind, layout genome.Layout, outcomes []engine.ChromosomeOutcome) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, f, &err)

	art := modelio.Artifact{
		Manifest: modelio.Manifest{
			Kind:    kind,
			BinSize: layout.BinSize(),
		},
		LogNull: map[string][]float32{},
	}
	for _, o := range outcomes {
		art.Manifest.Chromosomes = append(art.Manifest.Chromosomes, o.Chromosome)
		art.Manifest.FitInfo = append(art.Manifest.FitInfo, o.FitInfo)
		art.LogNull[o.Chromosome] = o.LogNull
	}
	err = modelio.Save(f.Writer(ctx), art)
	return err
}
