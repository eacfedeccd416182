package readsource

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// BedGraphReader is a concrete, in-memory SummaryReader over a
// bedGraph-style file (chrom, start, end, value), sorted internally so
// SumOverRange can binary-search instead of rescanning the file. It is
// the one continuous-coverage format this module can decode itself
// without an external BigWig library; BigWig input still goes through
// the same SummaryReader contract via an adapter supplied by the
// caller.
type BedGraphReader struct {
	intervals map[string][]bgInterval
}

type bgInterval struct {
	start, end int
	value      float64
}

// LoadBedGraph parses a bedGraph file from r.
func LoadBedGraph(r io.Reader) (*BedGraphReader, error) {
	byChrom := map[string][]bgInterval{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "track") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, errors.Errorf("readsource: bedGraph line %d: expected 4 columns, got %d", lineNo, len(fields))
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "readsource: bedGraph line %d: start", lineNo)
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "readsource: bedGraph line %d: end", lineNo)
		}
		value, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "readsource: bedGraph line %d: value", lineNo)
		}
		byChrom[fields[0]] = append(byChrom[fields[0]], bgInterval{start: start, end: end, value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "readsource: scanning bedGraph")
	}
	for chrom := range byChrom {
		sort.Slice(byChrom[chrom], func(i, j int) bool {
			return byChrom[chrom][i].start < byChrom[chrom][j].start
		})
	}
	return &BedGraphReader{intervals: byChrom}, nil
}

// SumOverRange sums value*overlap for every bedGraph interval
// overlapping [start, end) on chrom. A chromosome absent from the file
// returns (0, nil).
func (r *BedGraphReader) SumOverRange(chrom string, start, end int) (float64, error) {
	ivs := r.intervals[chrom]
	if len(ivs) == 0 {
		return 0, nil
	}
	lo := sort.Search(len(ivs), func(i int) bool { return ivs[i].end > start })
	var sum float64
	for i := lo; i < len(ivs) && ivs[i].start < end; i++ {
		overlapStart := max(start, ivs[i].start)
		overlapEnd := min(end, ivs[i].end)
		if overlapEnd > overlapStart {
			sum += ivs[i].value * float64(overlapEnd-overlapStart)
		}
	}
	return sum, nil
}

// Close is a no-op; BedGraphReader holds no external resources.
func (r *BedGraphReader) Close() error { return nil }

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
