// Package bed writes peaks in BED6+3 format: the standard six BED
// columns (chrom, start, end, name, score, strand) plus three
// Omnipeak-specific value columns (signal value, -log10(p), -log10(q)).
package bed

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/JetBrains-Research/omnipeak/internal/score"
)

// Write serializes peaks as BED6+3, sorted by (chrom, start, end), one
// line per peak: chrom start end name score strand value -log10p -log10q.
func Write(w io.Writer, peaks []score.Peak) error {
	sorted := append([]score.Peak(nil), peaks...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Chrom != b.Chrom {
			return a.Chrom < b.Chrom
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})

	bw := bufio.NewWriter(w)
	for i, p := range sorted {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("peak_%d", i+1)
		}
		strand := p.Strand
		if strand == 0 {
			strand = '.'
		}
		_, err := fmt.Fprintf(bw, "%s\t%d\t%d\t%s\t%d\t%c\t%.6f\t%.6f\t%.6f\n",
			p.Chrom, p.Start, p.End, name, p.Score, strand, p.Value, p.NegLog10P, p.NegLog10Q)
		if err != nil {
			return errors.Wrapf(err, "bed: writing peak %d", i)
		}
	}
	return bw.Flush()
}

// Read parses peaks previously written by Write, tolerating any of the
// standard 9 BED6+3 columns; extra trailing columns are ignored.
func Read(r io.Reader) ([]score.Peak, error) {
	var peaks []score.Peak
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		var p score.Peak
		var strand string
		fields := splitFields(line)
		if len(fields) < 9 {
			return nil, errors.Errorf("bed: line %d: expected at least 9 columns, got %d", lineNo, len(fields))
		}
		p.Chrom = fields[0]
		if _, err := fmt.Sscanf(fields[1], "%d", &p.Start); err != nil {
			return nil, errors.Wrapf(err, "bed: line %d: start", lineNo)
		}
		if _, err := fmt.Sscanf(fields[2], "%d", &p.End); err != nil {
			return nil, errors.Wrapf(err, "bed: line %d: end", lineNo)
		}
		p.Name = fields[3]
		if _, err := fmt.Sscanf(fields[4], "%d", &p.Score); err != nil {
			return nil, errors.Wrapf(err, "bed: line %d: score", lineNo)
		}
		strand = fields[5]
		if len(strand) > 0 {
			p.Strand = strand[0]
		}
		if _, err := fmt.Sscanf(fields[6], "%g", &p.Value); err != nil {
			return nil, errors.Wrapf(err, "bed: line %d: value", lineNo)
		}
		if _, err := fmt.Sscanf(fields[7], "%g", &p.NegLog10P); err != nil {
			return nil, errors.Wrapf(err, "bed: line %d: -log10(p)", lineNo)
		}
		if _, err := fmt.Sscanf(fields[8], "%g", &p.NegLog10Q); err != nil {
			return nil, errors.Wrapf(err, "bed: line %d: -log10(q)", lineNo)
		}
		peaks = append(peaks, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "bed: scanning")
	}
	return peaks, nil
}

func splitFields(line string) []string {
	var fields []string
	start := -1
	for i, r := range line {
		if r == '\t' || r == ' ' {
			if start >= 0 {
				fields = append(fields, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, line[start:])
	}
	return fields
}
