// Package genome holds the reference-genome layout: chromosome names and
// lengths, bin size, and the derived mapping from chromosome to the
// concatenated genome bin vector.
package genome

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Layout is an immutable ordered mapping of chromosome name to length,
// plus the bin size used to discretize every chromosome. Chromosomes are
// always kept sorted by name so that downstream numeric layouts (bin
// indices, log-null arrays, candidate masks) have a canonical order.
type Layout struct {
	names   []string
	lengths map[string]int
	binSize int
}

// New builds a Layout from a name->length map and a bin size. It returns
// an error if any length is non-positive, a name repeats, or binSize<=0.
func New(lengths map[string]int, binSize int) (Layout, error) {
	if binSize <= 0 {
		return Layout{}, errors.Errorf("genome: bin size must be positive, got %d", binSize)
	}
	if len(lengths) == 0 {
		return Layout{}, errors.New("genome: empty chromosome set")
	}
	names := make([]string, 0, len(lengths))
	cp := make(map[string]int, len(lengths))
	for name, length := range lengths {
		if length <= 0 {
			return Layout{}, errors.Errorf("genome: chromosome %q has non-positive length %d", name, length)
		}
		names = append(names, name)
		cp[name] = length
	}
	sort.Strings(names)
	return Layout{names: names, lengths: cp, binSize: binSize}, nil
}

// ReadChromSizes parses a two-column whitespace-separated chromosome
// sizes file (name, length), one line per chromosome.
func ReadChromSizes(r io.Reader, binSize int) (Layout, error) {
	lengths := map[string]int{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return Layout{}, fmt.Errorf("genome: chrom sizes line %d: expected 2 columns, got %d", lineNo, len(fields))
		}
		length, err := strconv.Atoi(fields[1])
		if err != nil {
			return Layout{}, errors.Wrapf(err, "genome: chrom sizes line %d", lineNo)
		}
		lengths[fields[0]] = length
	}
	if err := scanner.Err(); err != nil {
		return Layout{}, errors.Wrap(err, "genome: reading chrom sizes")
	}
	return New(lengths, binSize)
}

// BinSize returns the configured bin width in base pairs.
func (l Layout) BinSize() int { return l.binSize }

// Names returns the chromosome names in canonical (sorted) order. The
// returned slice must not be modified.
func (l Layout) Names() []string { return l.names }

// Length returns the base-pair length of chrom, or 0 if unknown.
func (l Layout) Length(chrom string) int { return l.lengths[chrom] }

// Has reports whether chrom is part of the layout.
func (l Layout) Has(chrom string) bool {
	_, ok := l.lengths[chrom]
	return ok
}

// NumBins returns the number of bins chrom is discretized into:
// ceil(length / binSize).
func (l Layout) NumBins(chrom string) int {
	return ceilDiv(l.lengths[chrom], l.binSize)
}

// BinRange returns the base-pair interval [start, end) covered by bin k
// of chrom. The last bin may be shorter than binSize.
func (l Layout) BinRange(chrom string, k int) (start, end int) {
	start = k * l.binSize
	end = start + l.binSize
	if length := l.lengths[chrom]; end > length {
		end = length
	}
	return start, end
}

// Equals reports whether two layouts describe the same chromosomes,
// lengths, and bin size.
func (l Layout) Equals(other Layout) bool {
	if l.binSize != other.binSize || len(l.names) != len(other.names) {
		return false
	}
	for _, name := range l.names {
		if l.lengths[name] != other.lengths[name] {
			return false
		}
	}
	return true
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Index derives, from a Layout, the per-chromosome [start, end) bin
// offsets into a single concatenated genome-wide bin vector. Bins
// strictly partition the vector: index k of chromosome i's sub-slice
// corresponds to global offset Start(i)+k.
type Index struct {
	layout Layout
	starts map[string]int
	total  int
}

// NewIndex builds an Index from a Layout, assigning concatenated offsets
// in the Layout's canonical chromosome order.
func NewIndex(l Layout) Index {
	starts := make(map[string]int, len(l.names))
	offset := 0
	for _, name := range l.names {
		starts[name] = offset
		offset += l.NumBins(name)
	}
	return Index{layout: l, starts: starts, total: offset}
}

// Range returns the [start, end) bin offsets for chrom in the
// concatenated genome vector. end-start == Layout.NumBins(chrom).
func (idx Index) Range(chrom string) (start, end int) {
	start = idx.starts[chrom]
	return start, start + idx.layout.NumBins(chrom)
}

// Total returns the length of the concatenated genome bin vector.
func (idx Index) Total() int { return idx.total }

// Layout returns the Layout this Index was derived from.
func (idx Index) Layout() Layout { return idx.layout }
