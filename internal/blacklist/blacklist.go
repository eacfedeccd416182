// Package blacklist holds a merged, queryable set of genomic intervals
// loaded from a BED file. Omnipeak uses it to drop candidates that fall
// inside regions the caller wants excluded from peak calling (e.g.
// ENCODE blacklists).
package blacklist

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// pos is the coordinate type used internally. Base-pair coordinates fit
// in an int32 for any chromosome shorter than 2^31 bp.
type pos int32

// Set is a chromosome-keyed collection of disjoint, merged intervals. Zero
// value is an empty set. A Set is safe for concurrent read-only use once
// built; it is never mutated after Load returns.
type Set struct {
	byChrom map[string][]pos // flattened [start0, end0, start1, end1, ...] pairs, sorted, disjoint
}

// Empty returns a Set with no intervals. Intersects always returns false.
func Empty() Set {
	return Set{byChrom: map[string][]pos{}}
}

// Load reads a sorted-by-start BED file (chrom, start, end, ...) and
// returns the merged interval set. Extra BED columns are ignored. Lines
// with fewer than 3 fields are skipped.
func Load(r io.Reader) (Set, error) {
	scanner := bufio.NewScanner(r)
	// BED lines can be long when extra annotation columns are present.
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	raw := map[string][][2]pos{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "track") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return Set{}, errors.Wrapf(err, "blacklist: line %d: bad start", lineNo)
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return Set{}, errors.Wrapf(err, "blacklist: line %d: bad end", lineNo)
		}
		if end <= start {
			continue
		}
		raw[fields[0]] = append(raw[fields[0]], [2]pos{pos(start), pos(end)})
	}
	if err := scanner.Err(); err != nil {
		return Set{}, errors.Wrap(err, "blacklist: scan failed")
	}

	byChrom := make(map[string][]pos, len(raw))
	for chrom, ivs := range raw {
		sort.Slice(ivs, func(i, j int) bool { return ivs[i][0] < ivs[j][0] })
		merged := make([]pos, 0, 2*len(ivs))
		curStart, curEnd := ivs[0][0], ivs[0][1]
		for _, iv := range ivs[1:] {
			if iv[0] > curEnd {
				merged = append(merged, curStart, curEnd)
				curStart, curEnd = iv[0], iv[1]
				continue
			}
			if iv[1] > curEnd {
				curEnd = iv[1]
			}
		}
		merged = append(merged, curStart, curEnd)
		byChrom[chrom] = merged
	}
	return Set{byChrom: byChrom}, nil
}

// searchPos returns the index of the first element of a that is >= x,
// or len(a) if none qualifies. Equivalent to sort.Search specialized for
// pos, mirroring the binary search used by interval unions over sorted
// endpoint arrays.
func searchPos(a []pos, x pos) int {
	return sort.Search(len(a), func(i int) bool { return a[i] >= x })
}

// Intersects reports whether [start, end) on chrom overlaps any interval
// in the set. start must be < end.
func (s Set) Intersects(chrom string, start, end int) bool {
	ivs := s.byChrom[chrom]
	if len(ivs) == 0 {
		return false
	}
	// Odd indices are interval ends; an insertion point that lands on an odd
	// index means `start` itself is inside an interval.
	idx := searchPos(ivs, pos(start)+1)
	if idx&1 == 1 {
		return true
	}
	return idx < len(ivs) && ivs[idx] < pos(end)
}

// IsEmpty reports whether the set has no intervals at all.
func (s Set) IsEmpty() bool {
	return len(s.byChrom) == 0
}
