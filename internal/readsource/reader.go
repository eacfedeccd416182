// Package readsource defines the narrow interfaces the binned coverage
// provider uses to pull data out of alignment files (BAM/SAM/CRAM) and
// continuous coverage files (BigWig). Decoding those formats is left to
// an external collaborator: this package only specifies the contract,
// the same way bamprovider.Provider/Iterator specify BAM access without
// embedding a BAM decoder in the caller.
package readsource

import (
	"strings"

	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// Reader iterates alignment records for one logical input file,
// narrowed to what coverage binning needs: a header (for chromosome
// names) and a sequential record scan. Thread-compatible, not safe for
// concurrent use by multiple goroutines.
type Reader interface {
	// Header returns the file's reference sequence dictionary. Callers
	// must not modify the returned header.
	Header() (*sam.Header, error)

	// Scan advances to the next record, returning false at EOF or on
	// error; call Err() to distinguish the two.
	Scan() bool

	// Record returns the record most recently yielded by Scan. Valid
	// only after a true Scan() return.
	Record() *sam.Record

	// Err returns any error encountered during scanning, or nil.
	Err() error

	// Close releases resources held by the reader.
	Close() error
}

// SummaryReader supplies range-summed continuous coverage (e.g. from a
// BigWig file) without requiring per-base materialization.
type SummaryReader interface {
	// SumOverRange returns the sum of signal values in [start, end) on
	// chrom. A chromosome missing from the source returns (0, nil)
	// rather than an error.
	SumOverRange(chrom string, start, end int) (float64, error)

	// Close releases resources held by the reader.
	Close() error
}

// Format identifies the on-disk encoding of a treatment/control file.
type Format int

const (
	// Unknown is returned when the format cannot be determined.
	Unknown Format = iota
	// ReadAlignment covers BAM, SAM, and CRAM.
	ReadAlignment
	// ContinuousCoverage covers BigWig.
	ContinuousCoverage
	// IntervalList covers BED / BED.gz read lists.
	IntervalList
)

// GuessFormat infers Format from a file's extension alone (file
// contents are not inspected), returning Unknown for other extensions.
// It only answers "how do I decode this file" — uniqueness/regression
// flags are a separate, downstream concern.
func GuessFormat(path string) Format {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".bam"),
		strings.HasSuffix(lower, ".sam"),
		strings.HasSuffix(lower, ".cram"):
		return ReadAlignment
	case strings.HasSuffix(lower, ".bw"),
		strings.HasSuffix(lower, ".bigwig"):
		return ContinuousCoverage
	case strings.HasSuffix(lower, ".bed"),
		strings.HasSuffix(lower, ".bed.gz"):
		return IntervalList
	default:
		vlog.VI(1).Infof("readsource: could not detect format of %q from extension", path)
		return Unknown
	}
}
