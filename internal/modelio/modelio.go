// Package modelio persists a fitted HMM, per-chromosome fit metadata,
// and per-bin log-null tracks as a single tar archive: a JSON manifest
// plus one gzip-compressed packed-float32 entry per chromosome. The
// manifest's Identifier holds a deterministic content hash, so two runs
// with identical configuration and input carry the same identifier.
package modelio

import (
	"archive/tar"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	farm "github.com/dgryski/go-farm"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/JetBrains-Research/omnipeak/internal/hmm"
)

// Kind discriminates the artifact's model family, so a future version
// can refuse (or migrate) an incompatible load.
type Kind string

const (
	KindAnalyze Kind = "omnipeak.analyze"
	KindCompare Kind = "omnipeak.compare"
)

// CurrentVersion is the manifest schema version this package writes.
const CurrentVersion = 1

// FitInfo is the per-chromosome summary recorded alongside the model:
// whether Baum-Welch converged, the iteration cap it ran under (the
// engine records FitConfig.MaxIterations, not the count actually
// run), and the final log-likelihood, so a later comparison run can report whether
// two models were fit under comparable conditions.
type FitInfo struct {
	Chromosome    string  `json:"chromosome"`
	Converged     bool    `json:"converged"`
	Iterations    int     `json:"iterations"`
	LogLikelihood float64 `json:"log_likelihood"`
	LowQuality    bool    `json:"low_quality"`
}

// Manifest is the JSON document stored at manifest.json inside the
// tar archive.
type Manifest struct {
	Kind         Kind            `json:"kind"`
	Version      int             `json:"version"`
	BinSize      int             `json:"bin_size"`
	StateSet     hmm.StateSet    `json:"state_set"`
	Priors       []float64       `json:"priors"`
	Transition   [][]float64     `json:"transition"`
	Means        []float64       `json:"means"`
	Dispersions  []float64       `json:"dispersions"`
	Chromosomes  []string        `json:"chromosomes"`
	FitInfo      []FitInfo       `json:"fit_info"`
	Identifier   string          `json:"identifier"`
}

// Artifact is an in-memory model persisted or loaded via this package.
type Artifact struct {
	Manifest Manifest
	// LogNull holds, per chromosome, the per-bin log-null-probability
	// track.
	LogNull map[string][]float32
	// Posteriors optionally holds, per chromosome, the per-state
	// log-posterior tracks (state-major).
	Posteriors map[string][][]float32
}

// Identifier computes a deterministic content hash for a Manifest plus
// its per-chromosome log-null data, using farm.Hash64 over a canonical
// byte encoding (sorted chromosome order, fixed-width floats).
func Identifier(m Manifest, logNull map[string][]float32) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s|%d|%d", m.Kind, m.Version, m.BinSize)
	for _, mu := range m.Means {
		fmt.Fprintf(&buf, "|%x", math.Float64bits(mu))
	}
	for _, r := range m.Dispersions {
		fmt.Fprintf(&buf, "|%x", math.Float64bits(r))
	}
	chroms := append([]string(nil), m.Chromosomes...)
	sort.Strings(chroms)
	for _, c := range chroms {
		buf.WriteString("|")
		buf.WriteString(c)
		for _, v := range logNull[c] {
			binary.Write(&buf, binary.LittleEndian, v)
		}
	}
	h := farm.Hash64(buf.Bytes())
	return fmt.Sprintf("%016x", h)
}

// Save writes art as a tar archive to w. art.Manifest.Identifier is
// recomputed from art's content before writing, so callers need not
// set it themselves.
func Save(w io.Writer, art Artifact) error {
	art.Manifest.Version = CurrentVersion
	art.Manifest.Identifier = Identifier(art.Manifest, art.LogNull)

	tw := tar.NewWriter(w)
	manifestBytes, err := json.MarshalIndent(art.Manifest, "", "  ")
	if err != nil {
		return errors.Wrap(err, "modelio: marshaling manifest")
	}
	if err := writeEntry(tw, "manifest.json", manifestBytes); err != nil {
		return err
	}
	for _, chrom := range art.Manifest.Chromosomes {
		packed, err := packGzip(float32sToBytes(art.LogNull[chrom]))
		if err != nil {
			return errors.Wrapf(err, "modelio: packing log-null for %s", chrom)
		}
		if err := writeEntry(tw, "lognull/"+chrom+".f32.gz", packed); err != nil {
			return err
		}
		if post, ok := art.Posteriors[chrom]; ok {
			for s, track := range post {
				packed, err := packGzip(float32sToBytes(track))
				if err != nil {
					return errors.Wrapf(err, "modelio: packing posterior for %s state %d", chrom, s)
				}
				name := fmt.Sprintf("posterior/%s.%d.f32.gz", chrom, s)
				if err := writeEntry(tw, name, packed); err != nil {
					return err
				}
			}
		}
	}
	return tw.Close()
}

func writeEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0644}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, "modelio: writing header for %s", name)
	}
	_, err := tw.Write(data)
	return errors.Wrapf(err, "modelio: writing entry %s", name)
}

func float32sToBytes(xs []float32) []byte {
	buf := make([]byte, 4*len(xs))
	for i, x := range xs {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func bytesToFloat32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func packGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads an Artifact previously written by Save. Only the manifest
// and the log-null entries are read back; posterior entries are
// skipped, so the returned Posteriors map is empty.
func Load(r io.Reader) (Artifact, error) {
	tr := tar.NewReader(r)
	art := Artifact{LogNull: map[string][]float32{}, Posteriors: map[string][][]float32{}}
	var gotManifest bool
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Artifact{}, errors.Wrap(err, "modelio: reading tar entry")
		}
		body := make([]byte, hdr.Size)
		if _, err := io.ReadFull(tr, body); err != nil {
			return Artifact{}, errors.Wrapf(err, "modelio: reading entry %s", hdr.Name)
		}
		switch {
		case hdr.Name == "manifest.json":
			if err := json.Unmarshal(body, &art.Manifest); err != nil {
				return Artifact{}, errors.Wrap(err, "modelio: parsing manifest")
			}
			gotManifest = true
		case len(hdr.Name) > 8 && hdr.Name[:8] == "lognull/":
			chrom := hdr.Name[8 : len(hdr.Name)-len(".f32.gz")]
			data, err := unpackGzip(body)
			if err != nil {
				return Artifact{}, errors.Wrapf(err, "modelio: unpacking %s", hdr.Name)
			}
			art.LogNull[chrom] = bytesToFloat32s(data)
		}
	}
	if !gotManifest {
		return Artifact{}, errors.New("modelio: archive missing manifest.json")
	}
	return art, nil
}

func unpackGzip(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

// Diff reports a human-readable explanation of why two manifests are
// incompatible, or "" if they are compatible for a differential run.
func Diff(a, b Manifest) string {
	switch {
	case a.Kind != b.Kind:
		return fmt.Sprintf("model kind mismatch: %s vs %s", a.Kind, b.Kind)
	case a.BinSize != b.BinSize:
		return fmt.Sprintf("bin size mismatch: %d vs %d", a.BinSize, b.BinSize)
	case a.StateSet != b.StateSet:
		return fmt.Sprintf("state set mismatch: %d vs %d", a.StateSet, b.StateSet)
	default:
		return ""
	}
}
