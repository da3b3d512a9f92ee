package codec

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/OCAP2/markers/internal/profile"
)

// Format is a profile file encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatMsgpack
)

func (f Format) String() string {
	if f == FormatMsgpack {
		return "msgpack"
	}
	return "json"
}

// DetectFormat picks the encoding from a file name. A trailing ".gz" marks
// gzip compression on top of either format.
func DetectFormat(path string) (format Format, gzipped bool) {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".gz") {
		gzipped = true
		name = strings.TrimSuffix(name, ".gz")
	}
	switch filepath.Ext(name) {
	case ".msgpack", ".mp":
		return FormatMsgpack, gzipped
	default:
		return FormatJSON, gzipped
	}
}

// Encode writes p to w.
func Encode(w io.Writer, p *profile.Profile, format Format) error {
	doc, err := FromProfile(p)
	if err != nil {
		return err
	}
	switch format {
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("error encoding msgpack profile: %w", err)
		}
	default:
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			return fmt.Errorf("error encoding json profile: %w", err)
		}
	}
	return nil
}

// Decode reads a profile from r.
func Decode(r io.Reader, format Format) (*profile.Profile, error) {
	var doc Document
	switch format {
	case FormatMsgpack:
		dec := msgpack.NewDecoder(r)
		dec.SetCustomStructTag("json")
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding msgpack profile: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding json profile: %w", err)
		}
	}
	return doc.ToProfile()
}

// ReadFile loads a profile, choosing the decoder from the file name.
func ReadFile(path string) (*profile.Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile: %w", err)
	}
	defer f.Close()

	format, gzipped := DetectFormat(path)
	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return Decode(r, format)
}

// WriteFile stores a profile, choosing the encoder from the file name.
func WriteFile(path string, p *profile.Profile) error {
	format, _ := DetectFormat(path)
	return writeFile(path, func(w io.Writer) error {
		return Encode(w, p, format)
	})
}

// EncodeDerived writes a derived marker document to w.
func EncodeDerived(w io.Writer, doc *DerivedDocument, format Format) error {
	switch format {
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("error encoding msgpack derived markers: %w", err)
		}
	default:
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			return fmt.Errorf("error encoding json derived markers: %w", err)
		}
	}
	return nil
}

// WriteDerivedFile stores a derived marker document, choosing the encoder
// from the file name.
func WriteDerivedFile(path string, doc *DerivedDocument) error {
	format, _ := DetectFormat(path)
	return writeFile(path, func(w io.Writer) error {
		return EncodeDerived(w, doc, format)
	})
}

// ReadDerivedFile loads a JSON derived marker document.
func ReadDerivedFile(path string) (*DerivedDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open derived markers: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if _, gzipped := DetectFormat(path); gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var doc DerivedDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("error decoding derived markers: %w", err)
	}
	return &doc, nil
}

// writeFile creates path and its directory, gzipping the output of encode
// when the name ends in ".gz".
func writeFile(path string, encode func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if _, gzipped := DetectFormat(path); !gzipped {
		if err := encode(f); err != nil {
			return err
		}
		return f.Close()
	}

	gz := gzip.NewWriter(f)
	if err := encode(gz); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return f.Close()
}
