// Package bulkexport decodes newline-delimited bulk export files into parent/child records.
package bulkexport

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"

	apperrors "github.com/acme/shelfsort/internal/errors"
)

// ParentField is the key that marks a line as a child of another record.
const ParentField = "__parentId"

// Compression selects the transport decoding applied before line splitting.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	// CompressionAuto detects gzip by its magic bytes.
	CompressionAuto Compression = "auto"
)

const (
	defaultYieldEvery   = 1000
	defaultMaxLineBytes = 16 << 20
)

// ParseOptions tunes Parse. Zero values select defaults.
type ParseOptions struct {
	Compression  Compression
	YieldEvery   int
	MaxLineBytes int
}

func (o ParseOptions) withDefaults() ParseOptions {
	if o.Compression == "" {
		o.Compression = CompressionAuto
	}
	if o.YieldEvery <= 0 {
		o.YieldEvery = defaultYieldEvery
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = defaultMaxLineBytes
	}
	return o
}

// Record is one decoded line. Raw keeps the full JSON object for typed decoding.
type Record struct {
	ID       string
	ParentID string
	Line     int
	Raw      json.RawMessage
}

// IsChild reports whether the record references a parent.
func (r Record) IsChild() bool { return r.ParentID != "" }

// Decode unmarshals the raw line into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return apperrors.Formatf("decode line %d: %v", r.Line, err)
	}
	return nil
}

// Result holds parents in stream order and children grouped by parent id.
type Result struct {
	Parents          []Record
	ChildrenByParent map[string][]Record
	Lines            int
}

// Children returns the children recorded for a parent id in stream order.
func (r *Result) Children(parentID string) []Record {
	return r.ChildrenByParent[parentID]
}

// Orphans returns the parent ids that have children but never appeared in the stream.
// Ids that appear as children themselves are not orphans.
func (r *Result) Orphans() []string {
	known := make(map[string]struct{}, len(r.Parents))
	for _, p := range r.Parents {
		known[p.ID] = struct{}{}
	}
	for _, kids := range r.ChildrenByParent {
		for _, k := range kids {
			if k.ID != "" {
				known[k.ID] = struct{}{}
			}
		}
	}
	var out []string
	for id := range r.ChildrenByParent {
		if _, ok := known[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

type lineHeader struct {
	ID       string `json:"id"`
	ParentID string `json:"__parentId"`
}

// Parse streams r line by line. Blank lines are skipped; any malformed line fails the
// whole parse with a format error naming the line number.
func Parse(ctx context.Context, r io.Reader, opts ParseOptions) (*Result, error) {
	opts = opts.withDefaults()

	src, closeFn, err := decompress(r, opts.Compression)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), opts.MaxLineBytes)

	res := &Result{ChildrenByParent: make(map[string][]Record)}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%opts.YieldEvery == 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			runtime.Gosched()
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var hdr lineHeader
		if uerr := json.Unmarshal(line, &hdr); uerr != nil {
			return nil, apperrors.Formatf("line %d: malformed json: %v", lineNo, uerr)
		}

		rec := Record{
			ID:       hdr.ID,
			ParentID: hdr.ParentID,
			Line:     lineNo,
			Raw:      append(json.RawMessage(nil), line...),
		}
		if rec.IsChild() {
			res.ChildrenByParent[rec.ParentID] = append(res.ChildrenByParent[rec.ParentID], rec)
			continue
		}
		res.Parents = append(res.Parents, rec)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, apperrors.Formatf("line %d exceeds %d bytes", lineNo+1, opts.MaxLineBytes)
		}
		if errors.Is(err, gzip.ErrChecksum) || errors.Is(err, gzip.ErrHeader) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, apperrors.Formatf("line %d: corrupt compressed stream: %v", lineNo+1, err)
		}
		return nil, apperrors.Transient(err, "read bulk export")
	}
	res.Lines = lineNo
	return res, nil
}

func decompress(r io.Reader, c Compression) (io.Reader, func(), error) {
	noop := func() {}
	switch c {
	case CompressionNone:
		return r, noop, nil
	case CompressionGzip:
		return openGzip(r)
	case CompressionAuto:
		br := bufio.NewReader(r)
		magic, err := br.Peek(2)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, noop, apperrors.Transient(err, "peek bulk export")
		}
		if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
			return openGzip(br)
		}
		return br, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown compression %q", c)
	}
}

func openGzip(r io.Reader) (io.Reader, func(), error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, func() {}, apperrors.Formatf("open gzip stream: %v", err)
	}
	return zr, func() { _ = zr.Close() }, nil
}
