package xtf

import (
	"errors"
	"fmt"
	"io"
	"os"

	"example.com/xtfgate/internal/common"
)

// minBlockSize is the read-ahead granularity for the buffered source. Survey
// files routinely run to tens of gigabytes, so payloads are sliced out of a
// large reused block instead of per-record allocations.
const minBlockSize = 8 << 20

// dataSource abstracts the sequential byte source. Payload decoders only
// need known-remaining-length reads; retries and timeouts belong to the
// source, not the decoder.
type dataSource interface {
	Size() int64
	Slice(offset int64, length int) ([]byte, error)
	ReadAt(p []byte, offset int64) (int, error)
	Close() error
}

type blockSource struct {
	file      *os.File
	size      int64
	blockSize int
	buf       []byte
	bufStart  int64
	bufLen    int
}

func newBlockSource(f *os.File, size int64, blockSize int) *blockSource {
	if blockSize < minBlockSize {
		blockSize = minBlockSize
	}
	return &blockSource{file: f, size: size, blockSize: blockSize}
}

func (bs *blockSource) Size() int64 {
	return bs.size
}

func (bs *blockSource) Close() error {
	if bs.file == nil {
		return nil
	}
	err := bs.file.Close()
	bs.file = nil
	bs.buf = nil
	bs.bufLen = 0
	return err
}

func (bs *blockSource) ensure(offset int64, length int) error {
	if bs.file == nil {
		return io.EOF
	}
	if length > bs.blockSize {
		newSize := bs.blockSize
		for newSize < length {
			newSize *= 2
		}
		bs.blockSize = newSize
		bs.buf = nil
		bs.bufLen = 0
	}
	if bs.buf == nil {
		bs.buf = make([]byte, bs.blockSize)
	}
	if offset >= bs.bufStart && offset+int64(length) <= bs.bufStart+int64(bs.bufLen) {
		return nil
	}
	if offset >= bs.size {
		bs.bufLen = 0
		return io.EOF
	}
	bs.bufStart = offset
	toRead := int64(bs.blockSize)
	if remain := bs.size - offset; toRead > remain {
		toRead = remain
	}
	if toRead <= 0 {
		bs.bufLen = 0
		return io.EOF
	}
	n, err := bs.file.ReadAt(bs.buf[:toRead], offset)
	if err != nil && !errors.Is(err, io.EOF) {
		bs.bufLen = 0
		return err
	}
	bs.bufLen = n
	if n == 0 {
		return io.EOF
	}
	return nil
}

// Slice returns a view of length bytes at offset. The view is only valid
// until the next Slice call; callers that retain payload bytes must copy.
func (bs *blockSource) Slice(offset int64, length int) ([]byte, error) {
	if length <= 0 {
		return []byte{}, nil
	}
	if offset < 0 {
		return nil, io.ErrUnexpectedEOF
	}
	if offset >= bs.size {
		return nil, io.EOF
	}
	if err := bs.ensure(offset, length); err != nil {
		return nil, err
	}
	start := int(offset - bs.bufStart)
	if start < 0 || start >= bs.bufLen {
		return nil, io.ErrUnexpectedEOF
	}
	end := start + length
	if end > bs.bufLen {
		return bs.buf[start:bs.bufLen], io.EOF
	}
	return bs.buf[start:end], nil
}

func (bs *blockSource) ReadAt(p []byte, offset int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	view, err := bs.Slice(offset, len(p))
	n := copy(p, view)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// sliceExact returns exactly length bytes or io.ErrUnexpectedEOF.
func sliceExact(src dataSource, offset int64, length int) ([]byte, error) {
	view, err := src.Slice(offset, length)
	if len(view) < length {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, io.ErrUnexpectedEOF
	}
	return view[:length], nil
}

// Reader iterates the packets of one XTF file sequentially, accumulating a
// frame index as it goes. The file header is parsed once at open; the
// derived channel table is immutable thereafter and may be shared read-only
// across concurrent decode passes over other files.
type Reader struct {
	source dataSource
	size   int64
	offset int64
	header *FileHeader
	dead   bool

	metrics *common.Metrics
	index   FileIndex
}

// NewReader opens path and parses the file header. A file shorter than the
// 1024-byte header is unusable.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	src := newBlockSource(f, info.Size(), minBlockSize)
	headerBytes, err := sliceExact(src, 0, FileHeaderSize)
	if err != nil {
		src.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("file header: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	fh, err := DecodeFileHeader(headerBytes)
	if err != nil {
		src.Close()
		return nil, err
	}
	return &Reader{
		source: src,
		size:   src.Size(),
		offset: FileHeaderSize,
		header: fh,
	}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if r.source == nil {
		return nil
	}
	err := r.source.Close()
	r.source = nil
	return err
}

// FileHeader returns the parsed file header. Read-only.
func (r *Reader) FileHeader() *FileHeader {
	return r.header
}

// SetMetrics attaches a metrics recorder to the reader.
func (r *Reader) SetMetrics(m *common.Metrics) {
	r.metrics = m
	if r.metrics != nil {
		r.metrics.SetTotalBytes(r.size)
	}
}

// Index returns a copy of the accumulated frame index.
func (r *Reader) Index() FileIndex {
	out := FileIndex{
		Frames:         make([]FrameInfo, len(r.index.Frames)),
		RecordCount:    r.index.RecordCount,
		UnknownCount:   r.index.UnknownCount,
		CorruptCount:   r.index.CorruptCount,
		TruncatedTail:  r.index.TruncatedTail,
	}
	copy(out.Frames, r.index.Frames)
	return out
}

// Next decodes the next packet. It returns io.EOF at a clean end of file and
// io.ErrUnexpectedEOF when the file ends inside a frame; both stop the pass,
// and records decoded so far remain valid. A magic mismatch returns
// ErrCorruptStream and poisons the reader. Record-level failures
// (ErrCorruptRecord, ErrUnsupportedFormat) return a non-nil error together
// with a valid index entry: the reader has already skipped to the next frame
// and the caller may keep iterating.
func (r *Reader) Next() (*Record, FrameInfo, error) {
	if r.source == nil || r.dead {
		return nil, FrameInfo{}, io.EOF
	}
	if r.offset >= r.size {
		return nil, FrameInfo{}, io.EOF
	}
	if r.offset+PreambleSize > r.size {
		r.dead = true
		r.index.TruncatedTail = true
		return nil, FrameInfo{}, io.ErrUnexpectedEOF
	}
	preView, err := sliceExact(r.source, r.offset, PreambleSize)
	if err != nil {
		r.dead = true
		return nil, FrameInfo{}, err
	}
	pre, err := DecodePreamble(preView)
	if err != nil {
		// Magic mismatch: the stream cannot be resynchronized.
		r.dead = true
		return nil, FrameInfo{}, err
	}
	totalLen := int64(pre.NumBytesThisRecord)
	if totalLen < PreambleSize {
		r.dead = true
		return nil, FrameInfo{}, fmt.Errorf("%w: record length %d shorter than preamble", ErrCorruptStream, totalLen)
	}
	if r.offset+totalLen > r.size {
		r.dead = true
		r.index.TruncatedTail = true
		return nil, FrameInfo{}, io.ErrUnexpectedEOF
	}
	frame, err := sliceExact(r.source, r.offset, int(totalLen))
	if err != nil {
		r.dead = true
		return nil, FrameInfo{}, err
	}

	info := FrameInfo{
		Offset:      r.offset,
		Length:      pre.NumBytesThisRecord,
		HeaderType:  pre.HeaderType,
		NumChans:    pre.NumChansToFollow,
		TimeStampUs: -1,
	}
	rec, decErr := DecodeRecord(r.header, frame)

	// The frame length is authoritative, so the stream position advances
	// even when this record is condemned.
	r.offset += totalLen
	if r.metrics != nil {
		r.metrics.AddRecord(uint8(pre.HeaderType), totalLen)
	}

	if decErr != nil {
		info.Error = decErr.Error()
		r.index.CorruptCount++
		if r.metrics != nil {
			r.metrics.IncCorrupt()
		}
		r.index.Frames = append(r.index.Frames, info)
		return nil, info, decErr
	}
	if rec.Unknown {
		r.index.UnknownCount++
	}
	if ts, ok := rec.Time(); ok {
		info.TimeStampUs = ts.UnixMicro()
	}
	r.index.RecordCount++
	r.index.Frames = append(r.index.Frames, info)
	return rec, info, nil
}
