package xtf

import (
	"errors"
	"io"
	"os"
	"runtime"
	"sync"

	"example.com/xtfgate/internal/common"
)

// FrameInfo records one framed packet's metadata. Offset and Length are
// taken from the preamble before any payload decoding, so a FrameInfo is
// valid even when its record is condemned.
type FrameInfo struct {
	Offset      int64
	Length      uint32
	HeaderType  HeaderType
	NumChans    uint16
	TimeStampUs int64 // -1 when the record carries no resolvable timestamp
	Error       string
}

// FileIndex summarizes one framing pass over a file.
type FileIndex struct {
	Frames        []FrameInfo
	RecordCount   int
	UnknownCount  int
	CorruptCount  int
	TruncatedTail bool
}

// ScanFile runs a full sequential pass over path, decoding every record and
// tallying corrupt and unknown frames. Record-level failures are skipped;
// framing-level failures (corrupt stream, truncation) end the pass, with
// truncation reflected in the returned index rather than an error.
func ScanFile(path string, metrics *common.Metrics) (*FileHeader, FileIndex, error) {
	reader, err := NewReader(path)
	if err != nil {
		return nil, FileIndex{}, err
	}
	defer reader.Close()
	reader.SetMetrics(metrics)

	for {
		_, _, err := reader.Next()
		if err == nil {
			continue
		}
		if errors.Is(err, ErrCorruptRecord) || errors.Is(err, ErrUnsupportedFormat) {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		return reader.FileHeader(), reader.Index(), err
	}
	return reader.FileHeader(), reader.Index(), nil
}

// DecodeResult pairs one frame with its decode outcome. Err carries
// record-level conditions (ErrCorruptRecord, ErrUnsupportedFormat); the
// surrounding pass is unaffected.
type DecodeResult struct {
	Frame  FrameInfo
	Record *Record
	Err    error
}

// DecodeAll decodes every record in path using a bounded worker pool.
// Framing is inherently sequential (each frame length is known only from its
// preamble), but the frame ranges it yields are independent: the file header
// is immutable and os.File.ReadAt is safe for concurrent use, so payload
// decoding parallelizes cleanly. Results are returned in file order.
func DecodeAll(path string, concurrency int) (*FileHeader, []DecodeResult, error) {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	fh, index, err := ScanFile(path, nil)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	results := make([]DecodeResult, len(index.Frames))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				frame := index.Frames[i]
				buf := make([]byte, frame.Length)
				if _, err := f.ReadAt(buf, frame.Offset); err != nil {
					results[i] = DecodeResult{Frame: frame, Err: err}
					continue
				}
				rec, err := DecodeRecord(fh, buf)
				results[i] = DecodeResult{Frame: frame, Record: rec, Err: err}
			}
		}()
	}
	for i := range index.Frames {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return fh, results, nil
}
