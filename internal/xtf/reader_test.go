package xtf

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"example.com/xtfgate/internal/common"
)

// writeTestFile assembles an XTF file from a header and framed records.
func writeTestFile(t *testing.T, frames ...[]byte) string {
	t.Helper()
	h := NewFileHeader()
	h.NumberOfSonarChannels = 1
	h.ChanInfo[0].TypeOfChannel = ChannelPort
	h.ChanInfo[0].BytesPerSample = 2
	h.ChanInfo[0].Reserved = 4

	buf := EncodeFileHeader(h)
	for _, f := range frames {
		buf = append(buf, f...)
	}
	path := filepath.Join(t.TempDir(), "survey.xtf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func notesFrame(text string) []byte {
	n := &NotesHeader{
		Preamble: PacketPreamble{
			MagicNumber:        preambleMagic,
			HeaderType:         HeaderNotes,
			NumBytesThisRecord: NotesSize,
		},
		Year: 2021, Month: 4, Day: 5, Hour: 1, Minute: 2, Second: 3,
	}
	copy(n.NotesText[:], text)
	return EncodeNotes(n)
}

func attitudeFrame(epoch uint32) []byte {
	return EncodeAttitude(&AttitudeData{
		Preamble: PacketPreamble{
			MagicNumber:        preambleMagic,
			HeaderType:         HeaderAttitude,
			NumBytesThisRecord: AttitudeSize,
		},
		SourceEpoch: epoch,
		Pitch:       0.5,
	})
}

func unknownFrame(tag HeaderType, payload int) []byte {
	frame := EncodePreamble(PacketPreamble{
		MagicNumber:        preambleMagic,
		HeaderType:         tag,
		NumBytesThisRecord: uint32(PreambleSize + payload),
	})
	return append(frame, make([]byte, payload)...)
}

func TestReaderSequence(t *testing.T) {
	path := writeTestFile(t,
		notesFrame("launch line 3"),
		sonarFrame(4, u16leSamples(1, 2, 3, 4)),
		unknownFrame(77, 16),
		attitudeFrame(1_600_000_000),
	)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	m := common.NewMetrics()
	r.SetMetrics(m)

	if got := len(r.FileHeader().SonarChannels); got != 1 {
		t.Fatalf("sonar channels = %d, want 1", got)
	}

	var types []HeaderType
	for {
		rec, info, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		types = append(types, info.HeaderType)
		if info.HeaderType == HeaderNotes && rec.Notes.Text() != "launch line 3" {
			t.Fatalf("note text = %q", rec.Notes.Text())
		}
	}

	want := []HeaderType{HeaderNotes, HeaderSonar, 77, HeaderAttitude}
	if len(types) != len(want) {
		t.Fatalf("decoded %d records, want %d", len(types), len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("record %d type = %v, want %v", i, types[i], want[i])
		}
	}

	idx := r.Index()
	if idx.RecordCount != 4 {
		t.Fatalf("RecordCount = %d, want 4", idx.RecordCount)
	}
	if idx.UnknownCount != 1 {
		t.Fatalf("UnknownCount = %d, want 1", idx.UnknownCount)
	}
	if idx.CorruptCount != 0 {
		t.Fatalf("CorruptCount = %d, want 0", idx.CorruptCount)
	}
	if idx.TruncatedTail {
		t.Fatal("TruncatedTail = true on a complete file")
	}
	// Frame offsets must tile the stream starting right after the header.
	off := int64(FileHeaderSize)
	for i, f := range idx.Frames {
		if f.Offset != off {
			t.Fatalf("frame %d offset = %d, want %d", i, f.Offset, off)
		}
		off += int64(f.Length)
	}

	snap := m.Snapshot()
	if snap.Records != 4 {
		t.Fatalf("metrics records = %d, want 4", snap.Records)
	}
	if snap.TotalBytes != off {
		t.Fatalf("metrics total = %d, want %d", snap.TotalBytes, off)
	}
	for _, tag := range want {
		if snap.RecordsByTag[uint8(tag)] != 1 {
			t.Fatalf("records for tag %v = %d, want 1", tag, snap.RecordsByTag[uint8(tag)])
		}
	}
}

func TestReaderTruncatedTail(t *testing.T) {
	full := notesFrame("cut")
	path := writeTestFile(t, notesFrame("ok"), full[:len(full)-10])

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	if _, _, err := r.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, _, err := r.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
	if !r.Index().TruncatedTail {
		t.Fatal("TruncatedTail not set")
	}
	// The reader is poisoned; further calls end the stream.
	if _, _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after truncation, got %v", err)
	}
}

func TestReaderCorruptStreamHalts(t *testing.T) {
	bad := notesFrame("x")
	bad[0] = 0xEF
	bad[1] = 0xBE
	path := writeTestFile(t, notesFrame("ok"), bad, notesFrame("unreachable"))

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	if _, _, err := r.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, _, err := r.Next(); !errors.Is(err, ErrCorruptStream) {
		t.Fatalf("expected ErrCorruptStream, got %v", err)
	}
	if _, _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after a corrupt stream, got %v", err)
	}
}

func TestReaderSkipsCorruptRecord(t *testing.T) {
	path := writeTestFile(t,
		sonarFrame(100, u16leSamples(1, 2)), // declares more samples than it carries
		notesFrame("after the bad one"),
	)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	rec, info, err := r.Next()
	if !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
	if rec != nil {
		t.Fatal("condemned record must be nil")
	}
	if info.Error == "" {
		t.Fatal("frame info must carry the failure")
	}

	rec, _, err = r.Next()
	if err != nil {
		t.Fatalf("record after skip: %v", err)
	}
	if rec.Notes == nil || rec.Notes.Text() != "after the bad one" {
		t.Fatal("reader did not resume at the next frame")
	}

	idx := r.Index()
	if idx.CorruptCount != 1 || idx.RecordCount != 1 {
		t.Fatalf("counts = corrupt %d / ok %d, want 1 / 1", idx.CorruptCount, idx.RecordCount)
	}
}

func TestReaderSkipsUndersizedRecord(t *testing.T) {
	// A notes record declaring fewer bytes than its fixed structure. All 20
	// declared bytes are present in the stream, so the defect is the
	// record's own length bookkeeping, not a short source.
	short := EncodePreamble(PacketPreamble{
		MagicNumber:        preambleMagic,
		HeaderType:         HeaderNotes,
		NumBytesThisRecord: 20,
	})
	short = append(short, make([]byte, 20-PreambleSize)...)

	path := writeTestFile(t,
		notesFrame("before"),
		short,
		notesFrame("after"),
	)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	if _, _, err := r.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, _, err := r.Next(); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
	rec, _, err := r.Next()
	if err != nil {
		t.Fatalf("record after skip: %v", err)
	}
	if rec.Notes == nil || rec.Notes.Text() != "after" {
		t.Fatal("reader did not resume at the next frame")
	}

	fh, idx, err := ScanFile(path, common.NewMetrics())
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if fh == nil {
		t.Fatal("file header is nil")
	}
	if idx.RecordCount != 2 || idx.CorruptCount != 1 {
		t.Fatalf("counts = ok %d / corrupt %d, want 2 / 1", idx.RecordCount, idx.CorruptCount)
	}
	if idx.TruncatedTail {
		t.Fatal("TruncatedTail = true on a complete file")
	}
}

func TestNewReaderShortHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stub.xtf")
	if err := os.WriteFile(path, make([]byte, FileHeaderSize-100), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := NewReader(path)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestScanFile(t *testing.T) {
	path := writeTestFile(t,
		notesFrame("a"),
		sonarFrame(100, u16leSamples(1)), // corrupt, skipped
		unknownFrame(200, 4),
		attitudeFrame(1_600_000_000),
	)

	fh, idx, err := ScanFile(path, common.NewMetrics())
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if fh == nil {
		t.Fatal("file header is nil")
	}
	if idx.RecordCount != 3 {
		t.Fatalf("RecordCount = %d, want 3", idx.RecordCount)
	}
	if idx.CorruptCount != 1 {
		t.Fatalf("CorruptCount = %d, want 1", idx.CorruptCount)
	}
	if idx.UnknownCount != 1 {
		t.Fatalf("UnknownCount = %d, want 1", idx.UnknownCount)
	}
	if len(idx.Frames) != 4 {
		t.Fatalf("Frames = %d, want 4", len(idx.Frames))
	}
}

func TestDecodeAll(t *testing.T) {
	path := writeTestFile(t,
		notesFrame("a"),
		sonarFrame(4, u16leSamples(9, 8, 7, 6)),
		attitudeFrame(1_600_000_000),
		notesFrame("b"),
	)

	fh, results, err := DecodeAll(path, 3)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if fh == nil {
		t.Fatal("file header is nil")
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	// File order must survive the worker pool.
	if results[0].Record == nil || results[0].Record.Notes == nil || results[0].Record.Notes.Text() != "a" {
		t.Fatal("result 0 is not the first note")
	}
	if results[1].Record == nil || results[1].Record.SonarPing == nil {
		t.Fatal("result 1 is not the sonar ping")
	}
	if results[1].Record.SonarPing.Samples[0].U16[0] != 9 {
		t.Fatalf("sample = %d, want 9", results[1].Record.SonarPing.Samples[0].U16[0])
	}
	if results[3].Record == nil || results[3].Record.Notes == nil || results[3].Record.Notes.Text() != "b" {
		t.Fatal("result 3 is not the last note")
	}
}
