package rules

import (
	"os"
	"path/filepath"
	"testing"

	"example.com/xtfgate/internal/xtf"
)

// writeSurveyFile assembles a small XTF file with one sonar channel and the
// given frames appended after the file header.
func writeSurveyFile(t *testing.T, mutate func(h *xtf.FileHeader), frames ...[]byte) string {
	t.Helper()
	h := xtf.NewFileHeader()
	h.NumberOfSonarChannels = 1
	h.ChanInfo[0].TypeOfChannel = xtf.ChannelPort
	h.ChanInfo[0].BytesPerSample = 2
	h.ChanInfo[0].Reserved = 2
	if mutate != nil {
		mutate(h)
	}
	buf := xtf.EncodeFileHeader(h)
	for _, f := range frames {
		buf = append(buf, f...)
	}
	path := filepath.Join(t.TempDir(), "line1.xtf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func pingFrame(t *testing.T, year uint16, month, day, hour, minute, second uint8) []byte {
	t.Helper()
	const nSamples = 2
	total := xtf.PingHeaderSize + xtf.PingChanHeaderSize + nSamples*2
	hdr := &xtf.PingHeader{
		Preamble: xtf.PacketPreamble{
			MagicNumber:        0xFACE,
			HeaderType:         xtf.HeaderSonar,
			NumChansToFollow:   1,
			NumBytesThisRecord: uint32(total),
		},
		Year: year, Month: month, Day: day, Hour: hour, Minute: minute, Second: second,
	}
	frame := xtf.EncodePingHeader(hdr)
	frame = append(frame, xtf.EncodePingChanHeader(xtf.PingChanHeader{NumSamples: nSamples})...)
	frame = append(frame, make([]byte, nSamples*2)...)
	return frame
}

func notesFrame(t *testing.T) []byte {
	t.Helper()
	return xtf.EncodeNotes(&xtf.NotesHeader{
		Preamble: xtf.PacketPreamble{
			MagicNumber:        0xFACE,
			HeaderType:         xtf.HeaderNotes,
			NumBytesThisRecord: xtf.NotesSize,
		},
		Year: 2021, Month: 6, Day: 1,
	})
}

func unknownFrame(t *testing.T) []byte {
	t.Helper()
	frame := xtf.EncodePreamble(xtf.PacketPreamble{
		MagicNumber:        0xFACE,
		HeaderType:         90,
		NumBytesThisRecord: xtf.PreambleSize + 4,
	})
	return append(frame, make([]byte, 4)...)
}

func evalDefaultPack(t *testing.T, path string) ([]Diagnostic, *Engine) {
	t.Helper()
	e := NewEngine(DefaultRulePack("survey"))
	e.RegisterBuiltins()
	diags, err := e.Eval(&Context{InputFile: path, Profile: "survey"})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	return diags, e
}

func findDiag(t *testing.T, diags []Diagnostic, ruleId string) Diagnostic {
	t.Helper()
	for _, d := range diags {
		if d.RuleId == ruleId {
			return d
		}
	}
	t.Fatalf("no diagnostic for %s", ruleId)
	return Diagnostic{}
}

func TestDefaultPackPassesOnCleanFile(t *testing.T) {
	path := writeSurveyFile(t, nil,
		notesFrame(t),
		pingFrame(t, 2021, 6, 1, 10, 0, 0),
		pingFrame(t, 2021, 6, 1, 10, 0, 1),
	)
	diags, e := evalDefaultPack(t, path)
	for _, d := range diags {
		if !d.Passed {
			t.Fatalf("rule %s failed on a clean file: %s", d.RuleId, d.Message)
		}
	}
	rep := e.MakeAcceptance()
	if !rep.Summary.Pass {
		t.Fatalf("acceptance failed: %+v", rep.Summary)
	}
	if rep.Summary.Errors != 0 || rep.Summary.Warnings != 0 {
		t.Fatalf("errors = %d, warnings = %d", rep.Summary.Errors, rep.Summary.Warnings)
	}
	if len(rep.GateMatrix) != len(diags) {
		t.Fatalf("gate matrix has %d rows, want %d", len(rep.GateMatrix), len(diags))
	}
}

func TestCheckSampleWidthsRejectsOddWidth(t *testing.T) {
	path := writeSurveyFile(t, func(h *xtf.FileHeader) {
		h.ChanInfo[0].BytesPerSample = 3
	}, notesFrame(t))
	diags, _ := evalDefaultPack(t, path)
	d := findDiag(t, diags, "XTF-HDR-002")
	if d.Passed {
		t.Fatal("width 3 must fail")
	}
	if d.Occurrences != 1 {
		t.Fatalf("occurrences = %d, want 1", d.Occurrences)
	}
}

func TestCheckNavUnitsWarnsOnUnknownCode(t *testing.T) {
	path := writeSurveyFile(t, func(h *xtf.FileHeader) {
		h.NavUnits = 2
	}, notesFrame(t))
	diags, _ := evalDefaultPack(t, path)
	d := findDiag(t, diags, "XTF-HDR-003")
	if d.Passed {
		t.Fatal("nav units 2 must fail")
	}
	if d.Severity != WARN {
		t.Fatalf("severity = %s, want WARN", d.Severity)
	}
}

func TestCheckHeaderSanityNoChannels(t *testing.T) {
	path := writeSurveyFile(t, func(h *xtf.FileHeader) {
		h.NumberOfSonarChannels = 0
	}, notesFrame(t))
	diags, _ := evalDefaultPack(t, path)
	if findDiag(t, diags, "XTF-HDR-001").Passed {
		t.Fatal("zero channels must fail header sanity")
	}
}

func TestCheckFramingCompleteOnTruncatedFile(t *testing.T) {
	whole := notesFrame(t)
	path := writeSurveyFile(t, nil, whole, whole[:len(whole)-16])
	diags, _ := evalDefaultPack(t, path)
	d := findDiag(t, diags, "XTF-FRM-001")
	if d.Passed {
		t.Fatal("truncated tail must fail framing completeness")
	}
	if d.Offset == "" {
		t.Fatal("diagnostic must carry the truncation offset")
	}
}

func TestCheckRecordIntegrityCountsCondemned(t *testing.T) {
	// A ping that declares more samples than the frame carries.
	bad := pingFrame(t, 2021, 6, 1, 10, 0, 0)
	// NumSamples lives at offset 42 inside the 64-byte sub-header.
	off := xtf.PingHeaderSize + 42
	bad[off] = 200
	path := writeSurveyFile(t, nil, bad, notesFrame(t))

	diags, _ := evalDefaultPack(t, path)
	d := findDiag(t, diags, "XTF-REC-001")
	if d.Passed {
		t.Fatal("condemned record must fail integrity")
	}
	if d.Occurrences != 1 {
		t.Fatalf("occurrences = %d, want 1", d.Occurrences)
	}
	if d.Offset == "" {
		t.Fatal("diagnostic must point at the condemned frame")
	}
}

func TestCheckUnknownTagsTolerance(t *testing.T) {
	path := writeSurveyFile(t, nil, unknownFrame(t), unknownFrame(t), notesFrame(t))

	diags, _ := evalDefaultPack(t, path)
	if findDiag(t, diags, "XTF-REC-002").Passed {
		t.Fatal("two unknown tags must fail with allowance zero")
	}

	rp := DefaultRulePack("survey")
	for i := range rp.Rules {
		if rp.Rules[i].RuleId == "XTF-REC-002" {
			rp.Rules[i].Params = map[string]any{"max_unknown": float64(2)}
		}
	}
	e := NewEngine(rp)
	e.RegisterBuiltins()
	diags, err := e.Eval(&Context{InputFile: path})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !findDiag(t, diags, "XTF-REC-002").Passed {
		t.Fatal("two unknown tags must pass with allowance two")
	}
}

func TestCheckTimeMonotonicDetectsBackstep(t *testing.T) {
	path := writeSurveyFile(t, nil,
		pingFrame(t, 2021, 6, 1, 10, 0, 5),
		pingFrame(t, 2021, 6, 1, 10, 0, 2),
		pingFrame(t, 2021, 6, 1, 10, 0, 7),
	)
	diags, _ := evalDefaultPack(t, path)
	d := findDiag(t, diags, "XTF-TIM-001")
	if d.Passed {
		t.Fatal("backwards ping time must fail")
	}
	if d.Occurrences != 1 {
		t.Fatalf("occurrences = %d, want 1", d.Occurrences)
	}
	if d.TimestampUs == nil {
		t.Fatal("diagnostic must carry the offending timestamp")
	}
}

func TestCheckTimeResolvableFailsOnZeroedCalendar(t *testing.T) {
	path := writeSurveyFile(t, nil,
		pingFrame(t, 0, 0, 0, 0, 0, 0),
		pingFrame(t, 2021, 6, 1, 10, 0, 1),
	)
	diags, _ := evalDefaultPack(t, path)
	d := findDiag(t, diags, "XTF-TIM-002")
	if d.Passed {
		t.Fatal("unresolvable ping time must fail with ratio zero")
	}
	if d.Occurrences != 1 {
		t.Fatalf("occurrences = %d, want 1", d.Occurrences)
	}
}

func TestCheckPingPresence(t *testing.T) {
	path := writeSurveyFile(t, nil, notesFrame(t))
	diags, _ := evalDefaultPack(t, path)
	if findDiag(t, diags, "XTF-REC-003").Passed {
		t.Fatal("a file without pings must fail presence")
	}
}
