package rules

import (
	"fmt"
	"time"

	"example.com/xtfgate/internal/xtf"
)

func int64Ptr(v int64) *int64 { return &v }

func stringPtr(s string) *string { return &s }

// builtinChecks maps the checkFunction names a rule pack may reference to
// their implementations. Repository installs validate against this set.
var builtinChecks = map[string]CheckFunc{
	"CheckHeaderSanity":    CheckHeaderSanity,
	"CheckSampleWidths":    CheckSampleWidths,
	"CheckNavUnits":        CheckNavUnits,
	"CheckFramingComplete": CheckFramingComplete,
	"CheckRecordIntegrity": CheckRecordIntegrity,
	"CheckUnknownTags":     CheckUnknownTags,
	"CheckTimeMonotonic":   CheckTimeMonotonic,
	"CheckTimeResolvable":  CheckTimeResolvable,
	"CheckChannelBinding":  CheckChannelBinding,
	"CheckPingPresence":    CheckPingPresence,
}

func (e *Engine) RegisterBuiltins() {
	for name, f := range builtinChecks {
		e.Register(name, f)
	}
}

// pingType reports whether a tag carries the 256-byte ping header and thus a
// resolvable acquisition timestamp.
func pingType(t xtf.HeaderType) bool {
	switch t {
	case xtf.HeaderSonar, xtf.HeaderBathy, xtf.HeaderBathyXYZA, xtf.HeaderMultibeamRawBeamAngle:
		return true
	}
	return false
}

func paramInt(rule Rule, key string, def int) int {
	if rule.Params == nil {
		return def
	}
	switch v := rule.Params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func paramFloat(rule Rule, key string, def float64) float64 {
	if rule.Params == nil {
		return def
	}
	switch v := rule.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func baseDiag(ctx *Context, rule Rule) Diagnostic {
	return Diagnostic{
		Ts:       time.Now(),
		File:     ctx.InputFile,
		RuleId:   rule.RuleId,
		Severity: rule.Severity,
		Refs:     rule.Refs,
	}
}

func CheckHeaderSanity(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureFileIndex(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot parse file header"
		return diag, false, err
	}
	h := ctx.Header
	if h == nil {
		diag.Severity = ERROR
		diag.Message = "no file header"
		return diag, false, nil
	}
	total := h.ChannelCount()
	if total == 0 {
		diag.Message = "header declares no channels"
		return diag, false, nil
	}
	if total > 6 {
		diag.Message = fmt.Sprintf("header declares %d channels; only 6 descriptor slots exist", total)
		return diag, false, nil
	}
	if len(h.SonarChannels)+len(h.BathyChannels) == 0 {
		diag.Message = "no descriptor slot carries a usable channel type"
		return diag, false, nil
	}
	diag.Severity = INFO
	diag.Message = fmt.Sprintf("header sane: %d sonar, %d bathy channels", len(h.SonarChannels), len(h.BathyChannels))
	return diag, true, nil
}

func CheckSampleWidths(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureFileIndex(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot parse file header"
		return diag, false, err
	}
	if ctx.Header == nil {
		diag.Severity = ERROR
		diag.Message = "no file header"
		return diag, false, nil
	}
	var bad int
	for i, ch := range ctx.Header.SonarChannels {
		switch ch.BytesPerSample {
		case 1, 2, 4, 8:
		default:
			bad++
			diag.ChannelId = i
			diag.Message = fmt.Sprintf("sonar channel %d (%s) declares %d bytes per sample", i, ch.Name(), ch.BytesPerSample)
		}
	}
	if bad > 0 {
		diag.Occurrences = bad
		return diag, false, nil
	}
	diag.Severity = INFO
	diag.Message = "all sonar channels use a supported sample width"
	return diag, true, nil
}

func CheckNavUnits(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureFileIndex(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot parse file header"
		return diag, false, err
	}
	if ctx.Header == nil {
		diag.Severity = ERROR
		diag.Message = "no file header"
		return diag, false, nil
	}
	switch ctx.Header.NavUnits {
	case xtf.NavUnitsMeters, xtf.NavUnitsLatLong:
		diag.Severity = INFO
		diag.Message = fmt.Sprintf("navigation units code %d", ctx.Header.NavUnits)
		return diag, true, nil
	}
	diag.Message = fmt.Sprintf("navigation units code %d is neither meters (0) nor lat/long (3)", ctx.Header.NavUnits)
	return diag, false, nil
}

func CheckFramingComplete(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureFileIndex(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot index file"
		return diag, false, err
	}
	idx := ctx.Index
	if idx == nil {
		diag.Severity = ERROR
		diag.Message = "no frame index"
		return diag, false, nil
	}
	if idx.TruncatedTail {
		last := int64(xtf.FileHeaderSize)
		if n := len(idx.Frames); n > 0 {
			last = idx.Frames[n-1].Offset + int64(idx.Frames[n-1].Length)
		}
		diag.Offset = fmt.Sprintf("0x%X", last)
		diag.Message = "file ends inside a frame"
		return diag, false, nil
	}
	diag.Severity = INFO
	diag.Message = fmt.Sprintf("%d frames tile the file completely", len(idx.Frames))
	return diag, true, nil
}

func CheckRecordIntegrity(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureFileIndex(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot index file"
		return diag, false, err
	}
	idx := ctx.Index
	if idx == nil {
		diag.Severity = ERROR
		diag.Message = "no frame index"
		return diag, false, nil
	}
	if idx.CorruptCount == 0 {
		diag.Severity = INFO
		diag.Message = "every frame decodes cleanly"
		return diag, true, nil
	}
	for i, f := range idx.Frames {
		if f.Error == "" {
			continue
		}
		diag.FrameIndex = i
		diag.Offset = fmt.Sprintf("0x%X", f.Offset)
		diag.Message = fmt.Sprintf("%d condemned records, first at frame %d: %s", idx.CorruptCount, i, f.Error)
		break
	}
	diag.Occurrences = idx.CorruptCount
	return diag, false, nil
}

func CheckUnknownTags(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureFileIndex(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot index file"
		return diag, false, err
	}
	idx := ctx.Index
	if idx == nil {
		diag.Severity = ERROR
		diag.Message = "no frame index"
		return diag, false, nil
	}
	allowed := paramInt(rule, "max_unknown", 0)
	if idx.UnknownCount <= allowed {
		diag.Severity = INFO
		diag.Message = fmt.Sprintf("%d unrecognized tags (allowed %d)", idx.UnknownCount, allowed)
		return diag, true, nil
	}
	diag.Occurrences = idx.UnknownCount
	diag.Message = fmt.Sprintf("%d frames carry unrecognized header tags", idx.UnknownCount)
	return diag, false, nil
}

// CheckTimeMonotonic verifies ping acquisition timestamps never run backwards
// by more than the configured tolerance. Pings whose calendar fields do not
// resolve are not counted here; CheckTimeResolvable covers them.
func CheckTimeMonotonic(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureFileIndex(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot index file"
		return diag, false, err
	}
	idx := ctx.Index
	if idx == nil {
		diag.Severity = ERROR
		diag.Message = "no frame index"
		return diag, false, nil
	}
	toleranceUs := int64(paramInt(rule, "tolerance_us", 0))
	var (
		prev       int64 = -1
		prevIdx    int
		violations int
	)
	for i, f := range idx.Frames {
		if !pingType(f.HeaderType) || f.TimeStampUs < 0 {
			continue
		}
		if prev >= 0 && f.TimeStampUs+toleranceUs < prev {
			violations++
			if diag.Offset == "" {
				diag.FrameIndex = i
				diag.Offset = fmt.Sprintf("0x%X", f.Offset)
				diag.TimestampUs = int64Ptr(f.TimeStampUs)
				diag.TimestampSource = stringPtr("ping header")
				diag.Message = fmt.Sprintf("ping at frame %d steps back %d us behind frame %d",
					i, prev-f.TimeStampUs, prevIdx)
			}
		}
		prev = f.TimeStampUs
		prevIdx = i
	}
	if violations > 0 {
		diag.Occurrences = violations
		return diag, false, nil
	}
	diag.Severity = INFO
	diag.Message = "ping timestamps are monotonic"
	return diag, true, nil
}

func CheckTimeResolvable(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureFileIndex(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot index file"
		return diag, false, err
	}
	idx := ctx.Index
	if idx == nil {
		diag.Severity = ERROR
		diag.Message = "no frame index"
		return diag, false, nil
	}
	maxRatio := paramFloat(rule, "max_unresolved_ratio", 0)
	var pings, unresolved int
	for _, f := range idx.Frames {
		if !pingType(f.HeaderType) || f.Error != "" {
			continue
		}
		pings++
		if f.TimeStampUs < 0 {
			unresolved++
		}
	}
	if pings == 0 {
		diag.Severity = INFO
		diag.Message = "no pings to check"
		return diag, true, nil
	}
	ratio := float64(unresolved) / float64(pings)
	if ratio > maxRatio {
		diag.Occurrences = unresolved
		diag.Message = fmt.Sprintf("%d of %d pings carry an unresolvable timestamp", unresolved, pings)
		return diag, false, nil
	}
	diag.Severity = INFO
	diag.Message = fmt.Sprintf("%d of %d pings carry an unresolvable timestamp (within tolerance)", unresolved, pings)
	return diag, true, nil
}

// CheckChannelBinding verifies that no sonar frame declares more sub-headers
// than the header's channel table can bind positionally.
func CheckChannelBinding(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureFileIndex(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot index file"
		return diag, false, err
	}
	if ctx.Header == nil || ctx.Index == nil {
		diag.Severity = ERROR
		diag.Message = "no file header or frame index"
		return diag, false, nil
	}
	limit := uint16(len(ctx.Header.SonarChannels))
	var violations int
	for i, f := range ctx.Index.Frames {
		if f.HeaderType != xtf.HeaderSonar {
			continue
		}
		if f.NumChans > limit {
			violations++
			if diag.Offset == "" {
				diag.FrameIndex = i
				diag.Offset = fmt.Sprintf("0x%X", f.Offset)
				diag.Message = fmt.Sprintf("sonar frame %d declares %d sub-headers against %d descriptors",
					i, f.NumChans, limit)
			}
		}
	}
	if violations > 0 {
		diag.Occurrences = violations
		return diag, false, nil
	}
	diag.Severity = INFO
	diag.Message = "every sonar frame binds to the channel table"
	return diag, true, nil
}

func CheckPingPresence(ctx *Context, rule Rule) (Diagnostic, bool, error) {
	diag := baseDiag(ctx, rule)
	if err := ctx.EnsureFileIndex(); err != nil {
		diag.Severity = ERROR
		diag.Message = "cannot index file"
		return diag, false, err
	}
	if ctx.Index == nil {
		diag.Severity = ERROR
		diag.Message = "no frame index"
		return diag, false, nil
	}
	var pings int
	for _, f := range ctx.Index.Frames {
		if pingType(f.HeaderType) && f.Error == "" {
			pings++
		}
	}
	if pings == 0 {
		diag.Message = "file contains no decodable ping records"
		return diag, false, nil
	}
	diag.Severity = INFO
	diag.Message = fmt.Sprintf("%d ping records present", pings)
	return diag, true, nil
}

// DefaultRulePack is the built-in acceptance gate used when no installed rule
// pack is selected.
func DefaultRulePack(profile string) RulePack {
	return RulePack{
		RulePackId: "xtf-acceptance",
		Version:    "1.0.0",
		Profile:    profile,
		Rules: []Rule{
			{
				RuleId: "XTF-HDR-001", Name: "Header sanity", Scope: "header",
				Severity: ERROR, CheckFunc: "CheckHeaderSanity",
				Refs:    []string{"XTF file header"},
				Message: "file header must declare a usable channel table",
			},
			{
				RuleId: "XTF-HDR-002", Name: "Sample widths", Scope: "channel",
				Severity: ERROR, CheckFunc: "CheckSampleWidths",
				Refs:    []string{"CHANINFO.BytesPerSample"},
				Message: "sonar channels must use 1, 2, 4 or 8 bytes per sample",
			},
			{
				RuleId: "XTF-HDR-003", Name: "Navigation units", Scope: "header",
				Severity: WARN, CheckFunc: "CheckNavUnits",
				Refs:    []string{"XTFFILEHEADER.NavUnits"},
				Message: "navigation units should be meters or lat/long",
			},
			{
				RuleId: "XTF-FRM-001", Name: "Framing completeness", Scope: "file",
				Severity: ERROR, CheckFunc: "CheckFramingComplete",
				Refs:    []string{"packet preamble NumBytesThisRecord"},
				Message: "the frame chain must end exactly at end of file",
			},
			{
				RuleId: "XTF-REC-001", Name: "Record integrity", Scope: "record",
				Severity: ERROR, CheckFunc: "CheckRecordIntegrity",
				Refs:    []string{"ping sub-header bounds"},
				Message: "every frame must decode without length inconsistencies",
			},
			{
				RuleId: "XTF-REC-002", Name: "Unknown tags", Scope: "record",
				Severity: WARN, CheckFunc: "CheckUnknownTags",
				Refs:    []string{"header type registry"},
				Message: "unrecognized header tags reduce downstream coverage",
			},
			{
				RuleId: "XTF-TIM-001", Name: "Timestamp monotonicity", Scope: "time",
				Severity: WARN, CheckFunc: "CheckTimeMonotonic",
				Refs:    []string{"ping header calendar fields"},
				Params:  map[string]any{"tolerance_us": float64(0)},
				Message: "ping timestamps must not run backwards",
			},
			{
				RuleId: "XTF-TIM-002", Name: "Timestamp resolvability", Scope: "time",
				Severity: WARN, CheckFunc: "CheckTimeResolvable",
				Refs:    []string{"ping header calendar fields"},
				Params:  map[string]any{"max_unresolved_ratio": float64(0)},
				Message: "ping calendar fields must resolve to valid instants",
			},
			{
				RuleId: "XTF-CHN-001", Name: "Channel binding", Scope: "channel",
				Severity: ERROR, CheckFunc: "CheckChannelBinding",
				Refs:    []string{"positional channel binding"},
				Message: "sonar frames must not declare more sub-headers than descriptors",
			},
			{
				RuleId: "XTF-REC-003", Name: "Ping presence", Scope: "file",
				Severity: WARN, CheckFunc: "CheckPingPresence",
				Refs:    []string{"survey deliverable content"},
				Message: "a survey deliverable should contain ping data",
			},
		},
	}
}
