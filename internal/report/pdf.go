package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/xtfgate/internal/rules"
)

// ChannelSummary is one row of the report's channel table, built from the
// survey file header.
type ChannelSummary struct {
	Index          int     `json:"index"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	BytesPerSample int     `json:"bytesPerSample"`
	FrequencyKHz   float64 `json:"frequencyKHz"`
}

// SurveyInfo carries file-level context rendered above the gate matrix.
// FileSha256, when set, is also stamped on the cover as a QR code.
type SurveyInfo struct {
	File        string           `json:"file"`
	SonarName   string           `json:"sonarName,omitempty"`
	FileSha256  string           `json:"fileSha256,omitempty"`
	RecordCount int              `json:"recordCount"`
	Channels    []ChannelSummary `json:"channels,omitempty"`
}

// SaveAcceptancePDF renders the acceptance report into a PDF document in
// English.
func SaveAcceptancePDF(rep rules.AcceptanceReport, info SurveyInfo, out string) error {
	return SaveAcceptancePDFLang(rep, info, out, NewTranslator(LangEnglish))
}

// SaveAcceptancePDFLang renders the acceptance report with the given
// translator.
func SaveAcceptancePDFLang(rep rules.AcceptanceReport, info SurveyInfo, out string, tr Translator) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	enc := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(enc(tr.T("report.title")), true)
	pdf.SetAuthor("xtfctl", false)
	pdf.SetCreator("xtfctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, enc(tr.T("report.title")))
	addCoverQR(pdf, info.FileSha256)
	addSummarySection(pdf, enc, rep, info, tr)
	addChannelSection(pdf, enc, info.Channels, tr)
	addGateMatrixSection(pdf, enc, rep.GateMatrix, tr)
	addFindingsSection(pdf, enc, rep.Findings, tr)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

// addCoverQR stamps a QR code of the input file hash in the top right corner.
// Rendering continues without the stamp when the hash cannot be encoded.
func addCoverQR(pdf *gofpdf.Fpdf, hash string) {
	if strings.TrimSpace(hash) == "" {
		return
	}
	png, err := ManifestHashToQR(hash, 256)
	if err != nil {
		return
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("file-hash-qr", opts, bytes.NewReader(png))
	pageWidth, _ := pdf.GetPageSize()
	pdf.ImageOptions("file-hash-qr", pageWidth-15-24, 12, 24, 24, false, opts, 0, "")
}

func addSummarySection(pdf *gofpdf.Fpdf, enc func(string) string, rep rules.AcceptanceReport, info SurveyInfo, tr Translator) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, enc(tr.T("section.summary")))
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: tr.T("summary.file"), value: emptyFallback(info.File, "-")},
		{label: tr.T("summary.sonar"), value: emptyFallback(info.SonarName, "-")},
		{label: tr.T("summary.records"), value: strconv.Itoa(info.RecordCount)},
		{label: tr.T("summary.total"), value: strconv.Itoa(rep.Summary.Total)},
		{label: tr.T("summary.errors"), value: strconv.Itoa(rep.Summary.Errors)},
		{label: tr.T("summary.warnings"), value: strconv.Itoa(rep.Summary.Warnings)},
		{label: tr.T("summary.overall"), value: passLabel(rep.Summary.Pass, tr)},
	}
	for _, item := range items {
		pdf.CellFormat(55, 6, enc(item.label), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, enc(item.value), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addChannelSection(pdf *gofpdf.Fpdf, enc func(string) string, channels []ChannelSummary, tr Translator) {
	if len(channels) == 0 {
		return
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, enc(tr.T("section.channels")))
	pdf.Ln(9)

	headers := []string{
		tr.T("channels.index"),
		tr.T("channels.name"),
		tr.T("channels.type"),
		tr.T("channels.width"),
		tr.T("channels.frequency"),
	}
	widths := []float64{18, 62, 36, 34, 30}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, enc(h), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, ch := range channels {
		values := []string{
			strconv.Itoa(ch.Index),
			emptyFallback(ch.Name, "-"),
			emptyFallback(ch.Type, "-"),
			strconv.Itoa(ch.BytesPerSample),
			fmt.Sprintf("%.1f", ch.FrequencyKHz),
		}
		renderTableRow(pdf, enc, widths, values, 5.0)
	}
	pdf.Ln(4)
}

func addGateMatrixSection(pdf *gofpdf.Fpdf, enc func(string) string, rows []rules.GateResult, tr Translator) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, enc(tr.T("section.gates")))
	pdf.Ln(9)

	headers := []string{
		tr.T("gates.scope"),
		tr.T("gates.severity"),
		tr.T("gates.rule"),
		tr.T("gates.name"),
		tr.T("gates.result"),
	}
	widths := []float64{26, 24, 34, 76, 20}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, enc(h), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	lineHeight := 5.0
	for _, row := range rows {
		values := []string{
			scopeLabel(row.Scope, tr),
			severityLabel(row.Severity),
			row.RuleId,
			emptyFallback(row.Name, "-"),
			passLabel(row.Passed, tr),
		}
		renderTableRow(pdf, enc, widths, values, lineHeight)
	}
	pdf.Ln(4)
}

func addFindingsSection(pdf *gofpdf.Fpdf, enc func(string) string, findings []rules.Diagnostic, tr Translator) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, enc(tr.T("section.findings")))
	pdf.Ln(9)

	if len(findings) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, enc(tr.T("findings.none")), "", "L", false)
		return
	}

	for i, d := range findings {
		pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. %s (%s)", i+1, d.RuleId, severityLabel(d.Severity))
		pdf.MultiCell(0, 5, enc(header), "", "L", false)

		if msg := strings.TrimSpace(d.Message); msg != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, enc(msg), "", "L", false)
		}

		if meta := findingMetadata(d, tr); meta != "" {
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 4, enc(meta), "", "L", false)
		}

		if len(d.Refs) > 0 {
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 4, enc(tr.T("findings.refs")+": "+strings.Join(d.Refs, ", ")), "", "L", false)
		}

		pdf.Ln(2)
	}
}

func renderTableRow(pdf *gofpdf.Fpdf, enc func(string) string, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		byteLines := pdf.SplitLines([]byte(enc(text)), widths[i]-2)
		lines := make([]string, 0, len(byteLines))
		for _, bl := range byteLines {
			lines = append(lines, string(bl))
		}
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func passLabel(pass bool, tr Translator) string {
	if pass {
		return tr.T("label.pass")
	}
	return tr.T("label.fail")
}

func scopeLabel(scope string, tr Translator) string {
	key := "scope." + scope
	if label := tr.T(key); label != key {
		return label
	}
	return emptyFallback(scope, "-")
}

func severityLabel(sev rules.Severity) string {
	if s := strings.TrimSpace(string(sev)); s != "" {
		return s
	}
	return "UNKNOWN"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func findingMetadata(d rules.Diagnostic, tr Translator) string {
	parts := make([]string, 0, 6)
	if !d.Ts.IsZero() {
		parts = append(parts, d.Ts.UTC().Format(time.RFC3339))
	}
	if d.File != "" {
		parts = append(parts, d.File)
	}
	if d.ChannelId != 0 {
		parts = append(parts, fmt.Sprintf("%s %d", tr.T("meta.channel"), d.ChannelId))
	}
	if d.FrameIndex != 0 {
		parts = append(parts, fmt.Sprintf("%s %d", tr.T("meta.frame"), d.FrameIndex))
	}
	if d.Offset != "" {
		parts = append(parts, tr.T("meta.offset")+" "+d.Offset)
	}
	if d.Occurrences > 1 {
		parts = append(parts, fmt.Sprintf("x%d", d.Occurrences))
	}
	if d.TimestampUs != nil {
		parts = append(parts, fmt.Sprintf("%s %dus", tr.T("meta.timestamp"), *d.TimestampUs))
	}
	if d.TimestampSource != nil && *d.TimestampSource != "" {
		parts = append(parts, tr.T("meta.source")+" "+*d.TimestampSource)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " | ")
}
