package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"example.com/xtfgate/internal/catalog"
	"example.com/xtfgate/internal/common"
	"example.com/xtfgate/internal/manifest"
	"example.com/xtfgate/internal/report"
	"example.com/xtfgate/internal/rules"
	"example.com/xtfgate/internal/xtf"
)

type validateRequest struct {
	Inputs            []string        `json:"inputs"`
	Profile           string          `json:"profile"`
	Language          string          `json:"language"`
	RulePack          *rules.RulePack `json:"rulePack"`
	IncludeTimestamps *bool           `json:"includeTimestamps"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream") == "true"
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Profile) == "" {
		http.Error(w, "profile required", http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Inputs[0])
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	lang := report.LangEnglish
	if req.Language != "" {
		if lang, err = report.ParseLanguage(req.Language); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	rp, err := s.loadRulePack(req.Profile, req.RulePack)
	if err != nil {
		http.Error(w, fmt.Sprintf("load rulepack: %v", err), http.StatusBadRequest)
		return
	}
	engine := rules.NewEngine(rp)
	engine.RegisterBuiltins()
	includeTimestamps := true
	if req.IncludeTimestamps != nil {
		includeTimestamps = *req.IncludeTimestamps
	}
	engine.SetConfigValue("diag.include_timestamps", includeTimestamps)
	ctx := &rules.Context{InputFile: inputPath, Profile: req.Profile}

	if stream {
		s.validateStreaming(w, engine, ctx, rp, lang)
		return
	}

	diags, err := engine.Eval(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("eval: %v", err), http.StatusInternalServerError)
		return
	}
	rep := engine.MakeAcceptance()
	arts, err := s.persistRunArtifacts(engine, rep, ctx, lang)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	runId := s.recordRun(ctx, rp, rep, arts)
	resp := struct {
		RunId       string                 `json:"runId,omitempty"`
		Acceptance  rules.AcceptanceReport `json:"acceptance"`
		Diagnostics int                    `json:"diagnostics"`
		Artifacts   []ArtifactRef          `json:"artifacts"`
	}{
		RunId:       runId,
		Acceptance:  rep,
		Diagnostics: len(diags),
		Artifacts:   arts,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) validateStreaming(w http.ResponseWriter, engine *rules.Engine, ctx *rules.Context, rp rules.RulePack, lang report.Language) {
	writer := NewNDJSONWriter(w)
	engine.SetDiagnosticCallback(writer.WriteDiagnostic)
	w.Header().Set("Content-Type", "application/x-ndjson")
	diags, err := engine.Eval(ctx)
	engine.SetDiagnosticCallback(nil)
	if err != nil {
		_ = writer.WriteObject(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	rep := engine.MakeAcceptance()
	arts, err := s.persistRunArtifacts(engine, rep, ctx, lang)
	if err != nil {
		_ = writer.WriteObject(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	runId := s.recordRun(ctx, rp, rep, arts)
	summary := struct {
		Type       string                 `json:"type"`
		RunId      string                 `json:"runId,omitempty"`
		Acceptance rules.AcceptanceReport `json:"acceptance"`
		Artifacts  []ArtifactRef          `json:"artifacts"`
		Total      int                    `json:"diagnostics"`
	}{
		Type:       "acceptance",
		RunId:      runId,
		Acceptance: rep,
		Artifacts:  arts,
		Total:      len(diags),
	}
	_ = writer.WriteObject(summary)
}

// persistRunArtifacts writes the diagnostics NDJSON, acceptance JSON and
// acceptance PDF into the workspace and registers them for download.
func (s *Server) persistRunArtifacts(engine *rules.Engine, rep rules.AcceptanceReport, ctx *rules.Context, lang report.Language) ([]ArtifactRef, error) {
	diagPath, err := s.tempPath("diagnostics-*.ndjson")
	if err != nil {
		return nil, fmt.Errorf("diagnostics temp: %w", err)
	}
	if err := engine.WriteDiagnosticsNDJSON(diagPath); err != nil {
		return nil, fmt.Errorf("write diagnostics: %w", err)
	}
	accPath, err := s.tempPath("acceptance-*.json")
	if err != nil {
		return nil, fmt.Errorf("acceptance temp: %w", err)
	}
	if err := report.SaveAcceptanceJSON(rep, accPath); err != nil {
		return nil, fmt.Errorf("write acceptance: %w", err)
	}
	pdfPath, err := s.tempPath("acceptance-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("acceptance pdf temp: %w", err)
	}
	info := report.BuildSurveyInfo(ctx.InputFile, ctx.Header, ctx.Index)
	if ctx.Header != nil && info.SonarName == "" {
		info.SonarName = s.dict.SonarName(ctx.Header.SonarType)
	}
	if hash, _, err := common.Sha256OfFile(ctx.InputFile); err == nil {
		info.FileSha256 = hash
	}
	if err := report.SaveAcceptancePDFLang(rep, info, pdfPath, report.NewTranslator(lang)); err != nil {
		return nil, fmt.Errorf("write acceptance pdf: %w", err)
	}
	diagArt, err := s.addArtifact(diagPath, "diagnostics.ndjson", "application/x-ndjson", "diagnostics")
	if err != nil {
		return nil, fmt.Errorf("register diagnostics: %w", err)
	}
	accArt, err := s.addArtifact(accPath, "acceptance_report.json", "application/json", "acceptance")
	if err != nil {
		return nil, fmt.Errorf("register acceptance: %w", err)
	}
	pdfArt, err := s.addArtifact(pdfPath, "acceptance_report.pdf", "application/pdf", "acceptance")
	if err != nil {
		return nil, fmt.Errorf("register acceptance pdf: %w", err)
	}
	return []ArtifactRef{toRef(diagArt), toRef(accArt), toRef(pdfArt)}, nil
}

// recordRun stores the evaluation in the catalog when one is configured.
// Catalog failures never fail the request.
func (s *Server) recordRun(ctx *rules.Context, rp rules.RulePack, rep rules.AcceptanceReport, arts []ArtifactRef) string {
	if s.catalog == nil {
		return ""
	}
	run := catalog.Run{
		InputFile:   ctx.InputFile,
		Profile:     ctx.Profile,
		RulePackId:  rp.RulePackId,
		RulePackVer: rp.Version,
		Errors:      rep.Summary.Errors,
		Warnings:    rep.Summary.Warnings,
		Pass:        rep.Summary.Pass,
	}
	if sha, _, err := common.Sha256OfFile(ctx.InputFile); err == nil {
		run.FileSha256 = sha
	}
	if ctx.Index != nil {
		run.RecordCount = ctx.Index.RecordCount
		run.CorruptCount = ctx.Index.CorruptCount
		run.UnknownCount = ctx.Index.UnknownCount
	}
	runId, err := s.catalog.RecordRun(run)
	if err != nil {
		common.Logf("catalog record run: %v", err)
		return ""
	}
	for _, art := range arts {
		a, ok := s.getArtifact(art.ID)
		if !ok {
			continue
		}
		sha, _, err := common.Sha256OfFile(a.Path)
		if err != nil {
			continue
		}
		_ = s.catalog.AddArtifact(catalog.Artifact{RunId: runId, Kind: a.Kind + "/" + a.Name, Path: a.Path, Sha256: sha})
	}
	return runId
}

// handleInspect decodes a survey file's header and framing summary without
// running any rules.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	fh, idx, err := xtf.ScanFile(inputPath, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("scan: %v", err), http.StatusUnprocessableEntity)
		return
	}
	info := report.BuildSurveyInfo(inputPath, fh, &idx)
	if info.SonarName == "" {
		info.SonarName = s.dict.SonarName(fh.SonarType)
	}
	resp := struct {
		Survey        report.SurveyInfo `json:"survey"`
		SonarType     uint16            `json:"sonarType"`
		SonarTypeName string            `json:"sonarTypeName"`
		RecordCount   int               `json:"recordCount"`
		UnknownCount  int               `json:"unknownCount"`
		CorruptCount  int               `json:"corruptCount"`
		TruncatedTail bool              `json:"truncatedTail"`
	}{
		Survey:        info,
		SonarType:     fh.SonarType,
		SonarTypeName: s.dict.SonarName(fh.SonarType),
		RecordCount:   idx.RecordCount,
		UnknownCount:  idx.UnknownCount,
		CorruptCount:  idx.CorruptCount,
		TruncatedTail: idx.TruncatedTail,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Inputs  []string `json:"inputs"`
		ShaAlgo string   `json:"shaAlgo"`
		Sign    bool     `json:"sign"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	if req.ShaAlgo != "" && !strings.EqualFold(req.ShaAlgo, "sha256") {
		http.Error(w, "only sha256 supported", http.StatusBadRequest)
		return
	}
	var paths []string
	for _, in := range req.Inputs {
		resolved, err := s.resolvePath(in)
		if err != nil {
			http.Error(w, fmt.Sprintf("resolve %s: %v", in, err), http.StatusBadRequest)
			return
		}
		paths = append(paths, resolved)
	}
	m, err := manifest.Build(paths)
	if err != nil {
		http.Error(w, fmt.Sprintf("build manifest: %v", err), http.StatusInternalServerError)
		return
	}
	var arts []ArtifactRef
	if req.Sign {
		sigArt, err := s.signManifest(&m)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		arts = append(arts, sigArt)
	}
	outPath, err := s.tempPath("manifest-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("manifest temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := manifest.Save(m, outPath); err != nil {
		http.Error(w, fmt.Sprintf("write manifest: %v", err), http.StatusInternalServerError)
		return
	}
	art, err := s.addArtifact(outPath, "manifest.json", "application/json", "manifest")
	if err != nil {
		http.Error(w, fmt.Sprintf("register manifest: %v", err), http.StatusInternalServerError)
		return
	}
	arts = append([]ArtifactRef{toRef(art)}, arts...)
	resp := struct {
		Manifest  manifest.Manifest `json:"manifest"`
		Artifacts []ArtifactRef     `json:"artifacts"`
	}{
		Manifest:  m,
		Artifacts: arts,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) signManifest(m *manifest.Manifest) (ArtifactRef, error) {
	if s.signing.PrivateKeyPath == "" || s.signing.CertificatePath == "" {
		return ArtifactRef{}, errors.New("manifest signing is not configured")
	}
	keyPEM, err := os.ReadFile(s.signing.PrivateKeyPath)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("read signing key: %w", err)
	}
	certPEM, err := os.ReadFile(s.signing.CertificatePath)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("read signing certificate: %w", err)
	}
	jws, err := manifest.Sign(m, keyPEM, certPEM, "manifest.jws")
	if err != nil {
		return ArtifactRef{}, err
	}
	sigPath, err := s.tempPath("manifest-*.jws")
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("signature temp: %w", err)
	}
	if err := manifest.SaveJWS(jws, sigPath); err != nil {
		return ArtifactRef{}, fmt.Errorf("write signature: %w", err)
	}
	art, err := s.addArtifact(sigPath, "manifest.jws", "application/jose+json", "signature")
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("register signature: %w", err)
	}
	return toRef(art), nil
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.profileIds)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.catalog == nil {
		http.Error(w, "run catalog is not configured", http.StatusNotFound)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	var (
		runs []catalog.Run
		err  error
	)
	if sha := r.URL.Query().Get("fileSha256"); sha != "" {
		runs, err = s.catalog.RunsForFile(sha)
	} else {
		runs, err = s.catalog.ListRuns(limit)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("list runs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		s.handleArtifacts(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	io.Copy(w, f)
}
