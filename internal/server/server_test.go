package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/xtfgate/internal/manifest"
	"example.com/xtfgate/internal/rules"
	"example.com/xtfgate/internal/xtf"
)

func writeSurveyFile(t *testing.T, frames ...[]byte) string {
	t.Helper()
	h := xtf.NewFileHeader()
	copy(h.SonarName[:], "klein3000")
	h.SonarType = 31
	h.NumberOfSonarChannels = 1
	h.ChanInfo[0].TypeOfChannel = xtf.ChannelPort
	h.ChanInfo[0].BytesPerSample = 2
	h.ChanInfo[0].Reserved = 2
	buf := xtf.EncodeFileHeader(h)
	for _, f := range frames {
		buf = append(buf, f...)
	}
	path := filepath.Join(t.TempDir(), "line_0042.xtf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func pingFrame(t *testing.T, hour, minute, second uint8) []byte {
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
		Year: 2021, Month: 6, Day: 1, Hour: hour, Minute: minute, Second: second,
	}
	frame := xtf.EncodePingHeader(hdr)
	frame = append(frame, xtf.EncodePingChanHeader(xtf.PingChanHeader{NumSamples: nSamples})...)
	frame = append(frame, make([]byte, nSamples*2)...)
	return frame
}

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.StorageDir == "" {
		opts.StorageDir = t.TempDir()
	}
	s, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(NewRouter(s))
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode body: %v\n%s", err, string(data))
	}
}

type validateResponse struct {
	RunId       string                 `json:"runId"`
	Acceptance  rules.AcceptanceReport `json:"acceptance"`
	Diagnostics int                    `json:"diagnostics"`
	Artifacts   []ArtifactRef          `json:"artifacts"`
}

func TestHandleValidateCleanFile(t *testing.T) {
	input := writeSurveyFile(t,
		pingFrame(t, 10, 0, 0),
		pingFrame(t, 10, 0, 1),
	)
	_, ts := newTestServer(t, Options{})

	resp := postJSON(t, ts.URL+"/validate", map[string]any{
		"inputs":  []string{input},
		"profile": "survey-acceptance",
	})
	var out validateResponse
	decodeBody(t, resp, &out)

	if !out.Acceptance.Summary.Pass {
		t.Fatalf("expected pass, got %+v", out.Acceptance.Summary)
	}
	if out.Diagnostics == 0 {
		t.Fatal("no diagnostics returned")
	}
	if len(out.Artifacts) != 3 {
		t.Fatalf("artifacts = %d, want 3", len(out.Artifacts))
	}
	for _, art := range out.Artifacts {
		body := downloadArtifact(t, ts.URL, art.ID)
		if len(body) == 0 {
			t.Fatalf("artifact %s is empty", art.Name)
		}
		if strings.HasSuffix(art.Name, ".pdf") && !bytes.HasPrefix(body, []byte("%PDF-")) {
			t.Fatalf("artifact %s is not a PDF", art.Name)
		}
	}
}

func TestHandleValidateStreaming(t *testing.T) {
	input := writeSurveyFile(t, pingFrame(t, 10, 0, 0))
	_, ts := newTestServer(t, Options{})

	resp := postJSON(t, ts.URL+"/validate?stream=true", map[string]any{
		"inputs":  []string{input},
		"profile": "survey-acceptance",
	})
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected diagnostics plus summary, got %d lines", len(lines))
	}
	var last struct {
		Type       string                 `json:"type"`
		Acceptance rules.AcceptanceReport `json:"acceptance"`
		Artifacts  []ArtifactRef          `json:"artifacts"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("decode summary line: %v", err)
	}
	if last.Type != "acceptance" {
		t.Fatalf("summary type = %q", last.Type)
	}
	if len(last.Artifacts) != 3 {
		t.Fatalf("summary artifacts = %d", len(last.Artifacts))
	}
	var first struct {
		RuleId string `json:"ruleId"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode first diagnostic: %v", err)
	}
	if first.RuleId == "" {
		t.Fatal("first stream line has no ruleId")
	}
}

func TestHandleValidateBadRequests(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	cases := []map[string]any{
		{"profile": "survey-acceptance"},
		{"inputs": []string{"x.xtf"}},
		{"inputs": []string{"x.xtf"}, "profile": "no-such-profile"},
	}
	for i, payload := range cases {
		resp := postJSON(t, ts.URL+"/validate", payload)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("case %d: status %d, want 400", i, resp.StatusCode)
		}
	}
}

func TestUploadThenValidate(t *testing.T) {
	input := writeSurveyFile(t, pingFrame(t, 10, 0, 0))
	_, ts := newTestServer(t, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(input))
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	data, err := os.ReadFile(input)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	var uploaded struct {
		Files []ArtifactRef `json:"files"`
	}
	decodeBody(t, resp, &uploaded)
	if len(uploaded.Files) != 1 {
		t.Fatalf("uploaded files = %d", len(uploaded.Files))
	}
	if uploaded.Files[0].Kind != "survey" {
		t.Fatalf("upload kind = %q, want survey", uploaded.Files[0].Kind)
	}

	resp = postJSON(t, ts.URL+"/validate", map[string]any{
		"inputs":  []string{uploaded.Files[0].ID},
		"profile": "survey-acceptance",
	})
	var out validateResponse
	decodeBody(t, resp, &out)
	if !out.Acceptance.Summary.Pass {
		t.Fatalf("expected pass via upload id, got %+v", out.Acceptance.Summary)
	}
}

func TestUploadRejectsHeaderlessSurvey(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "stub.xtf")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(make([]byte, 100)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleInspect(t *testing.T) {
	input := writeSurveyFile(t, pingFrame(t, 10, 0, 0), pingFrame(t, 10, 0, 1))
	_, ts := newTestServer(t, Options{})

	resp := postJSON(t, ts.URL+"/inspect", map[string]any{"input": input})
	var out struct {
		Survey struct {
			SonarName string `json:"sonarName"`
			Channels  []struct {
				Type string `json:"type"`
			} `json:"channels"`
		} `json:"survey"`
		SonarTypeName string `json:"sonarTypeName"`
		RecordCount   int    `json:"recordCount"`
		CorruptCount  int    `json:"corruptCount"`
	}
	decodeBody(t, resp, &out)
	if out.RecordCount != 2 || out.CorruptCount != 0 {
		t.Fatalf("counts = %+v", out)
	}
	if out.SonarTypeName != "Klein 3000" {
		t.Fatalf("SonarTypeName = %q", out.SonarTypeName)
	}
	if len(out.Survey.Channels) != 1 || out.Survey.Channels[0].Type != "port" {
		t.Fatalf("channels = %+v", out.Survey.Channels)
	}
}

func TestHandleManifestSignAndVerify(t *testing.T) {
	input := writeSurveyFile(t, pingFrame(t, 10, 0, 0))
	keyPath, certPath, pool := writeTestSigner(t)
	_, ts := newTestServer(t, Options{
		ManifestSigning: ManifestSigningOptions{
			PrivateKeyPath:  keyPath,
			CertificatePath: certPath,
		},
	})

	resp := postJSON(t, ts.URL+"/manifest", map[string]any{
		"inputs": []string{input},
		"sign":   true,
	})
	var out struct {
		Manifest  manifest.Manifest `json:"manifest"`
		Artifacts []ArtifactRef     `json:"artifacts"`
	}
	decodeBody(t, resp, &out)

	if out.Manifest.Signature == nil {
		t.Fatal("manifest not signed")
	}
	if len(out.Manifest.Items) != 1 || out.Manifest.Items[0].Type != "xtf" {
		t.Fatalf("items = %+v", out.Manifest.Items)
	}
	var sigRef *ArtifactRef
	for i := range out.Artifacts {
		if out.Artifacts[i].Kind == "signature" {
			sigRef = &out.Artifacts[i]
		}
	}
	if sigRef == nil {
		t.Fatalf("no signature artifact in %+v", out.Artifacts)
	}

	tmp := t.TempDir()
	sigPath := filepath.Join(tmp, "manifest.jws")
	if err := os.WriteFile(sigPath, downloadArtifact(t, ts.URL, sigRef.ID), 0o644); err != nil {
		t.Fatalf("write signature: %v", err)
	}
	jws, err := manifest.LoadJWS(sigPath)
	if err != nil {
		t.Fatalf("LoadJWS: %v", err)
	}
	if _, err := manifest.Verify(out.Manifest, jws, pool); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestHandleManifestSignUnconfigured(t *testing.T) {
	input := writeSurveyFile(t, pingFrame(t, 10, 0, 0))
	_, ts := newTestServer(t, Options{})

	resp := postJSON(t, ts.URL+"/manifest", map[string]any{
		"inputs": []string{input},
		"sign":   true,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestHandleProfiles(t *testing.T) {
	packPath := writeRulePackFile(t)
	_, ts := newTestServer(t, Options{
		ProfilePacks: []ProfilePack{{ID: "site-strict", Rules: packPath}},
	})

	resp, err := http.Get(ts.URL + "/profiles")
	if err != nil {
		t.Fatalf("GET /profiles: %v", err)
	}
	var profiles []string
	decodeBody(t, resp, &profiles)
	want := []string{"site-strict", "survey-acceptance", "survey-quicklook"}
	if len(profiles) != len(want) {
		t.Fatalf("profiles = %v, want %v", profiles, want)
	}
	for i := range want {
		if profiles[i] != want[i] {
			t.Fatalf("profiles = %v, want %v", profiles, want)
		}
	}
}

func TestRunsRecordedInCatalog(t *testing.T) {
	input := writeSurveyFile(t, pingFrame(t, 10, 0, 0))
	_, ts := newTestServer(t, Options{
		CatalogPath: filepath.Join(t.TempDir(), "catalog.db"),
	})

	resp := postJSON(t, ts.URL+"/validate", map[string]any{
		"inputs":  []string{input},
		"profile": "survey-acceptance",
	})
	var out validateResponse
	decodeBody(t, resp, &out)
	if out.RunId == "" {
		t.Fatal("no run id returned")
	}

	listResp, err := http.Get(ts.URL + "/runs")
	if err != nil {
		t.Fatalf("GET /runs: %v", err)
	}
	var runs []struct {
		RunId       string `json:"RunId"`
		InputFile   string `json:"InputFile"`
		RecordCount int    `json:"RecordCount"`
		Pass        bool   `json:"Pass"`
	}
	decodeBody(t, listResp, &runs)
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].RunId != out.RunId || !runs[0].Pass || runs[0].RecordCount != 1 {
		t.Fatalf("run = %+v", runs[0])
	}
}

func downloadArtifact(t *testing.T, baseURL, id string) []byte {
	t.Helper()
	resp, err := http.Get(baseURL + "/artifacts/" + id)
	if err != nil {
		t.Fatalf("GET artifact %s: %v", id, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("artifact %s status %d: %s", id, resp.StatusCode, string(data))
	}
	return data
}

func writeRulePackFile(t *testing.T) string {
	t.Helper()
	rp := rules.DefaultRulePack("site-strict")
	data, err := json.Marshal(rp)
	if err != nil {
		t.Fatalf("marshal rule pack: %v", err)
	}
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write rule pack: %v", err)
	}
	return path
}

func writeTestSigner(t *testing.T) (string, string, *x509.CertPool) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(3),
		Subject:               pkix.Name{CommonName: "gateway manifest signer"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "signer.key")
	certPath := filepath.Join(dir, "signer.crt")
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	return keyPath, certPath, pool
}
