package rules

import (
	"archive/zip"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/xtfgate/internal/crypto"
)

func testRulePack(id, version string) RulePack {
	return RulePack{
		RulePackId: id,
		Version:    version,
		Profile:    "survey-qc",
		Rules: []Rule{
			{
				RuleId:    "XTF-HDR-001",
				Scope:     "header",
				Severity:  ERROR,
				CheckFunc: "CheckHeaderSanity",
				Refs:      []string{"XTF rev44"},
				Message:   "file header must be sane",
			},
			{
				RuleId:    "XTF-TIME-001",
				Scope:     "time",
				Severity:  WARN,
				CheckFunc: "CheckTimeMonotonic",
				Refs:      []string{"XTF rev44"},
				Message:   "ping times must not run backwards",
			},
		},
	}
}

// writePackage assembles a .rpkg.zip holding rulepack.json and, when sig is
// non-nil, signature.jws.
func writePackage(t *testing.T, rp RulePack, sig []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), rp.RulePackId+".rpkg.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("rulepack.json")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if err := json.NewEncoder(w).Encode(rp); err != nil {
		t.Fatalf("encode rulepack: %v", err)
	}
	if sig != nil {
		w, err := zw.Create("signature.jws")
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write(sig); err != nil {
			t.Fatalf("write signature: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

// writeSignedPackage signs the canonical rulepack.json bytes with a fresh
// self-signed certificate and installs that certificate into the repository
// truststore.
func writeSignedPackage(t *testing.T, repoRoot string, rp RulePack) (string, string) {
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
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "rule pack signer"},
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
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	certPath := filepath.Join(repoRoot, repoTruststoreDir, "signer.pem")
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		t.Fatalf("write truststore cert: %v", err)
	}

	// The signature covers the exact bytes stored in the archive, so the
	// payload and the zip entry must be encoded identically.
	var payload strings.Builder
	if err := json.NewEncoder(&payload).Encode(rp); err != nil {
		t.Fatalf("encode rulepack: %v", err)
	}
	jws, err := crypto.SignDetachedJWSWithX5C([]byte(payload.String()), keyPEM, certPEM)
	if err != nil {
		t.Fatalf("SignDetachedJWSWithX5C: %v", err)
	}
	sig, err := json.Marshal(jws)
	if err != nil {
		t.Fatalf("marshal jws: %v", err)
	}
	return writePackage(t, rp, sig), tmpl.Subject.String()
}

func TestRepositoryInstallLoadSigned(t *testing.T) {
	repo, err := OpenRepository(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	pkg, subject := writeSignedPackage(t, repo.Root(), testRulePack("klein-qc", "1.2.0"))

	installed, err := repo.InstallPackage(pkg, false)
	if err != nil {
		t.Fatalf("InstallPackage: %v", err)
	}
	if !installed.Signed || installed.Signer != subject {
		t.Fatalf("installed = signed %v signer %q, want signer %q", installed.Signed, installed.Signer, subject)
	}

	rp, source, err := repo.Load("klein-qc", "1.2.0", false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rp.Rules) != 2 {
		t.Fatalf("loaded %d rules, want 2", len(rp.Rules))
	}
	if !source.FromRepository || source.Unsigned || source.Signer != subject {
		t.Fatalf("source = %+v", source)
	}

	signer, err := repo.Verify("klein-qc", "1.2.0")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if signer != subject {
		t.Fatalf("Verify signer = %q, want %q", signer, subject)
	}

	entries, err := repo.ListInstalled()
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(entries) != 1 || entries[0].Signer != subject {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestRepositoryInstallUnsigned(t *testing.T) {
	repo, err := OpenRepository(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	pkg := writePackage(t, testRulePack("edgetech-qc", "0.9"), nil)

	if _, err := repo.InstallPackage(pkg, false); err == nil {
		t.Fatal("unsigned package installed without allow-unsigned")
	}
	installed, err := repo.InstallPackage(pkg, true)
	if err != nil {
		t.Fatalf("InstallPackage allow-unsigned: %v", err)
	}
	if installed.Signed || installed.Signer != "" {
		t.Fatalf("installed = %+v", installed)
	}

	if _, _, err := repo.Load("edgetech-qc", "0.9", false); err == nil {
		t.Fatal("unsigned pack loaded without allow-unsigned")
	}
	_, source, err := repo.Load("edgetech-qc", "0.9", true)
	if err != nil {
		t.Fatalf("Load allow-unsigned: %v", err)
	}
	if !source.Unsigned {
		t.Fatal("source not flagged unsigned")
	}
}

func TestRepositoryInstallRejectsBrokenRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RulePack)
		want   string
	}{
		{
			name:   "unknown scope",
			mutate: func(rp *RulePack) { rp.Rules[0].Scope = "packet" },
			want:   "unknown scope",
		},
		{
			name:   "unknown check function",
			mutate: func(rp *RulePack) { rp.Rules[0].CheckFunc = "CheckChecksum" },
			want:   "unknown check function",
		},
		{
			name:   "duplicate rule id",
			mutate: func(rp *RulePack) { rp.Rules[1].RuleId = rp.Rules[0].RuleId },
			want:   "duplicate ruleId",
		},
		{
			name:   "missing rule id",
			mutate: func(rp *RulePack) { rp.Rules[0].RuleId = "" },
			want:   "no ruleId",
		},
		{
			name:   "unknown severity",
			mutate: func(rp *RulePack) { rp.Rules[0].Severity = "FATAL" },
			want:   "unknown severity",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := OpenRepository(t.TempDir())
			if err != nil {
				t.Fatalf("OpenRepository: %v", err)
			}
			rp := testRulePack("broken", "1.0")
			tc.mutate(&rp)
			_, err = repo.InstallPackage(writePackage(t, rp, nil), true)
			if err == nil {
				t.Fatal("broken rule pack installed")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestRepositoryDefaultForProfile(t *testing.T) {
	repo, err := OpenRepository(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	pkg := writePackage(t, testRulePack("klein-qc", "1.0"), nil)
	if _, err := repo.InstallPackage(pkg, true); err != nil {
		t.Fatalf("InstallPackage: %v", err)
	}

	if _, ok, err := repo.DefaultForProfile("survey-qc"); err != nil || ok {
		t.Fatalf("fresh repository default = ok %v err %v", ok, err)
	}
	ref := RulePackRef{RulePackId: "klein-qc", Version: "1.0"}
	if err := repo.SetDefaultForProfile("survey-qc", ref); err != nil {
		t.Fatalf("SetDefaultForProfile: %v", err)
	}
	got, ok, err := repo.DefaultForProfile("survey-qc")
	if err != nil || !ok {
		t.Fatalf("DefaultForProfile = ok %v err %v", ok, err)
	}
	if got != ref {
		t.Fatalf("default = %+v, want %+v", got, ref)
	}

	// Removing the pack clears any default that pointed at it.
	if err := repo.Remove("klein-qc", "1.0"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := repo.DefaultForProfile("survey-qc"); ok {
		t.Fatal("default survived removal of its pack")
	}
	if _, err := os.Stat(filepath.Join(repo.Root(), repoRulepacksDir, "klein-qc", "1.0")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pack directory still present (stat err %v)", err)
	}
}

func TestRepositoryLatestVersion(t *testing.T) {
	repo, err := OpenRepository(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	for _, v := range []string{"1.0", "1.10", "1.2"} {
		pkg := writePackage(t, testRulePack("klein-qc", v), nil)
		if _, err := repo.InstallPackage(pkg, true); err != nil {
			t.Fatalf("InstallPackage %s: %v", v, err)
		}
	}
	latest, err := repo.latestVersionFor("klein-qc")
	if err != nil {
		t.Fatalf("latestVersionFor: %v", err)
	}
	if latest != "1.10" {
		t.Fatalf("latest = %q, want 1.10", latest)
	}
}
