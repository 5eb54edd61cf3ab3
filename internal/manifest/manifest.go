// Package manifest builds, signs and verifies deliverable manifests. A
// manifest enumerates the files handed over after a survey validation run
// (the source XTF line, diagnostics, acceptance report) with their sizes and
// SHA-256 digests.
package manifest

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/xtfgate/internal/common"
	"example.com/xtfgate/internal/crypto"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Manifest struct {
	ManifestId string     `json:"manifestId"`
	CreatedAt  time.Time  `json:"createdAt"`
	ShaAlgo    string     `json:"shaAlgo"`
	Items      []Item     `json:"items"`
	Signature  *Signature `json:"signature,omitempty"`
}

type Signature struct {
	Type          string `json:"type"`
	CertSubject   string `json:"certSubject,omitempty"`
	Issuer        string `json:"issuer,omitempty"`
	SignatureFile string `json:"signatureFile,omitempty"`
}

// Build hashes every path and assembles an unsigned manifest.
func Build(paths []string) (Manifest, error) {
	m := Manifest{
		ManifestId: uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		ShaAlgo:    "sha256",
	}
	for _, p := range paths {
		hexDigest, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, fmt.Errorf("hash %s: %w", p, err)
		}
		m.Items = append(m.Items, Item{Path: p, Size: sz, Sha256: hexDigest, Type: itemType(p)})
	}
	return m, nil
}

func itemType(path string) string {
	switch {
	case hasExt(path, ".xtf"):
		return "xtf"
	case hasExt(path, ".ndjson", ".jsonl"):
		return "diagnostics"
	case hasExt(path, ".json"):
		return "json"
	case hasExt(path, ".pdf"):
		return "pdf"
	case hasExt(path, ".jws"):
		return "signature"
	}
	return "other"
}

func hasExt(path string, exts ...string) bool {
	lower := strings.ToLower(path)
	for _, e := range exts {
		if strings.HasSuffix(lower, e) {
			return true
		}
	}
	return false
}

// Save writes the manifest as indented JSON.
func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(out, b, 0o644)
}

// Load reads a manifest previously written by Save.
func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// CanonicalBytes is the signing input: the manifest serialized with the
// signature block stripped, so the signature never covers itself.
func CanonicalBytes(m Manifest) ([]byte, error) {
	m.Signature = nil
	return json.Marshal(m)
}

// Hash returns the hex SHA-256 of the canonical manifest bytes. The printed
// report embeds it as a QR code.
func Hash(m Manifest) (string, error) {
	b, err := CanonicalBytes(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Sign produces a detached JWS over the canonical manifest bytes and fills
// the manifest's signature metadata from the signing certificate.
func Sign(m *Manifest, keyPEM, certPEM []byte, signatureFile string) (crypto.JWS, error) {
	payload, err := CanonicalBytes(*m)
	if err != nil {
		return crypto.JWS{}, err
	}
	jws, err := crypto.SignDetachedJWSWithX5C(payload, keyPEM, certPEM)
	if err != nil {
		return crypto.JWS{}, fmt.Errorf("sign manifest: %w", err)
	}
	sig := &Signature{Type: "jws-rs256", SignatureFile: signatureFile}
	if cert := firstCertificate(certPEM); cert != nil {
		sig.CertSubject = cert.Subject.String()
		sig.Issuer = cert.Issuer.String()
	}
	m.Signature = sig
	return jws, nil
}

// SaveJWS writes a detached signature next to the manifest it covers.
func SaveJWS(jws crypto.JWS, out string) error {
	b, err := json.MarshalIndent(jws, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(out, b, 0o644)
}

// LoadJWS reads a detached signature written by SaveJWS.
func LoadJWS(path string) (crypto.JWS, error) {
	var jws crypto.JWS
	b, err := os.ReadFile(path)
	if err != nil {
		return jws, err
	}
	if err := json.Unmarshal(b, &jws); err != nil {
		return jws, fmt.Errorf("parse signature %s: %w", path, err)
	}
	return jws, nil
}

// Verify checks a detached JWS against the manifest's canonical bytes and a
// trust pool, returning the signing certificate.
func Verify(m Manifest, jws crypto.JWS, roots *x509.CertPool) (*x509.Certificate, error) {
	payload, err := CanonicalBytes(m)
	if err != nil {
		return nil, err
	}
	cert, err := crypto.VerifyDetachedJWSWithX5C(payload, jws, roots)
	if err != nil {
		return nil, fmt.Errorf("verify manifest: %w", err)
	}
	return cert, nil
}

// VerifyItems re-hashes every file the manifest lists and reports the paths
// whose digest or size no longer match.
func VerifyItems(m Manifest) ([]string, error) {
	var bad []string
	for _, item := range m.Items {
		hexDigest, sz, err := common.Sha256OfFile(item.Path)
		if err != nil {
			return bad, fmt.Errorf("hash %s: %w", item.Path, err)
		}
		if hexDigest != item.Sha256 || sz != item.Size {
			bad = append(bad, item.Path)
		}
	}
	return bad, nil
}

func firstCertificate(certPEM []byte) *x509.Certificate {
	certs, err := crypto.ParseCertificatesPEM(certPEM)
	if err != nil || len(certs) == 0 {
		return nil
	}
	return certs[0]
}
