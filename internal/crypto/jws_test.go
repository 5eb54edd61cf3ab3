package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

func testKeyPEM(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, pemBytes
}

func selfSignedCert(t *testing.T, key *rsa.PrivateKey) ([]byte, *x509.CertPool) {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "xtfgate test signer"},
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
	return certPEM, pool
}

func TestSignVerifyDetachedJWS(t *testing.T) {
	key, keyPEM := testKeyPEM(t)
	payload := []byte(`{"manifest":"v1"}`)

	jws, err := SignDetachedJWS(payload, keyPEM)
	if err != nil {
		t.Fatalf("SignDetachedJWS: %v", err)
	}
	if err := VerifyDetachedJWS(payload, jws, &key.PublicKey); err != nil {
		t.Fatalf("VerifyDetachedJWS: %v", err)
	}

	if err := VerifyDetachedJWS([]byte("tampered"), jws, &key.PublicKey); err == nil {
		t.Fatal("tampered payload must not verify")
	}

	bad := jws
	bad.Signature = jws.Signature[:len(jws.Signature)-2]
	if err := VerifyDetachedJWS(payload, bad, &key.PublicKey); err == nil {
		t.Fatal("truncated signature must not verify")
	}
}

func TestSignVerifyWithX5C(t *testing.T) {
	key, keyPEM := testKeyPEM(t)
	certPEM, pool := selfSignedCert(t, key)
	payload := []byte(`{"rulePackId":"xtf-acceptance","version":"1.0.0"}`)

	jws, err := SignDetachedJWSWithX5C(payload, keyPEM, certPEM)
	if err != nil {
		t.Fatalf("SignDetachedJWSWithX5C: %v", err)
	}
	cert, err := VerifyDetachedJWSWithX5C(payload, jws, pool)
	if err != nil {
		t.Fatalf("VerifyDetachedJWSWithX5C: %v", err)
	}
	if cert.Subject.CommonName != "xtfgate test signer" {
		t.Fatalf("signer = %q", cert.Subject.CommonName)
	}

	otherKey, _ := testKeyPEM(t)
	_, otherPool := selfSignedCert(t, otherKey)
	if _, err := VerifyDetachedJWSWithX5C(payload, jws, otherPool); err == nil {
		t.Fatal("untrusted chain must not verify")
	}
}

func TestSignWithX5CNoCert(t *testing.T) {
	_, keyPEM := testKeyPEM(t)
	if _, err := SignDetachedJWSWithX5C([]byte("x"), keyPEM, []byte("not pem")); err == nil {
		t.Fatal("expected an error for missing certificate")
	}
}
