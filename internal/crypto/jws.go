// Package crypto implements the detached RS256 JWS envelope used to sign
// rule packs and deliverable manifests.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
)

type JWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

type jwsHeader struct {
	Alg string   `json:"alg"`
	Typ string   `json:"typ,omitempty"`
	X5C []string `json:"x5c,omitempty"`
}

func SignDetachedJWS(payload []byte, privateKeyPEM []byte) (JWS, error) {
	return signDetached(payload, privateKeyPEM, nil)
}

// SignDetachedJWSWithX5C signs payload and embeds the signer's certificate
// chain so verifiers can authenticate against a trust store.
func SignDetachedJWSWithX5C(payload []byte, privateKeyPEM []byte, certPEM []byte) (JWS, error) {
	var chain []string
	rest := certPEM
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		chain = append(chain, base64.StdEncoding.EncodeToString(block.Bytes))
	}
	if len(chain) == 0 {
		return JWS{}, errors.New("no certificate in pem input")
	}
	return signDetached(payload, privateKeyPEM, chain)
}

// ParseCertificatesPEM decodes every CERTIFICATE block in pemBytes.
func ParseCertificatesPEM(pemBytes []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := pemBytes
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificate in pem input")
	}
	return certs, nil
}

func signDetached(payload []byte, privateKeyPEM []byte, x5c []string) (JWS, error) {
	hdr := jwsHeader{Alg: "RS256", Typ: "JWT", X5C: x5c}
	hb, err := json.Marshal(hdr)
	if err != nil {
		return JWS{}, err
	}
	protected := base64.RawURLEncoding.EncodeToString(hb)
	pl := base64.RawURLEncoding.EncodeToString(payload)

	priv, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return JWS{}, err
	}

	signingInput := protected + "." + pl
	h := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, h[:])
	if err != nil {
		return JWS{}, err
	}

	return JWS{
		Protected: protected,
		Payload:   pl,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}, nil
}

// VerifyDetachedJWS checks the signature over payload with a known public key.
func VerifyDetachedJWS(payload []byte, jws JWS, pub *rsa.PublicKey) error {
	if pub == nil {
		return errors.New("nil public key")
	}
	if _, err := checkEnvelope(payload, jws); err != nil {
		return err
	}
	return verifySignature(payload, jws, pub)
}

// VerifyDetachedJWSWithX5C authenticates the embedded certificate chain
// against pool and checks the signature with the leaf's public key. The leaf
// certificate is returned so callers can record the signer identity.
func VerifyDetachedJWSWithX5C(payload []byte, jws JWS, pool *x509.CertPool) (*x509.Certificate, error) {
	hdr, err := checkEnvelope(payload, jws)
	if err != nil {
		return nil, err
	}
	if len(hdr.X5C) == 0 {
		return nil, errors.New("signature carries no certificate chain")
	}
	certs := make([]*x509.Certificate, 0, len(hdr.X5C))
	for i, enc := range hdr.X5C {
		der, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decode x5c[%d]: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse x5c[%d]: %w", i, err)
		}
		certs = append(certs, cert)
	}
	leaf := certs[0]

	inter := x509.NewCertPool()
	for _, c := range certs[1:] {
		inter.AddCert(c)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{Roots: pool, Intermediates: inter}); err != nil {
		return nil, fmt.Errorf("verify certificate chain: %w", err)
	}
	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("leaf certificate key is not RSA")
	}
	if err := verifySignature(payload, jws, pub); err != nil {
		return nil, err
	}
	return leaf, nil
}

func checkEnvelope(payload []byte, jws JWS) (jwsHeader, error) {
	var hdr jwsHeader
	hb, err := base64.RawURLEncoding.DecodeString(jws.Protected)
	if err != nil {
		return hdr, fmt.Errorf("decode protected header: %w", err)
	}
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return hdr, fmt.Errorf("parse protected header: %w", err)
	}
	if hdr.Alg != "RS256" {
		return hdr, fmt.Errorf("unsupported algorithm %q", hdr.Alg)
	}
	// The payload travels alongside the signature; it must match the bytes
	// being verified.
	if jws.Payload != base64.RawURLEncoding.EncodeToString(payload) {
		return hdr, errors.New("payload does not match signature envelope")
	}
	return hdr, nil
}

func verifySignature(payload []byte, jws JWS, pub *rsa.PublicKey) error {
	sig, err := base64.RawURLEncoding.DecodeString(jws.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	signingInput := jws.Protected + "." + jws.Payload
	h := sha256.Sum256([]byte(signingInput))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
		return errors.New("signature verification failed")
	}
	return nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return rsaKey, nil
}
