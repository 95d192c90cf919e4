package ota

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// Verifier checks a signature over a SHA-256 digest.
type Verifier interface {
	Verify(digest, sig []byte) error
}

// RSAVerifier verifies RSASSA-PKCS1-v1_5 signatures with SHA-256.
type RSAVerifier struct {
	Key *rsa.PublicKey
}

func (v *RSAVerifier) Verify(digest, sig []byte) error {
	return rsa.VerifyPKCS1v15(v.Key, crypto.SHA256, digest, sig)
}

// LoadPublicKey reads an RSA public key from path. See ParsePublicKey for
// the accepted formats.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read public key")
	}
	key, err := ParsePublicKey(data)
	return key, errors.Wrapf(err, "public key %s", path)
}

// ParsePublicKey accepts a PEM "PUBLIC KEY" (PKIX) or "RSA PUBLIC KEY"
// (PKCS#1) block, or an OpenSSH authorized_keys line.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		switch block.Type {
		case "RSA PUBLIC KEY":
			return x509.ParsePKCS1PublicKey(block.Bytes)
		case "PUBLIC KEY":
			pub, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return asRSA(pub)
		default:
			return nil, errors.Errorf("unsupported PEM block %q", block.Type)
		}
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, errors.Wrap(err, "not PEM or authorized_keys")
	}
	cpk, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, errors.Errorf("ssh key type %s not supported", pub.Type())
	}
	return asRSA(cpk.CryptoPublicKey())
}

func asRSA(pub crypto.PublicKey) (*rsa.PublicKey, error) {
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Errorf("key is %T, want RSA", pub)
	}
	return key, nil
}

// LoadPrivateKey reads an RSA private key in PKCS#1, PKCS#8 or OpenSSH
// format.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read private key")
	}
	raw, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		return nil, errors.Wrapf(err, "private key %s", path)
	}
	key, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("private key %s is %T, want RSA", path, raw)
	}
	return key, nil
}

// SignDigest signs a SHA-256 digest the way RSAVerifier expects.
func SignDigest(key *rsa.PrivateKey, digest []byte) ([]byte, error) {
	return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest)
}

// SignatureLines splits sig into hex lines of width characters as read by
// the sign command. A trailing empty line is added when the last line is
// full so the reader knows the signature ended.
func SignatureLines(sig []byte, width int) []string {
	text := hex.EncodeToString(sig)
	var lines []string
	for len(text) >= width {
		lines = append(lines, text[:width])
		text = text[width:]
	}
	return append(lines, text)
}
