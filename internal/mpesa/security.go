package mpesa

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// SecurityCredential encrypts the initiator password with the gateway's
// X.509 certificate (PEM or DER) using RSA PKCS#1 v1.5 and returns the
// base64 form required by B2C, B2B, balance, status and reversal calls.
func SecurityCredential(initiatorPassword string, certificate []byte) (string, error) {
	der := certificate
	if bytes.Contains(certificate, []byte("BEGIN CERTIFICATE")) {
		block, _ := pem.Decode(certificate)
		if block == nil {
			return "", fmt.Errorf("no PEM block in certificate")
		}
		der = block.Bytes
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return "", fmt.Errorf("parse certificate: %w", err)
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("certificate does not carry an RSA public key")
	}

	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(initiatorPassword))
	if err != nil {
		return "", fmt.Errorf("encrypt initiator password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// SecurityCredentialFromFile reads the certificate from path and encrypts
// the initiator password with it.
func SecurityCredentialFromFile(initiatorPassword, path string) (string, error) {
	cert, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read certificate %s: %w", path, err)
	}
	return SecurityCredential(initiatorPassword, cert)
}
