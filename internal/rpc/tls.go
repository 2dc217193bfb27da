package rpc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// GetCertFingerprint returns the sha256 fingerprint of a DER encoded certificate.
func GetCertFingerprint(cert []byte) string {
	certHash := sha256.Sum256(cert)
	return hex.EncodeToString(certHash[:])
}

// GenCertificate loads the certificate kept in <dir>/tls or generates a new one
// if it is missing or invalid. The fingerprint file is rewritten when missing.
func GenCertificate(dir string) (tls.Certificate, string /* fingerprint */, error) {
	dir = filepath.Join(dir, "tls")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return tls.Certificate{}, "", err
	}

	var (
		certFile        = filepath.Join(dir, "cert.pem")
		keyFile         = filepath.Join(dir, "cert-private-key.pem")
		fingerprintFile = filepath.Join(dir, "cert-fingerprint.txt")
	)

	cert, err := loadCertificate(certFile, keyFile)
	if err != nil {
		certPem, keyPem, err := genCert()
		if err != nil {
			return tls.Certificate{}, "", fmt.Errorf("generating certificate: %w", err)
		}
		if err := os.WriteFile(certFile, certPem, 0644); err != nil {
			return tls.Certificate{}, "", fmt.Errorf("writing cert: %w", err)
		}
		if err := os.WriteFile(keyFile, keyPem, 0600); err != nil {
			return tls.Certificate{}, "", fmt.Errorf("writing key: %w", err)
		}

		if cert, err = loadCertificate(certFile, keyFile); err != nil {
			return tls.Certificate{}, "", err
		}
	} else if fingerprint, err := os.ReadFile(fingerprintFile); err == nil {
		return cert, string(fingerprint), nil
	}

	fingerprint := GetCertFingerprint(cert.Leaf.Raw)
	if err := os.WriteFile(fingerprintFile, []byte(fingerprint), 0644); err != nil {
		return cert, "", fmt.Errorf("writing fingerprint: %w", err)
	}
	return cert, fingerprint, nil
}

func loadCertificate(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return cert, err
	}
	cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0])
	return cert, err
}

func genCert() ([]byte, []byte, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "hostsections"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour * 24 * 3650),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, err
	}

	keyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, err
	}

	certPem := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPem := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	return certPem, keyPem, nil
}
