package security

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"
)

// TruncateCertificate reduces a PEM bundle to its CERTIFICATE blocks,
// dropping surrounding text, private keys and other block types. The
// output is canonical: running it twice yields the same bytes.
func TruncateCertificate(certPEM string) (string, error) {
	var out []byte
	rest := []byte(certPEM)
	found := false

	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		found = true
		out = append(out, pem.EncodeToMemory(&pem.Block{
			Type:  "CERTIFICATE",
			Bytes: block.Bytes,
		})...)
	}

	if !found {
		return "", fmt.Errorf("no certificate found in PEM data")
	}
	return string(out), nil
}

// ClientTLSConfig builds the mutual-TLS client configuration used to
// reach a scanner: our certificate and key, the scanner's CA as the
// only root.
func ClientTLSConfig(caCert, certificate string, key []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair([]byte(certificate), key)
	if err != nil {
		return nil, fmt.Errorf("failed to load client keypair: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(caCert)) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ParseCertificate parses the first CERTIFICATE block of a PEM bundle.
func ParseCertificate(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// CertExpired reports whether the certificate is outside its validity
// window at the given time.
func CertExpired(cert *x509.Certificate, now time.Time) bool {
	if cert == nil {
		return true
	}
	return now.Before(cert.NotBefore) || now.After(cert.NotAfter)
}

// CertInfo returns human-readable information about a certificate.
func CertInfo(cert *x509.Certificate) map[string]string {
	if cert == nil {
		return map[string]string{"error": "certificate is nil"}
	}

	return map[string]string{
		"subject":       cert.Subject.CommonName,
		"issuer":        cert.Issuer.CommonName,
		"serial_number": cert.SerialNumber.String(),
		"not_before":    cert.NotBefore.Format(time.RFC3339),
		"not_after":     cert.NotAfter.Format(time.RFC3339),
	}
}
