package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// tlsMinVersion is the minimum TLS version for secure connections.
const tlsMinVersion = tls.VersionTLS12

// buildTLSConfig returns the TLS settings for the broker connection, or nil
// when TLS is disabled.
//
// With trusted certificates configured, the peer chain must verify against
// them, but the broker hostname is not checked: soak deployments reach the
// broker through cluster service names that are not in its certificate.
// Without trusted certificates the system roots are used with normal
// hostname verification.
func buildTLSConfig(enabled bool, trustedCertsPath string) (*tls.Config, error) {
	if !enabled {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tlsMinVersion}
	if trustedCertsPath == "" {
		return cfg, nil
	}

	pemData, err := os.ReadFile(trustedCertsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrustMaterial, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrTrustMaterial, trustedCertsPath)
	}

	cfg.RootCAs = pool
	// Chain verification is done below without the hostname check.
	cfg.InsecureSkipVerify = true //nolint:gosec // chain is still verified against RootCAs
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		return verifyChain(pool, rawCerts)
	}
	return cfg, nil
}

// verifyChain verifies the presented chain against roots, ignoring the hostname.
func verifyChain(roots *x509.CertPool, rawCerts [][]byte) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("%w: broker presented no certificate", ErrTrustMaterial)
	}

	certs := make([]*x509.Certificate, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTrustMaterial, err)
		}
		certs[i] = cert
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}

	if _, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
	}); err != nil {
		return fmt.Errorf("verifying broker certificate: %w", err)
	}
	return nil
}
