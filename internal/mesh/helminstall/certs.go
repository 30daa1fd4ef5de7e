package helminstall

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// Identity holds the trust anchor and issuer credentials a helm install of
// the control plane requires. The CLI mints these itself; in helm mode the
// harness does.
type Identity struct {
	TrustAnchorsPEM string
	IssuerCrtPEM    string
	IssuerKeyPEM    string
}

// GenerateIdentity mints an ephemeral root CA and an issuer certificate
// signed by it, both scoped to the control plane's identity DNS name and
// valid only long enough for a test run.
func GenerateIdentity(namespace, clusterDomain string) (*Identity, error) {
	if clusterDomain == "" {
		clusterDomain = "cluster.local"
	}
	cn := fmt.Sprintf("identity.%s.%s", namespace, clusterDomain)

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating root key: %w", err)
	}

	notBefore := time.Now().Add(-time.Minute)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		MaxPathLen:            1,
	}

	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("creating root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating issuer key: %w", err)
	}

	issuerTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		MaxPathLenZero:        true,
	}

	issuerDER, err := x509.CreateCertificate(rand.Reader, issuerTmpl, rootCert, &issuerKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("creating issuer certificate: %w", err)
	}

	issuerKeyDER, err := x509.MarshalECPrivateKey(issuerKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling issuer key: %w", err)
	}

	return &Identity{
		TrustAnchorsPEM: encodePEM("CERTIFICATE", rootDER),
		IssuerCrtPEM:    encodePEM("CERTIFICATE", issuerDER),
		IssuerKeyPEM:    encodePEM("EC PRIVATE KEY", issuerKeyDER),
	}, nil
}

func encodePEM(blockType string, der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}))
}
