package mock

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// CertSetup holds PEM material for a test CA and a loopback server cert signed by
// it. Tests write the PEMs to files and reference them from a registry 'tls'
// config section.
type CertSetup struct {
	CaPEM     []byte
	ServerPEM []byte
	ServerKey []byte
}

// CaToFile writes the CA cert into 'dir' and returns the full path
func (cs CertSetup) CaToFile(dir, fileName string) string {
	return writePEM(dir, fileName, cs.CaPEM)
}

// ServerCertToFile writes the server cert into 'dir' and returns the full path
func (cs CertSetup) ServerCertToFile(dir, fileName string) string {
	return writePEM(dir, fileName, cs.ServerPEM)
}

// ServerCertPrivKeyToFile writes the server key into 'dir' and returns the full path
func (cs CertSetup) ServerCertPrivKeyToFile(dir, fileName string) string {
	return writePEM(dir, fileName, cs.ServerKey)
}

func writePEM(dir, fileName string, data []byte) string {
	p := filepath.Join(dir, fileName)
	if err := os.WriteFile(p, data, 0644); err != nil {
		panic(err)
	}
	return p
}

// NewCertSetup generates a CA and a server cert for 127.0.0.1 and ::1
func NewCertSetup() (CertSetup, error) {
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return CertSetup{}, err
	}
	ca := template(1, "dx-docker test ca")
	ca.IsCA = true
	ca.KeyUsage |= x509.KeyUsageCertSign
	caDer, err := x509.CreateCertificate(rand.Reader, ca, ca, &caKey.PublicKey, caKey)
	if err != nil {
		return CertSetup{}, err
	}

	srvKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return CertSetup{}, err
	}
	srv := template(2, "registry")
	srv.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	srvDer, err := x509.CreateCertificate(rand.Reader, srv, ca, &srvKey.PublicKey, caKey)
	if err != nil {
		return CertSetup{}, err
	}
	return CertSetup{
		CaPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDer}),
		ServerPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srvDer}),
		ServerKey: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(srvKey)}),
	}, nil
}

func template(serial int64, cn string) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn},
		BasicConstraintsValid: true,
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
}
