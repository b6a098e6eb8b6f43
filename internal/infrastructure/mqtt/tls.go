package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

const tlsMinVersion = tls.VersionTLS12

// CertificateFiles locates a thing's PEM material on disk.
type CertificateFiles struct {
	CA   string
	Cert string
	Key  string

	// KeyPassphrase decrypts a legacy encrypted PEM key. Stored keys are
	// encrypted with the thing's cloud id. Ignored for plain keys.
	KeyPassphrase string
}

// LoadClientTLS builds a TLS config that trusts files.CA and presents
// the client certificate in files.Cert and files.Key.
func LoadClientTLS(files CertificateFiles) (*tls.Config, error) {
	caPEM, err := readCertFile(files.CA)
	if err != nil {
		return nil, err
	}
	certPEM, err := readCertFile(files.Cert)
	if err != nil {
		return nil, err
	}
	keyPEM, err := readCertFile(files.Key)
	if err != nil {
		return nil, err
	}

	keyPEM, err = decryptKey(keyPEM, files.KeyPassphrase)
	if err != nil {
		return nil, err
	}

	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("%w: no CA certificate in %s", ErrInvalidCertificate, files.CA)
	}

	return &tls.Config{
		MinVersion:   tlsMinVersion,
		RootCAs:      pool,
		Certificates: []tls.Certificate{pair},
	}, nil
}

func readCertFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrCertificateNotFound)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCertificateNotFound, path, err)
	}
	return data, nil
}

func decryptKey(keyPEM []byte, passphrase string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in key", ErrInvalidCertificate)
	}
	//nolint:staticcheck // Legacy PEM encryption is the at-rest format.
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	//nolint:staticcheck // Legacy PEM encryption is the at-rest format.
	der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting key: %w", ErrInvalidCertificate, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}
