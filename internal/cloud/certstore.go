package cloud

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nerrad567/geeny-gateway/internal/device"
)

const (
	certFileMode = 0o600
	certDirMode  = 0o700
)

// CertificateRecorder persists certificate locations per peripheral.
// *device.Registry implements it.
type CertificateRecorder interface {
	SetCertificates(ctx context.Context, peripheralID string, paths device.CertificatePaths) error
	Certificates(peripheralID string) (device.CertificatePaths, bool)
}

// CertificateStore writes issued certificates to disk under randomly named
// files and records their paths.
type CertificateStore struct {
	dir      string
	recorder CertificateRecorder
}

// NewCertificateStore creates a store writing under dir.
func NewCertificateStore(dir string, recorder CertificateRecorder) *CertificateStore {
	return &CertificateStore{dir: dir, recorder: recorder}
}

// Store writes the bundle for a peripheral. The private key is written
// encrypted with passphrase, which is the thing's cloud id.
func (s *CertificateStore) Store(ctx context.Context, peripheralID, passphrase string, b Bundle) (device.CertificatePaths, error) {
	key, err := encryptKey([]byte(b.Key), passphrase)
	if err != nil {
		return device.CertificatePaths{}, fmt.Errorf("%w: %w", ErrCannotAddCertificate, err)
	}

	if err := os.MkdirAll(s.dir, certDirMode); err != nil {
		return device.CertificatePaths{}, fmt.Errorf("%w: creating %s: %w", ErrCannotAddCertificate, s.dir, err)
	}

	var paths device.CertificatePaths
	files := []struct {
		dst  *string
		data []byte
	}{
		{&paths.CA, []byte(b.CA)},
		{&paths.Cert, []byte(b.Cert)},
		{&paths.Key, key},
	}
	for _, f := range files {
		path := filepath.Join(s.dir, uuid.NewString())
		if err := os.WriteFile(path, f.data, certFileMode); err != nil {
			s.remove(paths)
			return device.CertificatePaths{}, fmt.Errorf("%w: %w", ErrCannotAddCertificate, err)
		}
		*f.dst = path
	}

	if err := s.recorder.SetCertificates(ctx, peripheralID, paths); err != nil {
		s.remove(paths)
		return device.CertificatePaths{}, fmt.Errorf("%w: recording paths: %w", ErrCannotAddCertificate, err)
	}
	return paths, nil
}

// Paths returns the certificate locations recorded for a peripheral.
func (s *CertificateStore) Paths(peripheralID string) (device.CertificatePaths, bool) {
	return s.recorder.Certificates(peripheralID)
}

// Remove deletes the certificate files of a peripheral, if any.
func (s *CertificateStore) Remove(peripheralID string) {
	if paths, ok := s.recorder.Certificates(peripheralID); ok {
		s.remove(paths)
	}
}

func (s *CertificateStore) remove(paths device.CertificatePaths) {
	for _, p := range []string{paths.CA, paths.Cert, paths.Key} {
		if p != "" {
			_ = os.Remove(p) //nolint:errcheck // best effort cleanup
		}
	}
}

// encryptKey re-encodes a PEM private key with legacy PEM encryption.
// Keys that are already encrypted are kept as issued.
func encryptKey(keyPEM []byte, passphrase string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key")
	}
	//nolint:staticcheck // Legacy PEM encryption is the at-rest format.
	if x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	if passphrase == "" {
		return nil, fmt.Errorf("empty key passphrase")
	}
	//nolint:staticcheck // Legacy PEM encryption is the at-rest format.
	enc, err := x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, []byte(passphrase), x509.PEMCipherAES256)
	if err != nil {
		return nil, fmt.Errorf("encrypting key: %w", err)
	}
	return pem.EncodeToMemory(enc), nil
}
