package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"devcat/internal/devcat"
)

// testHeader prefixes every snapshot sealed by TestEncryptor.
var testHeader = []byte("DEVCAT-TEST-SEAL\n")

// TestEncryptor marks snapshots as sealed without encrypting them, so
// tests can see what was uploaded. Unlock checks the passphrase given to
// Setup, if any.
type TestEncryptor struct {
	passphrase string
}

var _ devcat.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, io.MultiReader(bytes.NewReader(testHeader), r))
	return err
}

func (e *TestEncryptor) Unlock(passphrase string) (devcat.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, errors.New("wrong passphrase")
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecryptionContext strips the header written by TestEncryptor and
// rejects anything without it.
type TestDecryptionContext struct{}

var _ devcat.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("snapshot too short: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return errors.New("snapshot was not sealed by the test encryptor")
	}
	_, err := io.Copy(w, r)
	return err
}
