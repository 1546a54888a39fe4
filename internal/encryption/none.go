package encryption

import (
	"io"

	"devcat/internal/devcat"
)

// NoneEncryptor stores snapshots in the clear, for vaults the user already
// trusts.
type NoneEncryptor struct{}

var _ devcat.Encryptor = NoneEncryptor{}

func (NoneEncryptor) Setup(string) error { return nil }

func (NoneEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (NoneEncryptor) Unlock(string) (devcat.DecryptionContext, error) {
	return passthrough{}, nil
}

func (NoneEncryptor) IsConfigured() bool { return true }

type passthrough struct{}

func (passthrough) Decrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}
