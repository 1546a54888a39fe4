package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/spf13/afero"

	"devcat/internal/config"
	"devcat/internal/devcat"
)

// ErrKeysExist is returned by Setup when a key pair is already in place.
var ErrKeysExist = errors.New("encryption keys already exist")

// AgeEncryptor seals catalog snapshots with age. The host key pair lives in
// two files: the X25519 recipient in the clear and the identity sealed with
// a scrypt passphrase. Snapshots are also sealed to any extra recipients so
// a replacement host can restore them with its own key.
type AgeEncryptor struct {
	fs             afero.Fs
	publicKeyPath  string
	privateKeyPath string
	extra          []string
}

var _ devcat.Encryptor = (*AgeEncryptor)(nil)

func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return newAgeEncryptor(afero.NewOsFs(), cfg)
}

func newAgeEncryptor(fsys afero.Fs, cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		fs:             fsys,
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
		extra:          cfg.Recipients,
	}
}

// Setup generates the host key pair. Existing keys are never replaced:
// snapshots sealed to them would become unreadable.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	if e.keyFilePresent() {
		return ErrKeysExist
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	sealed, err := sealIdentity(identity, passphrase)
	if err != nil {
		return err
	}
	if err := e.writeKey(e.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	if err := e.writeKey(e.privateKeyPath, sealed, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

func sealIdentity(identity *age.X25519Identity, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *AgeEncryptor) writeKey(path string, data []byte, perm os.FileMode) error {
	if err := e.fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return afero.WriteFile(e.fs, path, data, perm)
}

// Encrypt seals a snapshot to the host key and every extra recipient.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipients, err := e.recipients()
	if err != nil {
		return err
	}

	sealed, err := age.Encrypt(w, recipients...)
	if err != nil {
		return fmt.Errorf("starting snapshot encryption: %w", err)
	}
	if _, err := io.Copy(sealed, r); err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := sealed.Close(); err != nil {
		return fmt.Errorf("finishing snapshot encryption: %w", err)
	}
	return nil
}

func (e *AgeEncryptor) recipients() ([]age.Recipient, error) {
	pub, err := afero.ReadFile(e.fs, e.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(pub))
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", e.publicKeyPath, err)
	}
	for _, s := range e.extra {
		r, err := age.ParseX25519Recipient(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", s, err)
		}
		recipients = append(recipients, r)
	}
	return recipients, nil
}

// Unlock opens the sealed host identity with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (devcat.DecryptionContext, error) {
	sealed, err := afero.ReadFile(e.fs, e.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(sealed), scrypt)
	if err != nil {
		return nil, fmt.Errorf("unsealing private key: %w", err)
	}

	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &AgeDecryptionContext{identities: identities}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.publicKeyPath, e.privateKeyPath} {
		if _, err := e.fs.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// keyFilePresent is true if either key file exists or cannot be checked.
func (e *AgeEncryptor) keyFilePresent() bool {
	for _, p := range []string{e.publicKeyPath, e.privateKeyPath} {
		if _, err := e.fs.Stat(p); !errors.Is(err, os.ErrNotExist) {
			return true
		}
	}
	return false
}

// AgeDecryptionContext holds unlocked age identities.
type AgeDecryptionContext struct {
	identities []age.Identity
}

var _ devcat.DecryptionContext = (*AgeDecryptionContext)(nil)

func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	plain, err := age.Decrypt(r, c.identities...)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	if _, err := io.Copy(w, plain); err != nil {
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	return nil
}
