package devcat

import (
	"context"
	"io"
	"iter"
)

// Mounter wraps the system mount primitive.
type Mounter interface {
	// Mount mounts devnode at target, creating target if needed.
	Mount(ctx context.Context, devnode, target string) error

	// Unmount unmounts whatever is mounted at target.
	Unmount(ctx context.Context, target string) error

	// LiveMounts returns the current devnode -> mount path table as reported
	// by the kernel.
	LiveMounts(ctx context.Context) (map[string]string, error)
}

// FileObservation is one regular file found by a walk.
type FileObservation struct {
	Filename    string
	Size        int64
	ContentType string // best effort, empty when unknown
	Path        string // absolute
}

// Walker walks a mounted volume.
type Walker interface {
	// Walk yields every regular file under root in lexical order. The
	// sequence is single use. A non-nil error ends the walk.
	Walk(ctx context.Context, root string) iter.Seq2[FileObservation, error]
}

// Source delivers device events.
type Source interface {
	// Start begins delivering events until ctx is done or Stop is called.
	Start(ctx context.Context) error

	// Events returns the event channel. It is closed by Stop.
	Events() <-chan Event

	// Enumerate returns an EventAdded for every device present right now.
	Enumerate(ctx context.Context) ([]Event, error)

	// Stop releases the source and closes the event channel.
	Stop()
}

// Vault stores catalog snapshots off the host.
type Vault interface {
	// PutMetadata stores a named metadata item for a specific host.
	// size is the number of bytes that will be read from r.
	// version is stored alongside the metadata for consistency checks.
	PutMetadata(ctx context.Context, hostID string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata retrieves a named metadata item for a host and writes it to w.
	GetMetadata(ctx context.Context, hostID string, name string, w io.Writer) error

	// GetMetadataVersion returns the version stored with a metadata item.
	// Returns 0 if nothing has been stored for this host/name.
	GetMetadataVersion(ctx context.Context, hostID string, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible.
	ValidateSetup(ctx context.Context) error
}

// Encryptor encrypts catalog snapshots with a public key. Decryption needs
// the private key, unlocked with a passphrase.
type Encryptor interface {
	// Setup generates and stores a key pair, protecting the private key
	// with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key for the rest of the session.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if the key material exists.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
