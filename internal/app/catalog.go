package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"devcat/internal/config"
	"devcat/internal/devcat"
	"devcat/internal/encryption"
	"devcat/internal/vault"
)

// ErrNoVault is returned by catalog operations when no vault is configured.
var ErrNoVault = errors.New("no vaults configured")

// BackupCatalog snapshots the catalog database, encrypts it and uploads it
// to the vault. The snapshot's version is the highest scan id.
func (a *App) BackupCatalog(ctx context.Context) (int64, error) {
	if a.vault == nil {
		return 0, ErrNoVault
	}
	if !a.encryptor.IsConfigured() {
		return 0, fmt.Errorf("encryption keys are not set up: run 'devcat config keys init'")
	}

	version, err := a.db.MaxScanID(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading catalog version: %w", err)
	}

	snapshot, err := tempPath("devcat-catalog-*.db")
	if err != nil {
		return 0, fmt.Errorf("creating temp file for catalog snapshot: %w", err)
	}
	defer os.Remove(snapshot)
	if err := a.db.BackupTo(snapshot); err != nil {
		return 0, err
	}

	sealed, err := os.CreateTemp("", "devcat-catalog-*.age")
	if err != nil {
		return 0, fmt.Errorf("creating temp file for encrypted snapshot: %w", err)
	}
	defer os.Remove(sealed.Name())
	defer sealed.Close()

	plain, err := os.Open(snapshot)
	if err != nil {
		return 0, fmt.Errorf("opening catalog snapshot: %w", err)
	}
	err = a.encryptor.Encrypt(plain, sealed)
	plain.Close()
	if err != nil {
		return 0, fmt.Errorf("encrypting catalog snapshot: %w", err)
	}

	size, err := sealed.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("sizing encrypted snapshot: %w", err)
	}
	if _, err := sealed.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding encrypted snapshot: %w", err)
	}

	if err := a.vault.PutMetadata(ctx, a.cfg.HostID, CatalogName, sealed, size, version); err != nil {
		return 0, fmt.Errorf("uploading catalog snapshot to vault: %w", err)
	}
	a.dirty = false

	a.logger.Info("catalog snapshot uploaded", "version", version, "size", size)
	return version, nil
}

// RestoreCatalog downloads this host's newest catalog snapshot from the
// first configured vault, decrypts it with passphrase and writes it to
// dest. It does not open the local catalog, which may be the one being
// replaced. Returns the restored version.
func RestoreCatalog(ctx context.Context, cfg *config.Config, dest, passphrase string) (int64, error) {
	if len(cfg.Vaults) == 0 {
		return 0, ErrNoVault
	}
	if _, err := os.Stat(dest); err == nil {
		return 0, fmt.Errorf("%s already exists", dest)
	}

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return 0, fmt.Errorf("creating vault: %w", err)
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating encryptor: %w", err)
	}
	return restoreCatalog(ctx, v, enc, cfg.HostID, dest, passphrase)
}

func restoreCatalog(ctx context.Context, v devcat.Vault, enc devcat.Encryptor, hostID, dest, passphrase string) (int64, error) {
	version, err := v.GetMetadataVersion(ctx, hostID, CatalogName)
	if err != nil {
		return 0, fmt.Errorf("checking catalog version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("no catalog snapshot for host %s", hostID)
	}

	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return 0, fmt.Errorf("unlocking private key: %w", err)
	}

	sealed, err := os.CreateTemp("", "devcat-restore-*.age")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(sealed.Name())
	defer sealed.Close()

	if err := v.GetMetadata(ctx, hostID, CatalogName, sealed); err != nil {
		return 0, fmt.Errorf("downloading catalog snapshot: %w", err)
	}
	if _, err := sealed.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding catalog snapshot: %w", err)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}
	if err := dc.Decrypt(sealed, out); err != nil {
		out.Close()
		os.Remove(dest)
		return 0, fmt.Errorf("decrypting catalog snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %w", dest, err)
	}
	return version, nil
}

// tempPath reserves a fresh path in the temp dir and leaves it empty.
func tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
