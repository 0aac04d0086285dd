// Package localfs keeps incoming invoice files on the local filesystem: it
// claims them for a pipeline run, waits for writers to finish, and moves
// processed files into the archive directory.
package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/EvertonViniciusav/Invoice-signature-system/internal/core/domain"
)

const claimSuffix = ".claim"

type InboxOptions struct {
	ArchiveDirName string
	ClaimsDirName  string
	// ArchiveDelay gives editors and copy tools time to release the file.
	ArchiveDelay time.Duration
	// ClaimTTL is how long a processing claim is honoured before another run takes it over.
	ClaimTTL time.Duration
}

func (o InboxOptions) normalize() InboxOptions {
	if o.ArchiveDirName == "" {
		o.ArchiveDirName = "LIDO"
	}
	if o.ClaimsDirName == "" {
		o.ClaimsDirName = ".claims"
	}
	if o.ArchiveDelay < 0 {
		o.ArchiveDelay = 0
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 10 * time.Minute
	}
	return o
}

type Inbox struct {
	root         string
	archiveDir   string
	claimsDir    string
	archiveDelay time.Duration
	claimTTL     time.Duration
	now          func() time.Time
}

func NewInbox(root string, opts InboxOptions) (*Inbox, error) {
	opts = opts.normalize()

	info, err := os.Stat(root)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "open inbox", err)
	}
	if !info.IsDir() {
		return nil, domain.WrapError(domain.ErrConfiguration, "open inbox", fmt.Errorf("%s is not a directory", root))
	}

	claimsDir := filepath.Join(root, opts.ClaimsDirName)
	if err := os.MkdirAll(claimsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create claims dir: %w", err)
	}

	return &Inbox{
		root:         root,
		archiveDir:   filepath.Join(root, opts.ArchiveDirName),
		claimsDir:    claimsDir,
		archiveDelay: opts.ArchiveDelay,
		claimTTL:     opts.ClaimTTL,
		now:          time.Now,
	}, nil
}

func (i *Inbox) Root() string {
	return i.root
}

func (i *Inbox) ArchiveDir() string {
	return i.archiveDir
}

func (i *Inbox) Claim(_ context.Context, path string) (domain.Claim, error) {
	if _, err := os.Stat(path); err != nil {
		return domain.Claim{}, fmt.Errorf("stat file: %w", err)
	}

	claim := domain.Claim{
		Token:     uuid.NewString(),
		Path:      path,
		LockPath:  i.lockPath(path),
		State:     domain.ClaimProcessing,
		ClaimedAt: i.now().UTC(),
	}

	err := i.create(claim)
	if errors.Is(err, os.ErrExist) {
		held, stale := i.inspect(claim.LockPath)
		if !stale {
			return domain.Claim{}, domain.WrapError(domain.ErrClaimed, "claim "+filepath.Base(path), fmt.Errorf("held by %s since %s", held.Token, held.ClaimedAt.Format(time.RFC3339)))
		}
		if rmErr := os.Remove(claim.LockPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return domain.Claim{}, fmt.Errorf("remove stale claim: %w", rmErr)
		}
		err = i.create(claim)
		if errors.Is(err, os.ErrExist) {
			return domain.Claim{}, domain.WrapError(domain.ErrClaimed, "claim "+filepath.Base(path), err)
		}
	}
	if err != nil {
		return domain.Claim{}, fmt.Errorf("create claim: %w", err)
	}
	return claim, nil
}

func (i *Inbox) MarkPersisted(_ context.Context, claim *domain.Claim, invoiceID int64) error {
	if err := i.owned(*claim); err != nil {
		return err
	}

	updated := *claim
	updated.State = domain.ClaimPersisted
	updated.InvoiceID = invoiceID

	payload, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}

	tmp, err := os.CreateTemp(i.claimsDir, filepath.Base(claim.LockPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create claim temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write claim: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close claim: %w", err)
	}
	if err := os.Rename(tmpName, claim.LockPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace claim: %w", err)
	}

	*claim = updated
	return nil
}

// Release drops the claim and leaves the file where it is.
func (i *Inbox) Release(_ context.Context, claim domain.Claim) error {
	err := i.owned(claim)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(claim.LockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove claim: %w", err)
	}
	return nil
}

// Archive moves the claimed file into the archive directory and drops the claim.
// An existing file with the same name in the archive is never overwritten, and
// a claim taken over by another run is left alone.
func (i *Inbox) Archive(ctx context.Context, claim domain.Claim) (string, error) {
	if i.archiveDelay > 0 {
		timer := time.NewTimer(i.archiveDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	if err := i.owned(claim); err != nil {
		return "", fmt.Errorf("verify claim before archive: %w", err)
	}

	if err := os.MkdirAll(i.archiveDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	dest := filepath.Join(i.archiveDir, filepath.Base(claim.Path))
	if _, err := os.Lstat(dest); err == nil {
		return "", domain.WrapError(domain.ErrArchive, "archive "+filepath.Base(claim.Path), fmt.Errorf("destination %s already exists", dest))
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat destination: %w", err)
	}

	if err := os.Rename(claim.Path, dest); err != nil {
		return "", fmt.Errorf("move file: %w", err)
	}
	if err := os.Remove(claim.LockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return dest, fmt.Errorf("remove claim after archive: %w", err)
	}
	return dest, nil
}

// Unclaimed lists XML files waiting in the watched directory, sorted by name.
// Files whose claim went stale are included.
func (i *Inbox) Unclaimed(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(i.root)
	if err != nil {
		return nil, fmt.Errorf("read watched dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !domain.IsXMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(i.root, entry.Name())
		lock := i.lockPath(path)
		if _, err := os.Stat(lock); err == nil {
			if _, stale := i.inspect(lock); !stale {
				continue
			}
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (i *Inbox) lockPath(path string) string {
	return filepath.Join(i.claimsDir, filepath.Base(path)+claimSuffix)
}

func (i *Inbox) create(claim domain.Claim) error {
	payload, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}

	f, err := os.OpenFile(claim.LockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(claim.LockPath)
		return err
	}
	return f.Close()
}

// inspect reports the claim held in lock and whether another run may take it over.
// Persisted claims are never stale.
func (i *Inbox) inspect(lock string) (domain.Claim, bool) {
	held, err := readClaim(lock)
	if err != nil {
		// Unreadable lock: a writer may still be filling it, judge by its age.
		info, statErr := os.Stat(lock)
		if statErr != nil {
			return domain.Claim{}, errors.Is(statErr, os.ErrNotExist)
		}
		return domain.Claim{ClaimedAt: info.ModTime()}, i.now().Sub(info.ModTime()) > i.claimTTL
	}
	if held.State == domain.ClaimPersisted {
		return held, false
	}
	return held, i.now().Sub(held.ClaimedAt) > i.claimTTL
}

func (i *Inbox) owned(claim domain.Claim) error {
	held, err := readClaim(claim.LockPath)
	if err != nil {
		return err
	}
	if held.Token != claim.Token {
		return domain.WrapError(domain.ErrClaimed, "verify claim "+filepath.Base(claim.Path), errors.New("claim owned by another run"))
	}
	return nil
}

func readClaim(lock string) (domain.Claim, error) {
	raw, err := os.ReadFile(lock)
	if err != nil {
		return domain.Claim{}, err
	}
	var claim domain.Claim
	if err := json.Unmarshal(raw, &claim); err != nil {
		return domain.Claim{}, fmt.Errorf("decode claim: %w", err)
	}
	claim.LockPath = lock
	return claim, nil
}
