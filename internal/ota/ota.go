// Package ota replaces the daemon binary with one downloaded over HTTP,
// keeping the previous binary for rollback.
package ota

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds a whole download.
const DefaultTimeout = 5 * time.Minute

// BackupSuffix names the previous binary next to the target.
const BackupSuffix = ".prev"

var (
	ErrInvalidURL = errors.New("ota: URL must be http(s) and point to a .bin file")
	ErrInProgress = errors.New("ota: update already in progress")
	ErrNoBackup   = errors.New("ota: no previous firmware to roll back to")
	ErrEmptyImage = errors.New("ota: downloaded image is empty")
)

// ValidateURL accepts http and https URLs naming a .bin image.
func ValidateURL(url string) error {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}
	if !strings.Contains(url, ".bin") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}
	return nil
}

// Result describes an installed image.
type Result struct {
	Path   string
	Size   int64
	SHA256 string
}

// Updater installs images over Target.
type Updater struct {
	// Target is the binary being replaced.
	Target string

	// StagingDir receives downloads. Defaults to Target's directory so
	// the final rename stays on one filesystem.
	StagingDir string

	// Client defaults to an http.Client with DefaultTimeout.
	Client *http.Client

	busy atomic.Bool
}

// NewUpdater creates an Updater for target.
func NewUpdater(target, stagingDir string) *Updater {
	return &Updater{Target: target, StagingDir: stagingDir}
}

func (u *Updater) client() *http.Client {
	if u.Client != nil {
		return u.Client
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func (u *Updater) stagingDir() string {
	if u.StagingDir != "" {
		return u.StagingDir
	}
	return filepath.Dir(u.Target)
}

// Busy reports whether an update or rollback is running.
func (u *Updater) Busy() bool { return u.busy.Load() }

// Update downloads url, then swaps it in place of Target. The previous
// binary is kept as Target+BackupSuffix.
func (u *Updater) Update(ctx context.Context, url string) (Result, error) {
	if err := ValidateURL(url); err != nil {
		return Result{}, err
	}
	if !u.busy.CompareAndSwap(false, true) {
		return Result{}, ErrInProgress
	}
	defer u.busy.Store(false)

	log.Printf("ota: downloading %s", url)
	staged, res, err := u.download(ctx, url)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(staged)

	if err := u.swap(staged); err != nil {
		return Result{}, err
	}
	res.Path = u.Target
	log.Printf("ota: installed %d bytes sha256=%s", res.Size, res.SHA256)
	return res, nil
}

func (u *Updater) download(ctx context.Context, url string) (string, Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", Result{}, fmt.Errorf("ota: request: %w", err)
	}
	resp, err := u.client().Do(req)
	if err != nil {
		return "", Result{}, fmt.Errorf("ota: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", Result{}, fmt.Errorf("ota: download: HTTP %d", resp.StatusCode)
	}

	dir := u.stagingDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", Result{}, fmt.Errorf("ota: staging dir: %w", err)
	}
	path := filepath.Join(dir, "ota-"+uuid.NewString()+".bin")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o755)
	if err != nil {
		return "", Result{}, fmt.Errorf("ota: staging file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), resp.Body)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = ErrEmptyImage
	}
	if err != nil {
		os.Remove(path)
		return "", Result{}, fmt.Errorf("ota: write image: %w", err)
	}
	return path, Result{Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// swap moves Target to the backup slot and staged to Target.
func (u *Updater) swap(staged string) error {
	backup := u.Target + BackupSuffix
	hadTarget := true
	if err := os.Rename(u.Target, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("ota: backup: %w", err)
		}
		hadTarget = false
	}
	if err := os.Rename(staged, u.Target); err != nil {
		if hadTarget {
			if rerr := os.Rename(backup, u.Target); rerr != nil {
				log.Printf("ota: restore after failed swap: %v", rerr)
			}
		}
		return fmt.Errorf("ota: install: %w", err)
	}
	return nil
}

// Rollback swaps the backup back in place of Target. The rolled-back
// image becomes the new backup, so a second Rollback undoes the first.
func (u *Updater) Rollback(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !u.busy.CompareAndSwap(false, true) {
		return ErrInProgress
	}
	defer u.busy.Store(false)

	backup := u.Target + BackupSuffix
	if _, err := os.Stat(backup); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoBackup
		}
		return fmt.Errorf("ota: %w", err)
	}
	tmp := u.Target + ".rollback"
	if err := os.Rename(u.Target, tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ota: rollback: %w", err)
	}
	if err := os.Rename(backup, u.Target); err != nil {
		return fmt.Errorf("ota: rollback: %w", err)
	}
	if err := os.Rename(tmp, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ota: keep rolled-back image: %v", err)
	}
	log.Printf("ota: rolled back to previous firmware")
	return nil
}
