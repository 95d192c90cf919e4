package ota

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// Updater performs the platform side of the destructive commands.
type Updater interface {
	// Cancel discards the staged image.
	Cancel() error
	// Restart boots into the staged image.
	Restart() error
	// Rollback restores the previous image.
	Rollback() error
}

// SlotUpdater manages a single staging image with an optional backup file.
type SlotUpdater struct {
	Image Image

	// BackupPath holds the previous image used by Rollback.
	BackupPath string

	// OnRestart is called by Restart. A nil hook makes Restart fail.
	OnRestart func() error
}

func (u *SlotUpdater) Cancel() error {
	return errors.Wrap(u.Image.Erase(), "cancel")
}

func (u *SlotUpdater) Restart() error {
	if u.OnRestart == nil {
		return errors.New("restart not supported")
	}
	return u.OnRestart()
}

func (u *SlotUpdater) Rollback() error {
	if u.BackupPath == "" {
		return errors.New("no backup image")
	}
	f, err := os.Open(u.BackupPath)
	if err != nil {
		return errors.Wrap(err, "rollback")
	}
	defer f.Close()

	if err := u.Image.Erase(); err != nil {
		return errors.Wrap(err, "rollback")
	}
	w := io.NewOffsetWriter(u.Image, 0)
	if _, err := io.Copy(w, io.LimitReader(f, u.Image.Size())); err != nil {
		return errors.Wrap(err, "rollback")
	}
	return nil
}
