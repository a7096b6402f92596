package channel

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Slots names the request/response file pair shared with the answering engine.
type Slots struct {
	Dir      string
	Request  string
	Response string
}

func (s Slots) RequestPath() string  { return filepath.Join(s.Dir, s.Request) }
func (s Slots) ResponsePath() string { return filepath.Join(s.Dir, s.Response) }

// lockPath is the advisory lock guarding claims on the response slot.
func (s Slots) lockPath() string { return s.ResponsePath() + ".lock" }

// Ensure creates the slot directory and any missing slot file. Existing slot
// contents are never touched.
func (s Slots) Ensure() error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("could not create channel directory %s: %w", s.Dir, err)
	}
	for _, path := range []string{s.RequestPath(), s.ResponsePath()} {
		if err := createEmpty(path); err != nil {
			return fmt.Errorf("could not create slot %s: %w", path, err)
		}
	}
	return nil
}

// createEmpty creates path if it does not exist yet.
func createEmpty(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	}
	return f.Close()
}

// readSlot returns the slot contents. A missing slot reads as empty: the
// engine or a concurrent claim may be recreating it.
func readSlot(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// writeSlot replaces the slot contents in one step so readers never observe
// a partially written payload.
func writeSlot(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// claimSlot moves the current slot contents out of the way and leaves a fresh
// empty slot behind. Anything the engine writes after the rename lands in the
// new slot and is not lost.
func claimSlot(path string) (string, error) {
	claimed := fmt.Sprintf("%s.claim-%d", path, os.Getpid())
	if err := os.Rename(path, claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer os.Remove(claimed)

	if err := createEmpty(path); err != nil {
		return "", err
	}

	data, err := os.ReadFile(claimed)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
