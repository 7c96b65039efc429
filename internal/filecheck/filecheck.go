// Package filecheck chains assertions about files written by the transfer
// engines. It is meant for tests.
package filecheck

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// Checker collects checks against a single path.
type Checker struct {
	Path   string
	checks []func(path string) error
}

// For creates a Checker for path.
func For(path string) *Checker {
	return &Checker{Path: path}
}

// Check runs every check and joins the failures.
func (c *Checker) Check() error {
	var failures []error
	for _, check := range c.checks {
		if err := check(c.Path); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// IsDir checks that the path is a directory.
func (c *Checker) IsDir() *Checker {
	return c.add(func(path string) error {
		info, err := lstat(path)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s: not a directory", path)
		}
		return nil
	})
}

// IsFile checks that the path is a regular file.
func (c *Checker) IsFile() *Checker {
	return c.add(func(path string) error {
		info, err := lstat(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s: not a regular file (%s)", path, info.Mode())
		}
		return nil
	})
}

// Size checks the length of the file.
func (c *Checker) Size(want int64) *Checker {
	return c.add(func(path string) error {
		info, err := lstat(path)
		if err != nil {
			return err
		}
		if info.Size() != want {
			return fmt.Errorf("%s: size %d, want %d", path, info.Size(), want)
		}
		return nil
	})
}

// Content checks the file holds exactly want.
func (c *Checker) Content(want []byte) *Checker {
	return c.add(func(path string) error {
		got, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, want) {
			if len(got) > 64 || len(want) > 64 {
				return fmt.Errorf("%s: content mismatch (%d bytes, want %d)", path, len(got), len(want))
			}
			return fmt.Errorf("%s: content %q, want %q", path, got, want)
		}
		return nil
	})
}

// Absent checks that nothing exists at the path.
func (c *Checker) Absent() *Checker {
	return c.add(func(path string) error {
		if _, err := os.Lstat(path); err == nil {
			return fmt.Errorf("%s: exists", path)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("lstat %s: %w", path, err)
		}
		return nil
	})
}

func (c *Checker) add(check func(path string) error) *Checker {
	c.checks = append(c.checks, check)
	return c
}

func lstat(path string) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: does not exist", path)
		}
		return nil, fmt.Errorf("lstat %s: %w", path, err)
	}
	return info, nil
}
