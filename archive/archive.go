// Package archive packs directories into zstd compressed tarballs for upload
// and unpacks them after download.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/gfile/internal/errs"
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zstd"
)

// Extension is appended to the name of packed directories.
const Extension = ".tar.zst"

// DependencyChecker reports whether the tar and zstd binaries are available.
type DependencyChecker interface {
	CheckDependencies() bool
}

type binaryChecker struct {
	logger  log.Logger
	envRepo env.Repository
}

// NewDependencyChecker looks the binaries up on PATH.
func NewDependencyChecker(logger log.Logger, envRepo env.Repository) DependencyChecker {
	return &binaryChecker{
		logger:  logger,
		envRepo: envRepo,
	}
}

func (c *binaryChecker) CheckDependencies() bool {
	return c.checkDependency("tar") && c.checkDependency("zstd")
}

func (c *binaryChecker) checkDependency(binaryName string) bool {
	cmd := command.NewFactory(c.envRepo).Create("which", []string{binaryName}, nil)
	c.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	_, err := cmd.RunAndReturnTrimmedCombinedOutput()
	return err == nil
}

// Archiver packs and unpacks directories. Packing shells out to tar and zstd
// when both are installed and falls back to a native implementation
// otherwise; unpacking is always native.
type Archiver struct {
	logger  log.Logger
	envRepo env.Repository
	checker DependencyChecker
}

// NewArchiver ...
func NewArchiver(logger log.Logger, envRepo env.Repository, checker DependencyChecker) *Archiver {
	return &Archiver{
		logger:  logger,
		envRepo: envRepo,
		checker: checker,
	}
}

// ArchiveName returns the archive file name for dir.
func ArchiveName(dir string) string {
	return filepath.Base(filepath.Clean(dir)) + Extension
}

// IsArchive reports whether name looks like a packed directory.
func IsArchive(name string) bool {
	return strings.HasSuffix(name, Extension)
}

// Pack writes dir into archivePath. Entries are stored relative to the parent
// of dir, so unpacking recreates dir by name. Paths matching any of the
// doublestar excludes, relative to dir, are left out.
func (a *Archiver) Pack(dir, archivePath string, excludes []string) error {
	if len(excludes) == 0 && a.checker.CheckDependencies() {
		a.logger.Debugf("Using installed zstd binary")
		if err := a.packWithBinary(dir, archivePath); err != nil {
			return fmt.Errorf("pack %s: %w", dir, err)
		}
		return nil
	}

	if err := a.packWithGoLib(dir, archivePath, excludes); err != nil {
		return fmt.Errorf("pack %s: %w", dir, err)
	}
	return nil
}

// Unpack extracts archivePath into destinationDirectory. Every entry and
// symlink must stay inside destinationDirectory.
func (a *Archiver) Unpack(archivePath, destinationDirectory string) error {
	if err := a.unpackWithGoLib(archivePath, destinationDirectory); err != nil {
		return fmt.Errorf("unpack %s: %w", archivePath, err)
	}
	return nil
}

func excluded(rel string, excludes []string) (bool, error) {
	for _, pattern := range excludes {
		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			return false, errs.InvalidArgument("exclude pattern %s: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (a *Archiver) packWithGoLib(dir, archivePath string, excludes []string) (err error) {
	root := filepath.Clean(dir)
	parent := filepath.Dir(root)

	out, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errs.IO("create archive file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errs.IO("close archive file: %w", cerr)
		}
		if err != nil {
			if rerr := os.Remove(archivePath); rerr != nil {
				a.logger.Warnf("Failed to remove incomplete archive %s: %s", archivePath, rerr)
			}
		}
	}()

	zstdWriter, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zstdWriter)

	walkErr := filepath.WalkDir(root, func(file string, d fs.DirEntry, e error) error {
		if e != nil {
			return e
		}

		if file != root {
			rel, err := filepath.Rel(root, file)
			if err != nil {
				return err
			}
			skip, err := excluded(filepath.ToSlash(rel), excludes)
			if err != nil {
				return err
			}
			if skip {
				a.logger.Debugf("Excluding %s", rel)
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if fi.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(file); err != nil {
				return fmt.Errorf("read symlink: %w", err)
			}
		}

		header, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return fmt.Errorf("create file info header: %w", err)
		}
		name, err := filepath.Rel(parent, file)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(name)
		if fi.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar file header: %w", err)
		}

		// nothing more to do for non-regular files or directories
		if !fi.Mode().IsRegular() {
			return nil
		}

		data, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		if _, err := io.Copy(tw, data); err != nil {
			_ = data.Close()
			return fmt.Errorf("copy %s: %w", file, err)
		}
		return data.Close()
	})
	if errors.Is(walkErr, errs.ErrInvalidArgument) {
		return walkErr
	}
	if walkErr != nil {
		return errs.IO("iterate on files: %w", walkErr)
	}

	if err := tw.Close(); err != nil {
		return errs.IO("close tar writer: %w", err)
	}
	if err := zstdWriter.Close(); err != nil {
		return errs.IO("close zstd writer: %w", err)
	}
	return nil
}

func (a *Archiver) packWithBinary(dir, archivePath string) error {
	root := filepath.Clean(dir)
	tarArgs := []string{
		"--use-compress-program", "zstd --threads=0",
		"-c",
		"-f", archivePath,
		"-C", filepath.Dir(root),
		filepath.Base(root),
	}
	return a.run("tar", tarArgs)
}

func (a *Archiver) unpackWithGoLib(archivePath, destinationDirectory string) error {
	compressedFile, err := os.Open(archivePath)
	if err != nil {
		return errs.IO("open %s: %w", archivePath, err)
	}
	defer compressedFile.Close() //nolint:errcheck

	zr, err := zstd.NewReader(compressedFile)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	dest := filepath.Clean(destinationDirectory)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return errs.IO("create %s: %w", dest, err)
	}
	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.IO("read tar file: %w", err)
		}

		target := filepath.Join(dest, filepath.FromSlash(header.Name))
		if !within(dest, target) {
			return errs.InvalidArgument("entry escapes destination: %s", header.Name)
		}
		if err := checkParents(dest, target); err != nil {
			return fmt.Errorf("%s: %w", header.Name, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return errs.IO("create target directories: %w", err)
			}
		case tar.TypeReg:
			if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
				return errs.InvalidArgument("refusing to overwrite symlink %s", target)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return errs.IO("create target directories: %w", err)
			}
			fileToWrite, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return errs.IO("create file: %w", err)
			}
			if _, err := io.Copy(fileToWrite, tr); err != nil {
				_ = fileToWrite.Close()
				return errs.IO("copy content to file: %w", err)
			}
			// close right away; deferring would keep every file open until the end
			if err := fileToWrite.Close(); err != nil {
				return errs.IO("write file: %w", err)
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) || !within(dest, filepath.Join(filepath.Dir(target), header.Linkname)) {
				return errs.InvalidArgument("symlink %s points outside destination: %s", header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return errs.IO("create target directories: %w", err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return errs.IO("symlink file: %w", err)
			}
		default:
			a.logger.Warnf("Skipping %s: unsupported entry type %c", header.Name, header.Typeflag)
		}
	}
}

func within(dir, path string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(os.PathSeparator))
}

// checkParents fails when an existing directory between dest and target is a
// symlink. Extraction never writes through links, including ones left behind
// by an earlier extraction.
func checkParents(dest, target string) error {
	rel, err := filepath.Rel(dest, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}

	current := dest
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return errs.IO("lstat %s: %w", current, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return errs.InvalidArgument("refusing to write through symlink %s", current)
		}
	}
	return nil
}

func (a *Archiver) run(name string, args []string) error {
	cmd := command.NewFactory(a.envRepo).Create(name, args, nil)
	a.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), cmd.PrintableCommandArgs(), errors.New(out))
		}
		return fmt.Errorf("executing command failed (%s): %w", cmd.PrintableCommandArgs(), err)
	}
	return nil
}

// IsEmptyDir reports whether path is a directory without any entries.
func IsEmptyDir(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close() //nolint:errcheck

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}
