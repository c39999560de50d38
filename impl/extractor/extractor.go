// Package extractor unpacks a flattened image filesystem into a directory that
// an engine can use as a container root.
package extractor

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	log "github.com/sirupsen/logrus"
)

// Extract writes every entry in the tar stream 'r' under 'root', which must exist.
// Entry names, hardlink targets, and the parents of every entry are resolved inside
// 'root' so no entry can be written outside it, even through a symlink in the
// image. Ownership is not preserved and device nodes are skipped, since the root
// is used without privileges.
func Extract(r io.Reader, root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	log.Debugf("extracting image filesystem to %s", root)
	tarReader := tar.NewReader(bufio.NewReader(r))
	var cnt int
	for {
		header, err := tarReader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		target, err := resolve(root, header.Name)
		if err != nil {
			return err
		}
		if target == root {
			continue
		}
		if err := extractEntry(tarReader, header, root, target); err != nil {
			return fmt.Errorf("unable to extract %s: %w", header.Name, err)
		}
		cnt++
	}
	log.Debugf("extracted %d entries to %s", cnt, root)
	return nil
}

// resolve returns the path in 'root' for the passed entry name. The parent of the entry
// is resolved with symlinks scoped to 'root', the final element is not resolved so an
// entry replaces whatever is at that path.
func resolve(root, name string) (string, error) {
	clean := filepath.Clean("/" + name)
	if clean == "/" {
		return root, nil
	}
	parent, err := securejoin.SecureJoin(root, filepath.Dir(clean))
	if err != nil {
		return "", fmt.Errorf("unable to resolve %s in %s: %w", name, root, err)
	}
	target := filepath.Join(parent, filepath.Base(clean))
	if !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %s resolves outside of %s", name, root)
	}
	return target, nil
}

// extractEntry creates one entry at 'target'
func extractEntry(tr *tar.Reader, hdr *tar.Header, root, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	mode := os.FileMode(hdr.Mode).Perm()
	switch hdr.Typeflag {
	case tar.TypeDir:
		if fi, err := os.Lstat(target); err == nil && !fi.IsDir() {
			if err := os.Remove(target); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(target, mode|0700); err != nil {
			return err
		}
		return os.Chmod(target, mode|0700)
	case tar.TypeReg:
		if err := removeExisting(target); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode|0600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case tar.TypeSymlink:
		if err := removeExisting(target); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeLink:
		src, err := resolve(root, hdr.Linkname)
		if err != nil {
			return err
		}
		if fi, err := os.Lstat(src); err != nil {
			return err
		} else if fi.IsDir() {
			return fmt.Errorf("hardlink to directory %s", hdr.Linkname)
		}
		if err := removeExisting(target); err != nil {
			return err
		}
		return os.Link(src, target)
	default:
		log.Debugf("skipping %s with type %c", hdr.Name, hdr.Typeflag)
	}
	return nil
}

// removeExisting removes a non-directory at 'target', since a later layer entry
// replaces an earlier one
func removeExisting(target string) error {
	fi, err := os.Lstat(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	if fi.IsDir() {
		return os.RemoveAll(target)
	}
	return os.Remove(target)
}
