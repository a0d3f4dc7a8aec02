// Package backup moves tenant state between the local filesystem and an
// object store: gzipped tar archives out, path-filtered extraction back in,
// newest-first listing and pruning.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// WriteArchive streams a gzipped tar of dir to w. Entry names are relative
// to dir with forward slashes; headers are PAX with ownership stripped so
// archives restore identically across hosts.
func WriteArchive(dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			if linkTarget, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Format = tar.FormatPAX
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

// withinDir reports whether the resolved candidate path stays inside root.
// The comparison uses the root path plus a trailing separator so "/a/bc"
// never passes for root "/a/b".
func withinDir(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	return candidate == root || strings.HasPrefix(candidate, root+string(filepath.Separator))
}

// ExtractArchive unpacks a gzipped tar under dir. Hostile entries are
// skipped, not fatal: absolute paths, entries resolving outside dir, and
// links whose targets escape dir. Stored modes and mtimes are not honored;
// everything lands owner-only.
func ExtractArchive(r io.Reader, dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		name := filepath.FromSlash(hdr.Name)
		if filepath.IsAbs(name) {
			log.Warn().Str("entry", hdr.Name).Msg("skipping absolute archive entry")
			continue
		}
		target := filepath.Join(root, name)
		if !withinDir(root, target) {
			log.Warn().Str("entry", hdr.Name).Msg("skipping archive entry escaping target dir")
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o700); err != nil {
				return err
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

		case tar.TypeSymlink:
			resolved := hdr.Linkname
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(filepath.Dir(target), hdr.Linkname)
			}
			if !withinDir(root, resolved) {
				log.Warn().Str("entry", hdr.Name).Str("target", hdr.Linkname).Msg("skipping symlink escaping target dir")
				continue
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}

		case tar.TypeLink:
			source := filepath.Join(root, filepath.FromSlash(hdr.Linkname))
			if filepath.IsAbs(filepath.FromSlash(hdr.Linkname)) || !withinDir(root, source) {
				log.Warn().Str("entry", hdr.Name).Str("target", hdr.Linkname).Msg("skipping hard link escaping target dir")
				continue
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Link(source, target); err != nil {
				return err
			}

		default:
			log.Warn().Str("entry", hdr.Name).Uint8("type", uint8(hdr.Typeflag)).Msg("skipping unsupported archive entry type")
		}
	}
	return nil
}

// clearDir removes everything inside dir, keeping dir itself.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
