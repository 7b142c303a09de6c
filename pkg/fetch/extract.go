package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/antcode/antcode/pkg/errkind"
)

// extractArchive dispatches on file extension and extracts into destDir,
// rejecting any member that would escape destDir (path traversal) or that is
// a symlink (both are how a malicious archive would write outside its
// sandbox).
func extractArchive(archivePath, destDir string) error {
	name := strings.ToLower(filepath.Base(archivePath))
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip(archivePath, destDir)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return extractTarGz(archivePath, destDir)
	case strings.HasSuffix(name, ".tar"):
		return extractTar(archivePath, destDir)
	default:
		return errkind.Wrap(errkind.KindValidation, fmt.Errorf("fetch: unsupported archive extension %q", name))
	}
}

func isArchive(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".zip") || strings.HasSuffix(name, ".tar.gz") ||
		strings.HasSuffix(name, ".tgz") || strings.HasSuffix(name, ".tar")
}

// safeJoin resolves name under base, rejecting any result that escapes base.
func safeJoin(base, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("fetch: empty archive member name")
	}
	target := filepath.Join(base, name)
	baseClean := filepath.Clean(base) + string(os.PathSeparator)
	targetClean := filepath.Clean(target)
	if targetClean != filepath.Clean(base) && !strings.HasPrefix(targetClean+string(os.PathSeparator), baseClean) {
		return "", errkind.Wrap(errkind.KindIntegrity, fmt.Errorf("fetch: archive member %q escapes destination", name))
	}
	return target, nil
}

func extractZip(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, member := range zr.File {
		if isZipSymlink(member) {
			return errkind.Wrap(errkind.KindIntegrity, fmt.Errorf("fetch: archive member %q is a symlink", member.Name))
		}
		if _, err := safeJoin(destDir, member.Name); err != nil {
			return err
		}
	}

	for _, member := range zr.File {
		target, err := safeJoin(destDir, member.Name)
		if err != nil {
			return err
		}
		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipFile(member, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(member *zip.File, target string) error {
	src, err := member.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, member.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func isZipSymlink(member *zip.File) bool {
	return member.Mode()&os.ModeSymlink != 0
}

func extractTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	return extractTarReader(tar.NewReader(gz), destDir)
}

func extractTar(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	return extractTarReader(tar.NewReader(f), destDir)
}

// extractTarReader validates and writes each member in a single pass (a tar
// stream can't be rewound): a rejected member still means earlier members
// were already written, so any error here must be treated as fetch failure
// and the destination discarded by the caller, not trusted partially.
func extractTarReader(tr *tar.Reader, destDir string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink {
			return errkind.Wrap(errkind.KindIntegrity, fmt.Errorf("fetch: archive member %q is a link", hdr.Name))
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
