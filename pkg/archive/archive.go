// Package archive converts between zip containers and directory trees.
//
// Extraction never writes outside the destination directory: entries whose
// names cannot be resolved to a relative path below the destination are
// skipped and reported in ExtractResult rather than aborting the extraction.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// FileMode is the Unix permission recorded for every packed file entry.
	FileMode fs.FileMode = 0644
	// DirMode is the permission used for directories, packed and extracted.
	DirMode fs.FileMode = 0755
)

// ErrFormat marks zip stream failures (bad magic, truncated central directory,
// corrupt entries) as opposed to filesystem errors.
var ErrFormat = errors.New("archive: malformed zip stream")

// ErrUnsafeName is returned by Pack for entry names that would not survive
// extraction.
var ErrUnsafeName = errors.New("archive: unsafe entry name")

// Entry is one logical archive member: a directory marker or a file with content.
type Entry struct {
	Name string // slash separated, relative
	Dir  bool
	Data []byte
}

// DirEntry returns a directory marker entry.
func DirEntry(name string) Entry {
	return Entry{Name: name, Dir: true}
}

// FileEntry returns a file entry holding data.
func FileEntry(name string, data []byte) Entry {
	return Entry{Name: name, Data: data}
}

// ExtractResult summarizes an extraction.
type ExtractResult struct {
	Dirs    int      // directory entries created
	Files   int      // file entries written
	Skipped []string // raw names of entries refused as unsafe or aliasing an earlier entry
}

// EnclosedName sanitizes a raw zip entry name into a relative, slash separated
// path that cannot leave the extraction root. ok is false when the name is
// empty, absolute, carries a volume or NUL byte, or has a ".." component.
func EnclosedName(raw string) (name string, ok bool) {
	if raw == "" || strings.ContainsRune(raw, 0) {
		return "", false
	}
	p := strings.ReplaceAll(raw, "\\", "/")
	if path.IsAbs(p) || filepath.VolumeName(p) != "" || hasDriveLetter(p) {
		return "", false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", false
		}
	}
	p = strings.TrimSuffix(path.Clean(p), "/")
	if p == "." || p == "" {
		return "", false
	}
	if !filepath.IsLocal(filepath.FromSlash(p)) {
		return "", false
	}
	return p, true
}

func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' &&
		((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

// Extract unpacks archivePath into destDir. Unsafe entries are skipped. Entry
// names are written as stored; on filesystems that fold Unicode normalization,
// a file whose name is canonically equivalent to one already written is
// skipped instead of overwriting it. Any I/O or zip error aborts the
// extraction; entries already written stay on disk.
func Extract(archivePath, destDir string) (result *ExtractResult, err error) {
	zr, err := openReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := zr.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}

	result = &ExtractResult{}
	written := make(map[string]string) // NFC form -> first target written
	for _, f := range zr.File {
		name, ok := EnclosedName(f.Name)
		if !ok {
			result.Skipped = append(result.Skipped, f.Name)
			continue
		}
		target := filepath.Join(absDest, filepath.FromSlash(name))
		if !isWithinDir(absDest, target) {
			result.Skipped = append(result.Skipped, f.Name)
			continue
		}

		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, DirMode); err != nil {
				return result, fmt.Errorf("mkdir %s: %w", name, err)
			}
			result.Dirs++
			continue
		}

		key := norm.NFC.String(name)
		if prev, seen := written[key]; seen && prev != target && sameFile(prev, target) {
			result.Skipped = append(result.Skipped, f.Name)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), DirMode); err != nil {
			return result, fmt.Errorf("mkdir parent of %s: %w", name, err)
		}
		if err := extractFile(f, target); err != nil {
			return result, err
		}
		if _, seen := written[key]; !seen {
			written[key] = target
		}
		result.Files++
	}
	return result, nil
}

func extractFile(f *zip.File, target string) (err error) {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open entry %s: %v", ErrFormat, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", f.Name, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", f.Name, closeErr)
		}
	}()

	if _, err := io.Copy(out, rc); err != nil {
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: read entry %s: %v", ErrFormat, f.Name, err)
		}
		return fmt.Errorf("write %s: %w", f.Name, err)
	}
	return nil
}

// Pack writes entries, in order, to a new zip at archivePath. Every entry is
// deflated; files carry mode 0644.
func Pack(entries []Entry, archivePath string) (err error) {
	for _, e := range entries {
		if _, ok := EnclosedName(e.Name); !ok {
			return fmt.Errorf("%w: %q", ErrUnsafeName, e.Name)
		}
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", archivePath, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", archivePath, closeErr)
		}
	}()

	zw := zip.NewWriter(out)
	for _, e := range entries {
		if err := writeEntry(zw, e); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish %s: %w", archivePath, err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, e Entry) error {
	name := strings.TrimSuffix(strings.ReplaceAll(e.Name, "\\", "/"), "/")
	hdr := &zip.FileHeader{
		Name:   name,
		Method: zip.Deflate,
	}
	if e.Dir {
		hdr.Name += "/"
		hdr.SetMode(fs.ModeDir | DirMode)
	} else {
		hdr.SetMode(FileMode)
	}

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("write header %s: %w", hdr.Name, err)
	}
	if e.Dir {
		return nil
	}
	if _, err := w.Write(e.Data); err != nil {
		return fmt.Errorf("write body %s: %w", hdr.Name, err)
	}
	return nil
}

// List returns the raw entry names of the archive in stored order.
func List(archivePath string) ([]string, error) {
	zr, err := openReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// ReadFile returns the content of a single file entry without extracting the
// archive. It returns fs.ErrNotExist when no entry has that name.
func ReadFile(archivePath, name string) ([]byte, error) {
	zr, err := openReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if enclosed, ok := EnclosedName(f.Name); !ok || enclosed != name || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open entry %s: %v", ErrFormat, f.Name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: read entry %s: %v", ErrFormat, f.Name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("entry %s: %w", name, fs.ErrNotExist)
}

// openReader opens archivePath, separating filesystem failures from zip
// format failures. Insecure names are tolerated here; callers filter them
// through EnclosedName.
func openReader(archivePath string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(archivePath)
	if err == nil || (zr != nil && errors.Is(err, zip.ErrInsecurePath)) {
		return zr, nil
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return nil, fmt.Errorf("open %s: %w", archivePath, err)
	}
	return nil, fmt.Errorf("%w: open %s: %v", ErrFormat, archivePath, err)
}

// sameFile reports whether a and b resolve to the same existing file.
func sameFile(a, b string) bool {
	ia, err := os.Lstat(a)
	if err != nil {
		return false
	}
	ib, err := os.Lstat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ia, ib)
}

func isWithinDir(dir, full string) bool {
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		return false
	}
	return rel != ".." &&
		!strings.HasPrefix(rel, ".."+string(filepath.Separator)) &&
		!filepath.IsAbs(rel)
}
