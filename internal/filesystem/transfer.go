package filesystem

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"tether/internal/faults"
	"tether/internal/fileutil"
	"tether/internal/logging"
)

// Download is an open file ready to be streamed to the hub. Directories are
// packed into a temporary zip archive that Close removes.
type Download struct {
	Name string
	Size int64

	file    *os.File
	cleanup string
}

func (d *Download) Read(p []byte) (int, error) { return d.file.Read(p) }

// Close releases the file and removes any temporary archive.
func (d *Download) Close() error {
	err := d.file.Close()
	if d.cleanup != "" {
		_ = os.Remove(d.cleanup)
	}
	return err
}

// OpenDownload opens path for streaming.
func (m *Manager) OpenDownload(path string) (*Download, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, classify("download", err)
	}
	if !info.IsDir() {
		file, err := os.Open(path)
		if err != nil {
			return nil, classify("download", err)
		}
		return &Download{Name: info.Name(), Size: info.Size(), file: file}, nil
	}

	archive := filepath.Join(os.TempDir(), "tether-download-"+uuid.NewString()+".zip")
	if err := m.zipDirectory(path, archive); err != nil {
		_ = os.Remove(archive)
		return nil, faults.Wrap(faults.ErrUnexpected, "filesystem", "download", "archive directory", err)
	}
	file, err := os.Open(archive)
	if err != nil {
		_ = os.Remove(archive)
		return nil, classify("download", err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		_ = os.Remove(archive)
		return nil, classify("download", err)
	}
	m.logger.Info("directory archived for download",
		logging.String("path", path),
		logging.String("archive", archive),
		logging.Int64("bytes", stat.Size()),
	)
	return &Download{Name: info.Name() + ".zip", Size: stat.Size(), file: file, cleanup: archive}, nil
}

// zipDirectory writes every readable file below dir into archive. Files that
// cannot be read are skipped.
func (m *Manager) zipDirectory(dir, archive string) error {
	out, err := os.Create(archive)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			m.logger.Debug("skipping entry while archiving", logging.String("path", path), logging.Error(err))
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		return addToZip(zw, path, filepath.ToSlash(rel))
	})
	if walkErr != nil {
		_ = zw.Close()
		return walkErr
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func addToZip(zw *zip.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer in.Close()
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

// Upload receives an inbound file into a partial file next to its
// destination.
type Upload struct {
	Dest string
	*fileutil.PartialFile
}

// BeginUpload validates the target and opens <dir>/<name>.partial.
func (m *Manager) BeginUpload(dir, name string, overwrite bool) (*Upload, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, faults.Wrap(faults.ErrValidation, "filesystem", "upload", "invalid file name", nil)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, classify("upload", err)
	}
	if !info.IsDir() {
		return nil, faults.Wrap(faults.ErrValidation, "filesystem", "upload", "target directory does not exist", nil)
	}
	dest := filepath.Join(dir, name)
	partial, err := fileutil.CreatePartial(dest, overwrite)
	if err != nil {
		return nil, faults.Wrap(faults.ErrValidation, "filesystem", "upload", "cannot create destination", err)
	}
	return &Upload{Dest: dest, PartialFile: partial}, nil
}
