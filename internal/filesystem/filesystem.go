package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tether/internal/faults"
	"tether/internal/logging"
)

// Entry describes a file or directory.
type Entry struct {
	Name          string    `json:"name"`
	FullPath      string    `json:"fullPath"`
	IsDirectory   bool      `json:"isDirectory"`
	Size          int64     `json:"size"`
	LastModified  time.Time `json:"lastModified"`
	IsHidden      bool      `json:"isHidden"`
	CanRead       bool      `json:"canRead"`
	CanWrite      bool      `json:"canWrite"`
	HasSubfolders bool      `json:"hasSubfolders"`
}

// Manager performs file operations on the local machine.
type Manager struct {
	logger *slog.Logger
}

// New constructs a Manager.
func New(logger *slog.Logger) *Manager {
	return &Manager{logger: logging.NewComponentLogger(logger, "filesystem")}
}

// RootDrives lists the top-level locations a viewer can browse.
func (m *Manager) RootDrives() []Entry {
	var entries []Entry
	for _, root := range rootPaths() {
		info, err := os.Stat(root.path)
		if err != nil || !info.IsDir() {
			continue
		}
		entry := m.entryFor(root.path, info)
		entry.Name = root.name
		entry.IsHidden = false
		entry.CanWrite = !root.readOnly
		entries = append(entries, entry)
	}
	return entries
}

// CreateDirectory creates path. The parent must already exist.
func (m *Manager) CreateDirectory(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", faults.Wrap(faults.ErrValidation, "filesystem", "create directory", "directory path cannot be empty", nil)
	}
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return "", faults.Wrap(faults.ErrValidation, "filesystem", "create directory", "directory already exists", nil)
		}
		return "", faults.Wrap(faults.ErrValidation, "filesystem", "create directory", "a file with the same name already exists", nil)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", classify("create directory", err)
	}
	m.logger.Info("directory created",
		logging.String("path", path),
		logging.String(logging.FieldEventType, "directory_created"),
	)
	return path, nil
}

// DeleteEntry removes a file, or a directory and everything below it.
func (m *Manager) DeleteEntry(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", classify("delete entry", err)
	}
	if info.IsDir() {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return "", classify("delete entry", err)
	}
	m.logger.Info("file system entry deleted",
		logging.String("path", path),
		logging.Bool("directory", info.IsDir()),
		logging.String(logging.FieldEventType, "entry_deleted"),
	)
	return path, nil
}

// FileInfo describes a single entry.
func (m *Manager) FileInfo(path string) (Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, classify("file info", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return m.entryFor(abs, info), nil
}

// DirectoryContents emits the directories and then the files in dir, each
// group sorted by name. Entries that cannot be read are skipped.
func (m *Manager) DirectoryContents(ctx context.Context, dir string, emit func(Entry) error) error {
	return m.walk(ctx, dir, false, emit)
}

// Subdirectories emits only the directories in dir.
func (m *Manager) Subdirectories(ctx context.Context, dir string, emit func(Entry) error) error {
	return m.walk(ctx, dir, true, emit)
}

func (m *Manager) walk(ctx context.Context, dir string, dirsOnly bool, emit func(Entry) error) error {
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("directory does not exist",
				logging.String("path", dir),
				logging.String(logging.FieldEventType, "directory_missing"),
				logging.String(logging.FieldImpact, "listing is empty"),
			)
		}
		return classify("list directory", err)
	}

	var dirs, files []Entry
	for _, item := range items {
		full := filepath.Join(dir, item.Name())
		info, err := os.Stat(full)
		if err != nil {
			m.logger.Debug("skipping unreadable entry", logging.String("path", full), logging.Error(err))
			continue
		}
		entry := m.entryFor(full, info)
		if entry.IsDirectory {
			dirs = append(dirs, entry)
		} else if !dirsOnly {
			files = append(files, entry)
		}
	}
	sortByName(dirs)
	sortByName(files)

	for _, entry := range append(dirs, files...) {
		if err := ctx.Err(); err != nil {
			return faults.FromContext("filesystem", "list directory", err)
		}
		if err := emit(entry); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) entryFor(path string, info fs.FileInfo) Entry {
	entry := Entry{
		Name:         info.Name(),
		FullPath:     path,
		IsDirectory:  info.IsDir(),
		LastModified: info.ModTime().UTC(),
		IsHidden:     isHidden(info),
		CanRead:      info.Mode().Perm()&0o444 != 0,
		CanWrite:     info.Mode().Perm()&0o222 != 0,
	}
	if entry.IsDirectory {
		entry.HasSubfolders = hasSubdirectories(path)
	} else {
		entry.Size = info.Size()
	}
	return entry
}

func hasSubdirectories(path string) bool {
	dir, err := os.Open(path)
	if err != nil {
		return false
	}
	defer dir.Close()
	for {
		batch, err := dir.ReadDir(64)
		for _, item := range batch {
			if item.IsDir() {
				return true
			}
			if item.Type()&fs.ModeSymlink != 0 {
				if info, err := os.Stat(filepath.Join(path, item.Name())); err == nil && info.IsDir() {
					return true
				}
			}
		}
		if err != nil {
			return false
		}
	}
}

func sortByName(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

func classify(operation string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return faults.Wrap(faults.ErrNotFound, "filesystem", operation, "path does not exist", err)
	case errors.Is(err, fs.ErrPermission):
		return faults.Wrap(faults.ErrValidation, "filesystem", operation, "permission denied", err)
	default:
		return faults.Wrap(faults.ErrUnexpected, "filesystem", operation, "", err)
	}
}
