// Package backupfile keeps a wallet backup document on disk. Updates are
// staged in a temporary file and swapped in with an atomic rename, and the
// previous document is archived first unless archiving is disabled.
package backupfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lightningnetwork/walletbackup/backup"
	"github.com/lightningnetwork/walletbackup/migration"
)

const (
	// DefaultBackupFileName is the default name of the wallet backup file.
	DefaultBackupFileName = "wallet.backup.json"

	// TempFileSuffix is appended to the backup file name to form the name
	// of the temporary file that new documents are staged in.
	TempFileSuffix = ".tmp-dont-use"

	// DefaultArchiveDirName is the name of the directory, next to the
	// backup file, that old documents are archived in.
	DefaultArchiveDirName = "backup-archives"

	// archiveTimeFormat is the layout of the timestamp appended to the
	// names of archived documents.
	archiveTimeFormat = "2006-01-02-15-04-05"
)

var (
	// ErrNoBackupFileExists is returned if the file name is not set.
	ErrNoBackupFileExists = errors.New("backup file name not set")
)

// File is a backup document on disk. It relies on the atomic rename that
// most widely used file systems provide. A File doesn't lock against other
// processes.
type File struct {
	// fileName is the path of the backup document.
	fileName string

	// tempFileName is the path new documents are staged at before being
	// renamed to fileName.
	tempFileName string

	// archiveDir is the directory old documents are copied to.
	archiveDir string

	// noArchive indicates whether old documents should be overwritten
	// rather than archived.
	noArchive bool

	// now returns the time used to name archived documents.
	now func() time.Time

	// mu serializes updates of the document.
	mu sync.Mutex
}

// New returns a File for the document at fileName.
func New(fileName string, noArchive bool) *File {
	dir := filepath.Dir(fileName)

	return &File{
		fileName:     fileName,
		tempFileName: fileName + TempFileSuffix,
		archiveDir:   filepath.Join(dir, DefaultArchiveDirName),
		noArchive:    noArchive,
		now:          time.Now,
	}
}

// Path returns the path of the backup document.
func (f *File) Path() string {
	return f.fileName
}

// ArchiveDir returns the directory old documents are archived in.
func (f *File) ArchiveDir() string {
	return f.archiveDir
}

// Exists returns true if the backup document is present on disk.
func (f *File) Exists() bool {
	return fileExists(f.fileName)
}

// UpdateAndSwap writes b as a document of the latest version.
func (f *File) UpdateAndSwap(b *backup.Backup) error {
	return f.UpdateAndSwapVersion(b, migration.LatestVersion())
}

// UpdateAndSwapVersion writes b as a document of the given version to a
// temporary file, archives the current document and then atomically renames
// the temporary file over it.
func (f *File) UpdateAndSwapVersion(b *backup.Backup, version uint32) error {
	if f.fileName == "" {
		return ErrNoBackupFileExists
	}

	if err := b.Validate(); err != nil {
		return fmt.Errorf("refusing to write invalid backup: %w", err)
	}

	doc, err := migration.EncodeIndent(b, version)
	if err != nil {
		return err
	}
	doc = append(doc, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	log.Infof("Updating backup file at %v", f.fileName)

	// A temp file left over from an interrupted update is stale.
	if fileExists(f.tempFileName) {
		log.Infof("Found old temp backup @ %v, removing before swap",
			f.tempFileName)

		if err := os.Remove(f.tempFileName); err != nil {
			return fmt.Errorf("unable to remove temp backup "+
				"file: %w", err)
		}
	}

	tempFile, err := os.OpenFile(
		f.tempFileName, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600,
	)
	if err != nil {
		return fmt.Errorf("unable to create temp file: %w", err)
	}
	defer os.Remove(f.tempFileName)

	if _, err := tempFile.Write(doc); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("unable to write backup to temp file: %w",
			err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("unable to sync temp file: %w", err)
	}

	// Some OSes can't rename a file that is still open.
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("unable to close file: %w", err)
	}

	if err := f.createArchiveFile(); err != nil {
		return fmt.Errorf("unable to archive old backup file: %w", err)
	}

	log.Debugf("Swapping temp backup file %v to %v", f.tempFileName,
		f.fileName)

	return os.Rename(f.tempFileName, f.fileName)
}

// Extract reads the document, upgrading it to the latest version if needed.
func (f *File) Extract() (*backup.Backup, error) {
	data, err := f.read()
	if err != nil {
		return nil, err
	}

	return migration.Load(data)
}

// ExtractVersion reports the version of the document on disk.
func (f *File) ExtractVersion() (uint32, error) {
	data, err := f.read()
	if err != nil {
		return 0, err
	}

	return migration.DetectVersion(data)
}

func (f *File) read() ([]byte, error) {
	if f.fileName == "" {
		return nil, ErrNoBackupFileExists
	}

	return os.ReadFile(f.fileName)
}

// createArchiveFile copies the current document to a timestamped file in the
// archive directory.
func (f *File) createArchiveFile() error {
	if f.noArchive {
		log.Debug("Skipping archive of old backup file as configured")
		return nil
	}

	if !fileExists(f.fileName) {
		log.Debug("No old backup file to archive")
		return nil
	}

	log.Infof("Archiving old backup to %v", f.archiveDir)

	archiveFileName := fmt.Sprintf("%s-%s", filepath.Base(f.fileName),
		f.now().Format(archiveTimeFormat))
	archiveFilePath := filepath.Join(f.archiveDir, archiveFileName)

	oldFile, err := os.Open(f.fileName)
	if err != nil {
		return fmt.Errorf("unable to open old backup file: %w", err)
	}
	defer func() {
		if err := oldFile.Close(); err != nil {
			log.Errorf("unable to close old backup file: %v", err)
		}
	}()

	const archiveDirPermissions = 0o700
	if err := os.MkdirAll(f.archiveDir, archiveDirPermissions); err != nil {
		return fmt.Errorf("unable to create archive directory: %w", err)
	}

	archiveFile, err := os.Create(archiveFilePath)
	if err != nil {
		return fmt.Errorf("unable to create archive file: %w", err)
	}
	defer func() {
		if err := archiveFile.Close(); err != nil {
			log.Errorf("unable to close archive file: %v", err)
		}
	}()

	if _, err := io.Copy(archiveFile, oldFile); err != nil {
		return fmt.Errorf("unable to copy to archive file: %w", err)
	}

	if err := archiveFile.Sync(); err != nil {
		return fmt.Errorf("unable to sync archive file: %w", err)
	}

	return nil
}

func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}
