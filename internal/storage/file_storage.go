package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrFileTooLarge is returned when an upload exceeds its size limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrExtensionNotAllowed is returned for extensions outside the allow-list.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = errors.New("empty file")
)

// FileStorage defines the interface for file storage operations
type FileStorage interface {
	// Save writes content under relPath (relative to the base directory),
	// creating parent directories. At most limit bytes are accepted when
	// limit is positive.
	Save(relPath string, content io.Reader, limit int64) (int64, error)

	// Remove deletes a previously saved file. Missing files are ignored.
	Remove(relPath string) error

	// ValidatePath checks path security (no traversal, within base)
	ValidatePath(fullPath string) error
}

// LocalFileStorage implements FileStorage for local filesystem
type LocalFileStorage struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalFileStorage creates a new LocalFileStorage
func NewLocalFileStorage(baseDir string, logger *zap.Logger) *LocalFileStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalFileStorage{
		baseDir: baseDir,
		logger:  logger,
	}
}

func (s *LocalFileStorage) fullPath(relPath string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(relPath))
}

// Save writes content to baseDir/relPath. A partially written file is removed
// when the limit is exceeded or the copy fails.
func (s *LocalFileStorage) Save(relPath string, content io.Reader, limit int64) (int64, error) {
	fullPath := s.fullPath(relPath)
	if err := s.ValidatePath(fullPath); err != nil {
		return 0, err
	}

	parentDir := filepath.Dir(fullPath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("path", parentDir),
			zap.Error(err))
		return 0, fmt.Errorf("failed to create directories: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	reader := content
	if limit > 0 {
		reader = io.LimitReader(content, limit+1)
	}
	n, copyErr := io.Copy(f, reader)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("failed to write file: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("failed to close file: %w", closeErr)
	case limit > 0 && n > limit:
		err = fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, limit)
	}
	if err != nil {
		_ = os.Remove(fullPath)
		s.logger.Warn("Failed to save file", zap.String("path", fullPath), zap.Error(err))
		return 0, err
	}

	s.logger.Debug("File saved successfully",
		zap.String("path", fullPath),
		zap.Int64("size", n))
	return n, nil
}

func (s *LocalFileStorage) Remove(relPath string) error {
	fullPath := s.fullPath(relPath)
	if err := s.ValidatePath(fullPath); err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// ValidatePath checks that the path is safe and within baseDir
func (s *LocalFileStorage) ValidatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}

	return nil
}

// Policy restricts uploads by extension and size.
type Policy struct {
	Extensions []string
	MaxBytes   int64
}

var (
	// EvidencePolicy applies to files attached by requesters.
	EvidencePolicy = Policy{
		Extensions: []string{".pdf", ".jpg", ".jpeg", ".png", ".heic", ".xlsx", ".xls", ".csv", ".txt", ".doc", ".docx", ".zip"},
		MaxBytes:   20 * 1024 * 1024,
	}
	// FinalDocumentPolicy applies to the document captured at finalization.
	FinalDocumentPolicy = Policy{
		Extensions: []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".png", ".jpg", ".jpeg"},
	}
)

// Check validates a file name and size and returns the lower-cased extension.
func (p Policy) Check(name string, size int64) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	allowed := false
	for _, e := range p.Extensions {
		if e == ext {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("%w: %q", ErrExtensionNotAllowed, ext)
	}
	if size <= 0 {
		return "", ErrEmptyFile
	}
	if p.MaxBytes > 0 && size > p.MaxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size)
	}
	return ext, nil
}

// EvidencePath returns solicitudes/<request>/<random><ext>.
func EvidencePath(requestID uuid.UUID, ext string) string {
	return fmt.Sprintf("solicitudes/%s/%s%s", requestID, uuid.New(), ext)
}

// FinalDocumentPath returns pc/<request>/<yyyyMMddHHmmssfff>_<base><ext>.
func FinalDocumentPath(requestID uuid.UUID, originalName string, at time.Time) string {
	// Browsers on Windows may send a full path with backslashes.
	base := path.Base(strings.ReplaceAll(originalName, "\\", "/"))
	ext := path.Ext(base)
	base = sanitize(strings.TrimSuffix(base, ext))
	ext = strings.ToLower(ext)
	at = at.UTC()
	stamp := fmt.Sprintf("%s%03d", at.Format("20060102150405"), at.Nanosecond()/int(time.Millisecond))
	return fmt.Sprintf("pc/%s/%s_%s%s", requestID, stamp, base, ext)
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}
