package message

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/rescp17/grillo/internal/util"
)

// FileNameSeparator ends the file name in a file payload.
var FileNameSeparator = []byte("<NAME>")

var ErrMissingFileName = errors.New("file payload has no name")

// File is the content of a file message.
type File struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Contents []byte `json:"-"`
}

// NewFile describes contents under name. Only the base name is kept.
func NewFile(name string, contents []byte) File {
	sum := sha256.Sum256(contents)
	return File{
		Name:     filepath.Base(name),
		Size:     int64(len(contents)),
		MimeType: mimetype.Detect(contents).String(),
		Checksum: hex.EncodeToString(sum[:]),
		Contents: contents,
	}
}

// ReadFile loads the file at path.
func ReadFile(path string) (File, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return NewFile(path, contents), nil
}

// Fits reports whether a file called name of size bytes fits in a message
// of at most maxMessageSize bytes.
func Fits(name string, size int64, maxMessageSize int) bool {
	overhead := 1 + len(filepath.Base(name)) + len(FileNameSeparator)
	return size+int64(overhead) <= int64(maxMessageSize)
}

// EncodeFile frames f as a file message: name, separator, contents.
func EncodeFile(f File) []byte {
	payload := make([]byte, 0, len(f.Name)+len(FileNameSeparator)+len(f.Contents))
	payload = append(payload, f.Name...)
	payload = append(payload, FileNameSeparator...)
	payload = append(payload, f.Contents...)
	return Encode(KindFile, payload)
}

// DecodeFile reads a file payload. The name ends at the first separator;
// the contents may contain the separator themselves.
func DecodeFile(payload []byte) (File, error) {
	name, contents, found := bytes.Cut(payload, FileNameSeparator)
	if !found {
		return File{}, fmt.Errorf("no %s separator: %w", FileNameSeparator, ErrMissingFileName)
	}
	base := filepath.Base(string(name))
	if len(name) == 0 || base == "." || base == ".." || base == string(filepath.Separator) {
		return File{}, ErrMissingFileName
	}
	return NewFile(base, contents), nil
}

// Save writes f into dir without overwriting anything: when the name is
// taken the file is saved as 1_name, 2_name and so on.
func Save(dir string, f File) (string, error) {
	if err := util.EnsureDirectory(dir); err != nil {
		return "", fmt.Errorf("failed to prepare %s: %w", dir, err)
	}
	path, err := util.UniquePath(dir, f.Name)
	if err != nil {
		return "", err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("fail to close file", "path", path, "error", err.Error())
		}
	}()

	if _, err := file.Write(f.Contents); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
