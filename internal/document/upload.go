package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type: only PDF, TXT, and MD are allowed")
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = fmt.Errorf("file too large: max size is %dMB", MaxFileSize/1024/1024)
)

// Upload is a file ready to be sent to the ingest endpoint
type Upload struct {
	Filename string
	Data     []byte
	Encoding string
}

// Reader returns a fresh reader over the upload's content
func (u *Upload) Reader() io.Reader {
	return bytes.NewReader(u.Data)
}

// Size returns the number of bytes that will be uploaded
func (u *Upload) Size() int {
	return len(u.Data)
}

// PrepareFile reads and validates a file from disk
func PrepareFile(path string) (*Upload, error) {
	path = cleanDroppedPath(path)
	filename := filepath.Base(path)
	if !IsSupported(filename) {
		return nil, fmt.Errorf("%s: %w", filename, ErrUnsupportedType)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s: %w", filename, ErrFileTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return prepare(filename, data)
}

// PrepareText wraps pasted text as a synthetic .txt file
func PrepareText(text string) (*Upload, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyFile
	}
	filename := fmt.Sprintf("pasted-%s.txt", uuid.NewString()[:8])
	return prepare(filename, []byte(text))
}

func prepare(filename string, data []byte) (*Upload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", filename, ErrEmptyFile)
	}

	up := &Upload{Filename: filename, Data: data, Encoding: "binary"}
	if IsText(filename) {
		up.Data, up.Encoding = ToUTF8(data)
	}

	if len(up.Data) == 0 {
		return nil, fmt.Errorf("%s: %w", filename, ErrEmptyFile)
	}
	if len(up.Data) > MaxFileSize {
		return nil, fmt.Errorf("%s: %w", filename, ErrFileTooLarge)
	}
	return up, nil
}

// cleanDroppedPath strips the quoting terminals add to dragged-in paths
func cleanDroppedPath(path string) string {
	path = strings.TrimSpace(path)
	if len(path) >= 2 {
		if (path[0] == '"' && path[len(path)-1] == '"') || (path[0] == '\'' && path[len(path)-1] == '\'') {
			path = path[1 : len(path)-1]
		}
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return path
}
