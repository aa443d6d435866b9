package utils

import (
	"crypto/rand"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNoFile       = errors.New("no file uploaded")
	ErrFileTooLarge = errors.New("file size exceeds limit")
	ErrNotAnImage   = errors.New("uploaded file is not an image")
)

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	ValidateImageFile(file *multipart.FileHeader) error
	ReadFile(file *multipart.FileHeader) ([]byte, error)
}

type utils struct {
	maxFileSize int64
	mu          sync.Mutex
	entropy     io.Reader
}

func New() IUtils {
	return NewWithLimit(20 * 1024 * 1024)
}

func NewWithLimit(maxFileSize int64) IUtils {
	return &utils{
		maxFileSize: maxFileSize,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), u.entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// ValidateImageFile accepts image/* uploads and untyped binary uploads.
func (u *utils) ValidateImageFile(file *multipart.FileHeader) error {
	if file == nil {
		return ErrNoFile
	}

	if u.maxFileSize > 0 && file.Size > u.maxFileSize {
		return ErrFileTooLarge
	}

	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "application/octet-stream") {
		return ErrNotAnImage
	}

	return nil
}

func (u *utils) ReadFile(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return io.ReadAll(src)
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
