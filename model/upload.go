package model

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"cryptopatterns-api/db"
)

const MaxChartImageSize = 5 << 20 // 5 MB

var (
	ErrImageTooLarge = errors.Errorf("image exceeds the %d MB limit", MaxChartImageSize>>20)
	ErrNotAnImage    = errors.New("only image uploads are accepted")
)

// Upload is the metadata record accompanying a stored chart image. The
// binary itself lives on disk under the upload directory; orphaned files are
// acceptable when their pattern is deleted.
type Upload struct {
	gorm.Model
	OriginalName string `json:"original_name"`
	Path         string `json:"path"`
	Type         string `json:"type"`
	Size         int64  `json:"size"`
}

func init() {
	db.Migrate(&Upload{})
}

// SaveChartImage validates and stores an uploaded chart image, returning its
// metadata record. Validation failures are hard errors and happen before any
// store mutation; there is no simulated fallback URL.
func SaveChartImage(file multipart.File, header *multipart.FileHeader, dir string) (Upload, error) {

	var upload Upload

	if header.Size > MaxChartImageSize {
		return upload, ErrImageTooLarge
	}

	mime := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		return upload, ErrNotAnImage
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return upload, errors.Wrap(err, "creating upload directory")
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	name := fmt.Sprintf("chart-%s-%s%s", time.Now().Format("20060102"), uuid.New().String(), ext)

	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return upload, errors.Wrap(err, "creating image file")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return upload, errors.Wrap(err, "writing image file")
	}

	upload = Upload{
		OriginalName: header.Filename,
		Path:         "/uploads/" + name,
		Type:         mime,
		Size:         header.Size,
	}

	if tx := db.Resolve().Create(&upload); tx.Error != nil {
		return upload, errors.Wrap(tx.Error, "recording upload")
	}

	return upload, nil
}
