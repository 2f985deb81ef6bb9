package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	ImagesWebPrefix  = "/images/"
	MaxCardImageSize = 5 << 20
)

var (
	ErrInvalidCardFile = errors.New("chỉ chấp nhận file ảnh JPEG, JPG hoặc PNG")
	ErrCardTooLarge    = errors.New("file ảnh vượt quá 5MB")
	ErrInvalidCardName = errors.New("tên file không hợp lệ")
	ErrCardNotFound    = errors.New("file ảnh không tồn tại")
)

var allowedCardTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

type CardImage struct {
	Filename    string `json:"filename"`
	DisplayName string `json:"displayName"`
	Path        string `json:"path"`
}

// CardLibrary manages the directory of card artwork served under /images/.
type CardLibrary struct {
	dir   string
	now   func() time.Time
	title cases.Caser
}

func NewCardLibrary(dir string) *CardLibrary {
	return &CardLibrary{
		dir:   dir,
		now:   time.Now,
		title: cases.Title(language.Und, cases.NoLower),
	}
}

func (l *CardLibrary) Dir() string {
	return l.dir
}

func (l *CardLibrary) List() ([]CardImage, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	cards := []CardImage{}
	for _, entry := range entries {
		if entry.IsDir() || !isCardImage(entry.Name()) {
			continue
		}
		cards = append(cards, CardImage{
			Filename:    entry.Name(),
			DisplayName: l.DisplayName(entry.Name()),
			Path:        ImagesWebPrefix + entry.Name(),
		})
	}
	return cards, nil
}

// DisplayName turns "the_fool.jpg" into "The Fool".
func (l *CardLibrary) DisplayName(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	return l.title.String(strings.ReplaceAll(base, "_", " "))
}

func (l *CardLibrary) ValidateUpload(contentType string, size int64) error {
	if !allowedCardTypes[strings.ToLower(contentType)] {
		return ErrInvalidCardFile
	}
	if size > MaxCardImageSize {
		return ErrCardTooLarge
	}
	return nil
}

// Save stores an uploaded card under a normalized name, adding a
// _<unix millis> suffix when the name is taken. It returns the stored name.
func (l *CardLibrary) Save(originalName string, content io.Reader) (string, error) {
	name := strings.ReplaceAll(strings.ToLower(filepath.Base(originalName)), " ", "_")
	if !isCardImage(name) {
		return "", ErrInvalidCardFile
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(l.dir, name)); err == nil {
		ext := filepath.Ext(name)
		name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), l.now().UnixMilli(), ext)
	}

	dst, err := os.Create(filepath.Join(l.dir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, io.LimitReader(content, MaxCardImageSize+1)); err != nil {
		return "", err
	}
	return name, nil
}

func (l *CardLibrary) Delete(filename string) error {
	if filename == "" || strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		return ErrInvalidCardName
	}
	err := os.Remove(filepath.Join(l.dir, filename))
	if errors.Is(err, os.ErrNotExist) {
		return ErrCardNotFound
	}
	return err
}

// Resolve maps a web path such as /images/the_fool.jpg to its file.
func (l *CardLibrary) Resolve(webPath string) string {
	rel := strings.TrimPrefix(webPath, ImagesWebPrefix)
	return filepath.Join(l.dir, filepath.FromSlash(rel))
}

func isCardImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
