package services

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCardImage writes a solid 50x80 image, encoded by the file extension.
func writeCardImage(t *testing.T, dir, name string, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 50, 80))
	for x := 0; x < 50; x++ {
		for y := 0; y < 80; y++ {
			img.Set(x, y, c)
		}
	}
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	if strings.HasSuffix(name, ".png") {
		require.NoError(t, png.Encode(f, img))
	} else {
		require.NoError(t, jpeg.Encode(f, img, nil))
	}
	return path
}

func TestCardLibrary_List(t *testing.T) {
	dir := t.TempDir()
	writeCardImage(t, dir, "the_fool.jpg", color.White)
	writeCardImage(t, dir, "wheel_of_fortune.png", color.White)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "composites"), 0o755))

	cards, err := NewCardLibrary(dir).List()

	require.NoError(t, err)
	assert.Equal(t, []CardImage{
		{Filename: "the_fool.jpg", DisplayName: "The Fool", Path: "/images/the_fool.jpg"},
		{Filename: "wheel_of_fortune.png", DisplayName: "Wheel Of Fortune", Path: "/images/wheel_of_fortune.png"},
	}, cards)
}

func TestCardLibrary_ValidateUpload(t *testing.T) {
	library := NewCardLibrary(t.TempDir())

	assert.NoError(t, library.ValidateUpload("image/png", 1024))
	assert.NoError(t, library.ValidateUpload("image/JPEG", MaxCardImageSize))
	assert.ErrorIs(t, library.ValidateUpload("image/gif", 1024), ErrInvalidCardFile)
	assert.ErrorIs(t, library.ValidateUpload("image/png", MaxCardImageSize+1), ErrCardTooLarge)
}

func TestCardLibrary_Save(t *testing.T) {
	t.Run("Normalizes the file name", func(t *testing.T) {
		dir := t.TempDir()
		library := NewCardLibrary(dir)

		name, err := library.Save("The Tower.PNG", strings.NewReader("data"))

		require.NoError(t, err)
		assert.Equal(t, "the_tower.png", name)
		assert.FileExists(t, filepath.Join(dir, name))
	})

	t.Run("Suffixes duplicates with the upload time", func(t *testing.T) {
		dir := t.TempDir()
		library := NewCardLibrary(dir)
		library.now = func() time.Time { return time.UnixMilli(1700000000123) }
		_, err := library.Save("star.jpg", strings.NewReader("first"))
		require.NoError(t, err)

		name, err := library.Save("star.jpg", strings.NewReader("second"))

		require.NoError(t, err)
		assert.Equal(t, "star_1700000000123.jpg", name)
		first, _ := os.ReadFile(filepath.Join(dir, "star.jpg"))
		assert.Equal(t, "first", string(first))
	})

	t.Run("Rejects other extensions", func(t *testing.T) {
		_, err := NewCardLibrary(t.TempDir()).Save("card.gif", strings.NewReader("data"))
		assert.ErrorIs(t, err, ErrInvalidCardFile)
	})
}

func TestCardLibrary_Delete(t *testing.T) {
	dir := t.TempDir()
	library := NewCardLibrary(dir)
	writeCardImage(t, dir, "the_moon.jpg", color.White)

	for _, name := range []string{"", "../db.json", "a/b.jpg", `a\b.jpg`} {
		assert.ErrorIs(t, library.Delete(name), ErrInvalidCardName, name)
	}
	assert.ErrorIs(t, library.Delete("missing.jpg"), ErrCardNotFound)

	require.NoError(t, library.Delete("the_moon.jpg"))
	assert.NoFileExists(t, filepath.Join(dir, "the_moon.jpg"))
}

func TestCardLibrary_Resolve(t *testing.T) {
	library := NewCardLibrary("/srv/images")
	assert.Equal(t, filepath.Join("/srv/images", "composites", "c.jpg"), library.Resolve("/images/composites/c.jpg"))
}
