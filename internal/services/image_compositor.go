package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"time"

	"tarot_reading_go_backend/internal/models"

	"golang.org/x/image/draw"
)

const (
	compositeCardWidth  = 250
	compositeCardHeight = 400
	compositePadding    = 10
	compositeMaxCards   = 3
	compositeQuality    = 90
	compositesSubdir    = "composites"
)

var compositeBackground = color.RGBA{R: 30, G: 30, B: 50, A: 255}

// CompositeService lays drawn cards side by side on one JPEG.
type CompositeService struct {
	library *CardLibrary
	outDir  string
	now     func() time.Time
}

func NewCompositeService(library *CardLibrary) *CompositeService {
	return &CompositeService{
		library: library,
		outDir:  filepath.Join(library.Dir(), compositesSubdir),
		now:     time.Now,
	}
}

func (s *CompositeService) OutputDir() string {
	return s.outDir
}

func (s *CompositeService) Compose(ctx context.Context, cards []models.Card) (string, error) {
	if len(cards) == 0 {
		return "", errors.New("no cards to compose")
	}
	if len(cards) > compositeMaxCards {
		cards = cards[:compositeMaxCards]
	}

	width := compositeCardWidth*compositeMaxCards + compositePadding*(compositeMaxCards+1)
	height := compositeCardHeight + compositePadding*2
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: compositeBackground}, image.Point{}, draw.Src)

	for i, card := range cards {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		src, err := decodeImageFile(s.library.Resolve(card.Image))
		if err != nil {
			return "", fmt.Errorf("load card %q: %w", card.Name, err)
		}
		x := compositePadding + i*(compositeCardWidth+compositePadding)
		target := image.Rect(x, compositePadding, x+compositeCardWidth, compositePadding+compositeCardHeight)
		draw.CatmullRom.Scale(canvas, target, src, src.Bounds(), draw.Over, nil)
	}

	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		return "", err
	}
	out, name, err := createComposite(s.outDir, s.now().UnixMilli())
	if err != nil {
		return "", err
	}
	defer out.Close()
	if err := jpeg.Encode(out, canvas, &jpeg.Options{Quality: compositeQuality}); err != nil {
		return "", fmt.Errorf("encode composite: %w", err)
	}
	return ImagesWebPrefix + compositesSubdir + "/" + name, nil
}

// createComposite claims composite_<ms>.jpg, or composite_<ms>_<n>.jpg when
// another draw in the same millisecond got there first.
func createComposite(dir string, ms int64) (*os.File, string, error) {
	for n := 0; ; n++ {
		name := fmt.Sprintf("composite_%d.jpg", ms)
		if n > 0 {
			name = fmt.Sprintf("composite_%d_%d.jpg", ms, n)
		}
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, name, nil
	}
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
