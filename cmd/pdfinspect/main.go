package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"tarot_reading_go_backend/cmd/api/config"
	"tarot_reading_go_backend/internal/services"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// pdfinspect validates rendered reading PDFs and dumps their text for review.
// Usage: pdfinspect [-out dir] [session-id ...]
func main() {
	outDir := flag.String("out", "pdf_texts", "directory for extracted text files")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	pdfService := services.NewPDFService(cfg.PDFDir, nil, cfg.PDFFontPath)

	ids := flag.Args()
	if len(ids) == 0 {
		ids, err = storedSessionIDs(cfg.PDFDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.PDFDir).Msg("Failed to list PDFs")
		}
	}
	if len(ids) == 0 {
		log.Info().Str("dir", cfg.PDFDir).Msg("No PDFs to inspect")
		return
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatal().Err(err).Str("dir", *outDir).Msg("Failed to create output directory")
	}

	failed := 0
	for _, id := range ids {
		text, err := pdfService.Inspect(id)
		if err != nil {
			log.Error().Err(err).Str("session_id", id).Msg("Invalid PDF")
			failed++
			continue
		}
		outFile := filepath.Join(*outDir, id+".txt")
		if err := os.WriteFile(outFile, []byte(text), 0644); err != nil {
			log.Error().Err(err).Str("file", outFile).Msg("Failed to write text")
			failed++
			continue
		}
		log.Info().Str("session_id", id).Int("chars", len(text)).Str("file", outFile).Msg("PDF inspected")
	}

	if failed > 0 {
		log.Error().Int("failed", failed).Int("total", len(ids)).Msg("Inspection finished with errors")
		os.Exit(1)
	}
	log.Info().Int("total", len(ids)).Msg("Inspection finished")
}

func storedSessionIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pdf") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".pdf"))
	}
	return ids, nil
}
