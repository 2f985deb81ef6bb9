package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tarot_reading_go_backend/internal/models"

	"github.com/jung-kurt/gofpdf"
	pdfreader "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	pdfMargin      = 50
	pdfImageWidth  = 500
	pdfImageHeight = 300
	pdfDateLayout  = "02/01/2006"
	pdfUTF8Family  = "NotoSans"
	pdfCoreFamily  = "Helvetica"

	pdfTitle          = "KẾT QUẢ ĐỌC BÀI TAROT"
	pdfNoImage        = "[Không tìm thấy ảnh lá bài]"
	pdfInfoHeading    = "Thông tin:"
	pdfReadingHeading = "Kết quả đọc bài:"
	pdfMissingInfo    = "Không có thông tin"
	pdfFooterPrefix   = "PDF được tạo tự động từ hệ thống đọc bài Tarot - "
)

// PDFService renders paid readings into <dir>/<sessionID>.pdf.
type PDFService struct {
	dir      string
	images   *CardLibrary
	fontPath string
	md       goldmark.Markdown
	now      func() time.Time
	logger   zerolog.Logger
}

func NewPDFService(dir string, images *CardLibrary, fontPath string) *PDFService {
	return &PDFService{
		dir:      dir,
		images:   images,
		fontPath: fontPath,
		md:       goldmark.New(),
		now:      time.Now,
		logger:   log.With().Str("component", "pdf_service").Logger(),
	}
}

func (s *PDFService) Dir() string {
	return s.dir
}

func (s *PDFService) FileName(sessionID string) string {
	return sessionID + ".pdf"
}

func (s *PDFService) Path(sessionID string) string {
	return filepath.Join(s.dir, s.FileName(sessionID))
}

func (s *PDFService) Exists(sessionID string) bool {
	info, err := os.Stat(s.Path(sessionID))
	return err == nil && !info.IsDir()
}

func (s *PDFService) Remove(sessionID string) error {
	err := os.Remove(s.Path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *PDFService) Render(ctx context.Context, session models.Session) (string, error) {
	if session.ID == "" {
		return "", ErrMissingSessionID
	}
	if !session.HasReading() {
		return "", ErrNoReading
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	w := s.newWriter(pdf)

	pdf.AddPage()
	pageWidth, _ := pdf.GetPageSize()

	w.font("B", 24)
	pdf.CellFormat(0, 30, w.tr(pdfTitle), "", 1, "C", false, 0, "")
	pdf.Ln(20)

	s.writeComposite(pdf, w, session.CompositeImage, pageWidth)

	w.font("B", 14)
	pdf.CellFormat(0, 20, w.tr(pdfInfoHeading), "", 1, "L", false, 0, "")
	w.font("", 12)
	readDate := pdfMissingInfo
	if !session.Timestamp.IsZero() {
		readDate = session.Timestamp.Local().Format(pdfDateLayout)
	}
	for _, line := range []string{
		"Họ tên: " + orMissing(session.Name),
		"Ngày sinh: " + orMissing(session.DOB),
		"Ngày đọc bài: " + readDate,
	} {
		pdf.CellFormat(0, 18, w.tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(15)

	w.font("B", 14)
	pdf.CellFormat(0, 20, w.tr(pdfReadingHeading), "", 1, "L", false, 0, "")
	pdf.Ln(5)
	for _, block := range markdownBlocks(s.md, *session.GPTResult) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if block.level > 0 {
			w.font("B", headingSize(block.level))
			pdf.MultiCell(0, 20, w.tr(block.text), "", "L", false)
			pdf.Ln(2)
			continue
		}
		w.font("", 12)
		pdf.MultiCell(0, 16, w.tr(block.text), "", "L", false)
		pdf.Ln(6)
	}

	pdf.Ln(20)
	w.font("", 10)
	pdf.CellFormat(0, 14, w.tr(pdfFooterPrefix+s.now().Format(pdfDateLayout)), "", 1, "C", false, 0, "")

	path := s.Path(session.ID)
	tmp, err := os.CreateTemp(s.dir, s.FileName(session.ID)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if err := pdf.OutputAndClose(tmp); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	if err := validatePDF(tmp.Name()); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	s.logger.Info().Str("session_id", session.ID).Str("path", path).Msg("PDF rendered")
	return path, nil
}

func (s *PDFService) writeComposite(pdf *gofpdf.Fpdf, w pdfWriter, webPath string, pageWidth float64) {
	imagePath := ""
	if webPath != "" && s.images != nil {
		imagePath = s.images.Resolve(webPath)
	}
	if imagePath == "" || !fileExists(imagePath) {
		w.font("", 12)
		pdf.CellFormat(0, 18, w.tr(pdfNoImage), "", 1, "C", false, 0, "")
		pdf.Ln(15)
		return
	}

	opts := gofpdf.ImageOptions{ReadDpi: false}
	info := pdf.RegisterImageOptions(imagePath, opts)
	if info == nil || pdf.Err() {
		s.logger.Warn().Err(pdf.Error()).Str("image", imagePath).Msg("Could not embed composite image")
		pdf.ClearError()
		w.font("", 12)
		pdf.CellFormat(0, 18, w.tr(pdfNoImage), "", 1, "C", false, 0, "")
		pdf.Ln(15)
		return
	}
	scale := min(pdfImageWidth/info.Width(), pdfImageHeight/info.Height())
	width, height := info.Width()*scale, info.Height()*scale
	y := pdf.GetY()
	pdf.ImageOptions(imagePath, (pageWidth-width)/2, y, width, height, false, opts, 0, "")
	pdf.SetY(y + height + 20)
}

// pdfWriter picks the configured TTF when available and otherwise a core
// font whose text goes through a cp1252 translator.
type pdfWriter struct {
	pdf    *gofpdf.Fpdf
	family string
	tr     func(string) string
}

func (s *PDFService) newWriter(pdf *gofpdf.Fpdf) pdfWriter {
	if s.fontPath != "" && fileExists(s.fontPath) {
		pdf.AddUTF8Font(pdfUTF8Family, "", s.fontPath)
		pdf.AddUTF8Font(pdfUTF8Family, "B", s.fontPath)
		if !pdf.Err() {
			return pdfWriter{pdf: pdf, family: pdfUTF8Family, tr: func(str string) string { return str }}
		}
		s.logger.Warn().Err(pdf.Error()).Str("font", s.fontPath).Msg("Falling back to core PDF font")
		pdf.ClearError()
	}
	return pdfWriter{pdf: pdf, family: pdfCoreFamily, tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

func (w pdfWriter) font(style string, size float64) {
	w.pdf.SetFont(w.family, style, size)
}

func headingSize(level int) float64 {
	switch level {
	case 1:
		return 16
	case 2:
		return 14
	default:
		return 13
	}
}

func validatePDF(path string) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return fmt.Errorf("validate pdf: %w", err)
	}
	return nil
}

// Inspect validates the stored PDF of a session and returns its text.
func (s *PDFService) Inspect(sessionID string) (string, error) {
	path := s.Path(sessionID)
	if err := validatePDF(path); err != nil {
		return "", err
	}
	return ExtractPDFText(path)
}

func ExtractPDFText(path string) (string, error) {
	f, r, err := pdfreader.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type pdfBlock struct {
	level int
	text  string
}

// markdownBlocks flattens a markdown reading into headings and paragraphs.
// Inline emphasis is dropped; list items become bullet paragraphs.
func markdownBlocks(md goldmark.Markdown, reading string) []pdfBlock {
	source := []byte(reading)
	doc := md.Parser().Parse(text.NewReader(source))

	var blocks []pdfBlock
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			blocks = append(blocks, pdfBlock{level: n.Level, text: inlineText(n, source)})
		case *ast.List:
			index := n.Start
			for item := n.FirstChild(); item != nil; item = item.NextSibling() {
				marker := "• "
				if n.IsOrdered() {
					marker = fmt.Sprintf("%d. ", index)
					index++
				}
				blocks = append(blocks, pdfBlock{text: marker + inlineText(item, source)})
			}
		case *ast.ThematicBreak:
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			blocks = append(blocks, pdfBlock{text: strings.TrimRight(string(linesOf(n, source)), "\n")})
		default:
			if t := inlineText(n, source); t != "" {
				blocks = append(blocks, pdfBlock{text: t})
			}
		}
	}
	return blocks
}

func inlineText(node ast.Node, source []byte) string {
	var b strings.Builder
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if _, ok := n.(*ast.Paragraph); ok && n != node && n.NextSibling() != nil {
				b.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			switch {
			case t.HardLineBreak():
				b.WriteString("\n")
			case t.SoftLineBreak():
				b.WriteString(" ")
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func linesOf(node ast.Node, source []byte) []byte {
	var out []byte
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		out = append(out, seg.Value(source)...)
	}
	return out
}

func orMissing(value string) string {
	if strings.TrimSpace(value) == "" {
		return pdfMissingInfo
	}
	return value
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
