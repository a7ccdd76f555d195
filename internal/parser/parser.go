// Package parser turns raw document files into overlapping text chunks
// with provenance metadata, ready for embedding.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"hmo-buddy/internal/models"
)

// Processor splits documents into chunks of at most chunkSize characters,
// adjacent chunks sharing chunkOverlap characters.
type Processor struct {
	chunkSize    int
	chunkOverlap int
}

// New creates a Processor, enforcing 0 <= chunkOverlap < chunkSize.
func New(chunkSize, chunkOverlap int) (*Processor, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInvalidConfig, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d",
			models.ErrInvalidConfig, chunkOverlap, chunkSize)
	}
	return &Processor{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

var supportedExtensions = map[string]struct{}{
	".txt":      {},
	".md":       {},
	".markdown": {},
	".pdf":      {},
	".docx":     {},
	".xlsx":     {},
	".ods":      {},
}

// Supported reports whether a parser exists for the file's extension.
func Supported(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ProcessDocument loads the file at path and splits it into chunks whose
// metadata records source name, chunk ordinal, and total chunk count.
func (p *Processor) ProcessDocument(path string) ([]models.Chunk, error) {
	text, err := p.loadDocument(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", models.ErrEmptyDocument, path)
	}

	pieces := p.ChunkText(text)
	source := filepath.Base(path)
	chunks := make([]models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, models.Chunk{
			Content: piece,
			Source:  source,
			Index:   i,
			Total:   len(pieces),
		})
	}
	log.Info().Str("source", source).Int("chunks", len(chunks)).Msg("processed document")
	return chunks, nil
}

// SkippedFile records one file that failed during a directory batch.
type SkippedFile struct {
	Name string
	Err  error
}

// ProcessDirectory processes every supported file directly under dir
// (non-recursive). A single file's failure is recorded and skipped, never
// fatal to the batch.
func (p *Processor) ProcessDirectory(dir string) ([]models.Chunk, []SkippedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrRead, err)
	}

	var all []models.Chunk
	var skipped []SkippedFile
	for _, entry := range entries {
		if entry.IsDir() || !Supported(entry.Name()) {
			continue
		}
		chunks, err := p.ProcessDocument(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping file")
			skipped = append(skipped, SkippedFile{Name: entry.Name(), Err: err})
			continue
		}
		all = append(all, chunks...)
	}
	return all, skipped, nil
}

func (p *Processor) loadDocument(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md", ".markdown":
		return loadTextFile(path)
	case ".pdf":
		return loadPDF(path)
	case ".docx":
		return loadDOCX(path)
	case ".xlsx":
		return loadXLSX(path)
	case ".ods":
		return loadODS(path)
	default:
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, ext)
	}
}

func loadTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRead, err)
	}
	return string(data), nil
}

// loadPDF extracts plain text page by page, keeping page boundaries as
// newlines in the concatenated result.
func loadPDF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRead, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRead, err)
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRead, err)
	}

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", models.ErrRead, i, err)
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}
	return text.String(), nil
}

func loadDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRead, err)
	}
	defer r.Close()
	// GetContent returns the raw document XML; pull the text runs out.
	return extractXMLText(r.Editable().GetContent(), "<w:t", "</w:t>"), nil
}

func loadXLSX(path string) (string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRead, err)
	}
	var text strings.Builder
	for _, sheet := range f.Sheets {
		text.WriteString("Sheet: " + sheet.Name + "\n")
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

func loadODS(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRead, err)
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		text.WriteString("Sheet: " + sheetName + "\n")
		for _, row := range rows {
			for _, cell := range row {
				text.WriteString(cell + "\t")
			}
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

// extractXMLText collects the character data of every element opened by
// openTag, e.g. the <w:t> text runs of a DOCX body.
func extractXMLText(content, openTag, closeTag string) string {
	var text strings.Builder
	rest := content
	for {
		start := strings.Index(rest, openTag)
		if start < 0 {
			break
		}
		rest = rest[start+len(openTag):]
		gt := strings.Index(rest, ">")
		if gt < 0 {
			break
		}
		rest = rest[gt+1:]
		end := strings.Index(rest, closeTag)
		if end < 0 {
			break
		}
		text.WriteString(rest[:end])
		text.WriteString(" ")
		rest = rest[end+len(closeTag):]
	}
	return text.String()
}

// ChunkText splits text into windows of at most chunkSize characters, each
// subsequent window starting chunkOverlap characters before the previous
// cut. Cuts prefer a sentence end or space in the trailing half of the
// window; otherwise the cut is hard at chunkSize.
func (p *Processor) ChunkText(text string) []string {
	var chunks []string
	length := len(text)
	start := 0
	for start < length {
		end := start + p.chunkSize
		if end > length {
			end = length
		} else if end < length {
			// Soft break: latest '.' past the window midpoint, else the
			// latest space past the midpoint.
			mid := start + p.chunkSize/2
			if dot := strings.LastIndex(text[start:end], "."); dot >= 0 && start+dot > mid {
				end = start + dot + 1
			} else if sp := strings.LastIndex(text[start:end], " "); sp >= 0 && start+sp > mid {
				end = start + sp
			}
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= length {
			break
		}
		next := end - p.chunkOverlap
		if next <= start {
			// A soft break landed inside the overlap; fall back to the
			// nominal stride so the walk always advances.
			next = start + (p.chunkSize - p.chunkOverlap)
		}
		start = next
	}
	return chunks
}
