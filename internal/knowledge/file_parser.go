package knowledge

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// FileParser 将文件内容转换为markdown
type FileParser interface {
	Parse(data []byte, filename string) (string, error)
	Supports(filename string) bool
}

func extOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// TextParser 纯文本与markdown原样返回
type TextParser struct{}

func (p *TextParser) Supports(filename string) bool {
	switch extOf(filename) {
	case ".txt", ".md", ".markdown":
		return true
	}
	return false
}

func (p *TextParser) Parse(data []byte, filename string) (string, error) {
	return string(data), nil
}

// PDFParser PDF文件解析器，每页一个段落
type PDFParser struct{}

func (p *PDFParser) Supports(filename string) bool {
	return extOf(filename) == ".pdf"
}

func (p *PDFParser) Parse(data []byte, filename string) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("解析PDF失败: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("获取PDF页数失败: %w", err)
	}

	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			return "", fmt.Errorf("读取PDF第%d页失败: %w", i, err)
		}

		ex, err := extractor.New(page)
		if err != nil {
			return "", fmt.Errorf("创建第%d页提取器失败: %w", i, err)
		}

		text, err := ex.ExtractText()
		if err != nil {
			return "", fmt.Errorf("提取第%d页文本失败: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	return strings.Join(pages, "\n\n"), nil
}

// WordParser docx解析器；unioffice无法打开时退回到直接读取document.xml
type WordParser struct{}

func (p *WordParser) Supports(filename string) bool {
	return extOf(filename) == ".docx"
}

func (p *WordParser) Parse(data []byte, filename string) (string, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		text, fallbackErr := extractDocxParagraphs(data)
		if fallbackErr != nil {
			return "", fmt.Errorf("解析Word文档失败: %w", err)
		}
		return text, nil
	}
	defer doc.Close()

	blocks := make([]string, 0, len(doc.Paragraphs()))
	for _, para := range doc.Paragraphs() {
		var sb strings.Builder
		for _, run := range para.Runs() {
			sb.WriteString(run.Text())
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		blocks = append(blocks, headingPrefix(para.Style())+text)
	}

	for _, table := range doc.Tables() {
		var rows [][]string
		for _, row := range table.Rows() {
			var cells []string
			for _, cell := range row.Cells() {
				var parts []string
				for _, para := range cell.Paragraphs() {
					for _, run := range para.Runs() {
						parts = append(parts, run.Text())
					}
				}
				cells = append(cells, strings.Join(parts, " "))
			}
			rows = append(rows, cells)
		}
		if md := markdownTable(rows); md != "" {
			blocks = append(blocks, md)
		}
	}

	return strings.Join(blocks, "\n\n"), nil
}

// headingPrefix 将Heading1..Heading6样式映射为markdown标题
func headingPrefix(style string) string {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if !strings.HasPrefix(s, "heading") || len(s) != len("heading")+1 {
		if s == "title" {
			return "# "
		}
		return ""
	}
	level := s[len(s)-1]
	if level < '1' || level > '6' {
		return ""
	}
	return strings.Repeat("#", int(level-'0')) + " "
}

// ExcelParser xlsx解析器，每个工作表输出一个markdown表格
type ExcelParser struct{}

func (p *ExcelParser) Supports(filename string) bool {
	return extOf(filename) == ".xlsx"
}

func (p *ExcelParser) Parse(data []byte, filename string) (string, error) {
	ss, err := spreadsheet.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("解析Excel文档失败: %w", err)
	}
	defer ss.Close()

	var blocks []string
	for _, sheet := range ss.Sheets() {
		var rows [][]string
		for _, row := range sheet.Rows() {
			var cells []string
			for _, cell := range row.Cells() {
				cells = append(cells, cell.GetString())
			}
			rows = append(rows, cells)
		}
		md := markdownTable(rows)
		if md == "" {
			continue
		}
		blocks = append(blocks, "## "+sheet.Name()+"\n\n"+md)
	}

	return strings.Join(blocks, "\n\n"), nil
}

// CSVParser csv转markdown表格
type CSVParser struct{}

func (p *CSVParser) Supports(filename string) bool {
	return extOf(filename) == ".csv"
}

func (p *CSVParser) Parse(data []byte, filename string) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("解析CSV失败: %w", err)
	}
	return markdownTable(rows), nil
}

// markdownTable 第一行作为表头；全空的行会被跳过
func markdownTable(rows [][]string) string {
	var kept [][]string
	width := 0
	for _, row := range rows {
		empty := true
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		kept = append(kept, row)
		if len(row) > width {
			width = len(row)
		}
	}
	if len(kept) == 0 {
		return ""
	}

	cellEscaper := strings.NewReplacer("|", `\|`, "\n", " ", "\r", "")
	line := func(row []string) string {
		cells := make([]string, width)
		for i := range cells {
			if i < len(row) {
				cells[i] = strings.TrimSpace(cellEscaper.Replace(row[i]))
			}
		}
		return "| " + strings.Join(cells, " | ") + " |"
	}

	lines := make([]string, 0, len(kept)+1)
	lines = append(lines, line(kept[0]))
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
	for _, row := range kept[1:] {
		lines = append(lines, line(row))
	}
	return strings.Join(lines, "\n")
}

// FileParserManager 文件解析器管理器
type FileParserManager struct {
	parsers []FileParser
}

// NewFileParserManager 创建文件解析器管理器
func NewFileParserManager() *FileParserManager {
	return &FileParserManager{
		parsers: []FileParser{
			&PDFParser{},
			&WordParser{},
			&ExcelParser{},
			&CSVParser{},
			&TextParser{},
		},
	}
}

// ParserFor 返回支持该文件的解析器
func (m *FileParserManager) ParserFor(filename string) (FileParser, bool) {
	for _, parser := range m.parsers {
		if parser.Supports(filename) {
			return parser, true
		}
	}
	return nil, false
}

// GetSupportedFormats 获取支持的文件格式
func (m *FileParserManager) GetSupportedFormats() []string {
	candidates := []string{".pdf", ".docx", ".xlsx", ".csv", ".txt", ".md", ".markdown"}
	formats := make([]string, 0, len(candidates))
	for _, ext := range candidates {
		if _, ok := m.ParserFor("file" + ext); ok {
			formats = append(formats, ext)
		}
	}
	sort.Strings(formats)
	return formats
}
