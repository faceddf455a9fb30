// Package extract 从上传文件中提取纯文本
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/parser/docx"
	"github.com/cloudwego/eino-ext/components/document/parser/html"
	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoparser "github.com/cloudwego/eino/components/document/parser"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

var plainSuffixes = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".json": true, ".csv": true,
	".log": true, ".xml": true, ".yaml": true, ".yml": true,
}

// Extractor 文本提取器，按扩展名选择 eino 解析器
type Extractor struct {
	once    sync.Once
	initErr error
	pdf     einoparser.Parser
	docx    einoparser.Parser
	html    einoparser.Parser
}

// New 创建提取器，解析器在首次使用时初始化
func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) init(ctx context.Context) error {
	e.once.Do(func() {
		var err error
		if e.pdf, err = pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false}); err != nil {
			e.initErr = fmt.Errorf("init pdf parser: %w", err)
			return
		}
		if e.docx, err = docx.NewDocxParser(ctx, &docx.Config{
			ToSections:      false,
			IncludeComments: false,
			IncludeHeaders:  true,
			IncludeFooters:  false,
			IncludeTables:   true,
		}); err != nil {
			e.initErr = fmt.Errorf("init docx parser: %w", err)
			return
		}
		// 只取正文
		bodySelector := "body"
		if e.html, err = html.NewParser(ctx, &html.Config{Selector: &bodySelector}); err != nil {
			e.initErr = fmt.Errorf("init html parser: %w", err)
		}
	})
	return e.initErr
}

// Extract 提取文本
func (e *Extractor) Extract(ctx context.Context, fileName string, data []byte) (string, error) {
	suffix := strings.ToLower(filepath.Ext(fileName))
	if plainSuffixes[suffix] {
		return DecodeText(data), nil
	}

	var p einoparser.Parser
	switch suffix {
	case ".pdf", ".docx", ".html", ".htm":
		if err := e.init(ctx); err != nil {
			return "", err
		}
		switch suffix {
		case ".pdf":
			p = e.pdf
		case ".docx":
			p = e.docx
		default:
			p = e.html
		}
	default:
		return DecodeText(data), nil
	}

	docs, err := p.Parse(ctx, bytes.NewReader(data), einoparser.WithURI(fileName))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", suffix, err)
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if s := strings.TrimSpace(d.Content); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// ExtractReader 读取后提取
func (e *Extractor) ExtractReader(ctx context.Context, fileName string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", fileName, err)
	}
	return e.Extract(ctx, fileName, data)
}

// DecodeText 依次尝试 utf-8（去 BOM）、GB18030、latin-1
func DecodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	}
	if out, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data); err == nil && !bytes.ContainsRune(out, utf8.RuneError) {
		return string(out)
	}
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return string(out)
}

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)

// SafeName 生成可用于存储路径的文件名
func SafeName(name string) string {
	cleaned := unsafeChars.ReplaceAllString(name, "_")
	cleaned = strings.Trim(strings.TrimSpace(cleaned), ".")
	if cleaned == "" {
		cleaned = "file"
	}
	if utf8.RuneCountInString(cleaned) > 180 {
		cleaned = string([]rune(cleaned)[:180])
	}
	return cleaned
}

// IsImage 根据内容类型或扩展名判断是否为图片
func IsImage(contentType, fileName string) bool {
	if strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
		return true
	}
	return false
}
