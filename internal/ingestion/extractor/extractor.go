package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

const (
	MethodDirectText       = "direct_text"
	MethodFallbackText     = "fallback_text"
	MethodPDFPlaceholder   = "pdf_placeholder"
	MethodDocPlaceholder   = "doc_placeholder"
	MethodDocxXML          = "docx_xml"
	MethodDocxPlaceholder  = "docx_placeholder"
	MethodXlsPlaceholder   = "xls_placeholder"
	MethodXlsxXML          = "xlsx_xml"
	MethodXlsxPlaceholder  = "xlsx_placeholder"
	MethodPptPlaceholder   = "ppt_placeholder"
	MethodPptxXML          = "pptx_xml"
	MethodPptxPlaceholder  = "pptx_placeholder"
	MethodMediaPlaceholder = "media_placeholder"
	MethodTimeoutFailed    = "timeout_failed"

	FailedSuffix = "_failed"

	// MinTextRunes is the shortest normalized text counted as meaningful.
	MinTextRunes = 10

	UnreadableMarker = "[Unable to extract meaningful content from this file.]"

	DefaultTimeout  = 20 * time.Second
	DefaultMaxBytes = int64(25 << 20)
)

// Result is the outcome of one extraction. OK=false means the text is the
// unreadable marker; it is still a completed extraction, not an error.
type Result struct {
	Text      string
	Method    string
	OK        bool
	Kind      Kind
	Truncated bool
	Duration  time.Duration
}

type Config struct {
	Timeout  time.Duration
	MaxBytes int64
}

type Extractor struct {
	log      *logger.Logger
	timeout  time.Duration
	maxBytes int64
	table    map[Kind]strategy
}

// strategy turns raw bytes into text and names the method that produced it.
type strategy func(data []byte, maxBytes int64) (text string, method string)

func New(log *logger.Logger, cfg Config) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Extractor{
		log:      log.With("service", "ContentExtractor"),
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxBytes,
		table:    dispatchTable(),
	}
}

func dispatchTable() map[Kind]strategy {
	return map[Kind]strategy{
		KindText:     directText,
		KindMarkdown: directText,
		KindCSV:      directText,
		KindJSON:     directText,
		KindPDF:      placeholder(MethodPDFPlaceholder, "PDF document"),
		KindDoc:      placeholder(MethodDocPlaceholder, "Word document (.doc)"),
		KindXls:      placeholder(MethodXlsPlaceholder, "Excel spreadsheet (.xls)"),
		KindPpt:      placeholder(MethodPptPlaceholder, "PowerPoint presentation (.ppt)"),
		KindDocx:     ooxml(extractDocx, MethodDocxXML, MethodDocxPlaceholder, "Word document (.docx)"),
		KindXlsx:     ooxml(extractXlsx, MethodXlsxXML, MethodXlsxPlaceholder, "Excel spreadsheet (.xlsx)"),
		KindPptx:     ooxml(extractPptx, MethodPptxXML, MethodPptxPlaceholder, "PowerPoint presentation (.pptx)"),
		KindImage:    mediaPlaceholder("Image"),
		KindAudio:    mediaPlaceholder("Audio recording"),
		KindVideo:    mediaPlaceholder("Video"),
	}
}

// Extract never returns an error: unreadable input yields the marker.
func (e *Extractor) Extract(ctx context.Context, fileName, contentType string, data []byte) Result {
	start := time.Now()
	truncated := false
	if int64(len(data)) > e.maxBytes {
		data = data[:e.maxBytes]
		truncated = true
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	kind := DetectKind(fileName, contentType, head)
	run, ok := e.table[kind]
	if !ok {
		run = fallbackText
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		text, method string
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("Extraction panicked", "kind", kind, "panic", fmt.Sprint(r))
				done <- outcome{text: "", method: MethodFallbackText}
			}
		}()
		if len(data) == 0 {
			// Empty input skips the strategy so no placeholder masks it.
			_, method := run(nil, e.maxBytes)
			done <- outcome{text: "", method: method}
			return
		}
		text, method := run(data, e.maxBytes)
		done <- outcome{text: Normalize(text), method: method}
	}()

	var res Result
	select {
	case out := <-done:
		res = finish(out.text, out.method)
	case <-ctx.Done():
		e.log.Warn("Extraction timed out", "kind", kind, "size", len(data), "timeout", e.timeout)
		res = Result{Text: UnreadableMarker, Method: MethodTimeoutFailed, OK: false}
	}
	res.Kind = kind
	res.Truncated = truncated
	res.Duration = time.Since(start)
	return res
}

func finish(text, method string) Result {
	if utf8.RuneCountInString(text) < MinTextRunes {
		return Result{Text: UnreadableMarker, Method: FailedMethod(method), OK: false}
	}
	return Result{Text: text, Method: method, OK: true}
}

// FailedMethod appends the failure suffix once.
func FailedMethod(method string) string {
	if strings.HasSuffix(method, FailedSuffix) {
		return method
	}
	return method + FailedSuffix
}

func decodeUTF8(data []byte) string {
	s := string(data)
	s = strings.TrimPrefix(s, "\uFEFF")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return s
}

func directText(data []byte, _ int64) (string, string) {
	return decodeUTF8(data), MethodDirectText
}

func fallbackText(data []byte, _ int64) (string, string) {
	return decodeUTF8(data), MethodFallbackText
}

func placeholderText(format string) string {
	return fmt.Sprintf("[%s: text extraction is not supported for this format. Upload a plain-text or Markdown version of this file to make its content searchable.]", format)
}

func placeholder(method, format string) strategy {
	text := placeholderText(format)
	return func([]byte, int64) (string, string) {
		return text, method
	}
}

func mediaPlaceholder(label string) strategy {
	text := fmt.Sprintf("[%s file: no text layer. Its content is indexed by the downstream media pipeline.]", label)
	return func([]byte, int64) (string, string) {
		return text, MethodMediaPlaceholder
	}
}

// ooxml parses the container and degrades to the format's placeholder when
// parsing fails or finds no text.
func ooxml(parse func([]byte, int64) (string, error), method, fallbackMethod, format string) strategy {
	fallback := placeholderText(format)
	return func(data []byte, maxBytes int64) (string, string) {
		if len(data) == 0 {
			return "", method
		}
		text, err := parse(data, maxBytes)
		if err != nil || strings.TrimSpace(text) == "" {
			return fallback, fallbackMethod
		}
		return text, method
	}
}
