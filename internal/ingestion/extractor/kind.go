package extractor

import (
	"bytes"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// Kind is the normalized format a file is dispatched on.
type Kind string

const (
	KindText     Kind = "text"
	KindMarkdown Kind = "markdown"
	KindCSV      Kind = "csv"
	KindJSON     Kind = "json"
	KindPDF      Kind = "pdf"
	KindDoc      Kind = "doc"
	KindDocx     Kind = "docx"
	KindXls      Kind = "xls"
	KindXlsx     Kind = "xlsx"
	KindPpt      Kind = "ppt"
	KindPptx     Kind = "pptx"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindUnknown  Kind = "unknown"
)

var kindByExt = map[string]Kind{
	".txt":      KindText,
	".text":     KindText,
	".log":      KindText,
	".md":       KindMarkdown,
	".markdown": KindMarkdown,
	".csv":      KindCSV,
	".tsv":      KindCSV,
	".json":     KindJSON,
	".pdf":      KindPDF,
	".doc":      KindDoc,
	".docx":     KindDocx,
	".xls":      KindXls,
	".xlsx":     KindXlsx,
	".ppt":      KindPpt,
	".pptx":     KindPptx,
	".png":      KindImage,
	".jpg":      KindImage,
	".jpeg":     KindImage,
	".gif":      KindImage,
	".webp":     KindImage,
	".heic":     KindImage,
	".bmp":      KindImage,
	".tif":      KindImage,
	".tiff":     KindImage,
	".mp3":      KindAudio,
	".wav":      KindAudio,
	".m4a":      KindAudio,
	".ogg":      KindAudio,
	".oga":      KindAudio,
	".opus":     KindAudio,
	".flac":     KindAudio,
	".amr":      KindAudio,
	".aac":      KindAudio,
	".mp4":      KindVideo,
	".mov":      KindVideo,
	".m4v":      KindVideo,
	".webm":     KindVideo,
	".mkv":      KindVideo,
	".avi":      KindVideo,
	".3gp":      KindVideo,
}

var kindByMIME = map[string]Kind{
	"text/plain":                    KindText,
	"text/markdown":                 KindMarkdown,
	"text/x-markdown":               KindMarkdown,
	"text/csv":                      KindCSV,
	"text/tab-separated-values":     KindCSV,
	"application/json":              KindJSON,
	"application/pdf":               KindPDF,
	"application/msword":            KindDoc,
	"application/vnd.ms-excel":      KindXls,
	"application/vnd.ms-powerpoint": KindPpt,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   KindDocx,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         KindXlsx,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": KindPptx,
}

// DetectKind tries the file extension, then the declared content type, then
// the leading bytes.
func DetectKind(fileName, contentType string, head []byte) Kind {
	if k, ok := kindByExt[strings.ToLower(filepath.Ext(strings.TrimSpace(fileName)))]; ok {
		return k
	}
	if k := kindForMIME(contentType); k != KindUnknown {
		return k
	}
	return sniffKind(head)
}

func kindForMIME(contentType string) Kind {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return KindUnknown
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	if k, ok := kindByMIME[mt]; ok {
		return k
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	case strings.HasPrefix(mt, "text/"):
		return KindText
	}
	return KindUnknown
}

var zipMagic = []byte("PK\x03\x04")

func sniffKind(head []byte) Kind {
	if len(head) == 0 {
		return KindUnknown
	}
	if bytes.HasPrefix(head, zipMagic) {
		// Office containers are zips; the part names decide which one.
		switch {
		case bytes.Contains(head, []byte("word/")):
			return KindDocx
		case bytes.Contains(head, []byte("xl/")):
			return KindXlsx
		case bytes.Contains(head, []byte("ppt/")):
			return KindPptx
		}
		return KindUnknown
	}
	if k := kindForMIME(http.DetectContentType(head)); k != KindUnknown {
		return k
	}
	return KindUnknown
}
