package processor

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SourceKind tells the pipeline how to read an input.
type SourceKind string

const (
	SourceImage   SourceKind = "image"
	SourceVideo   SourceKind = "video"
	SourceUnknown SourceKind = "unknown"
)

// KindOf maps a MIME type to a source kind.
func KindOf(mimeType string) SourceKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return SourceImage
	case strings.HasPrefix(mimeType, "video/"):
		return SourceVideo
	default:
		return SourceUnknown
	}
}

// detectSource picks the MIME type of the input. The declared type wins when
// it names an image or a video. Otherwise content is sniffed, and the file
// extension is the last resort. Uploads often arrive as
// application/octet-stream.
func detectSource(req *ProcessRequest) (SourceKind, string, error) {
	declared := baseMIME(req.MimeType)
	if kind := KindOf(declared); kind != SourceUnknown {
		return kind, declared, nil
	}

	var (
		mtype *mimetype.MIME
		err   error
	)
	if len(req.FileBuffer) > 0 {
		mtype = mimetype.Detect(req.FileBuffer)
	} else {
		mtype, err = mimetype.DetectFile(req.FilePath)
		if err != nil {
			return SourceUnknown, "", err
		}
	}

	sniffed := baseMIME(mtype.String())
	if kind := KindOf(sniffed); kind != SourceUnknown {
		return kind, sniffed, nil
	}

	name := req.Filename
	if name == "" {
		name = req.FilePath
	}
	if byExt := baseMIME(mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))); byExt != "" {
		if kind := KindOf(byExt); kind != SourceUnknown {
			return kind, byExt, nil
		}
	}

	if declared != "" {
		return SourceUnknown, declared, nil
	}
	return SourceUnknown, sniffed, nil
}

func baseMIME(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// extensionOf keeps the upload's extension on staged files; some demuxers
// rely on it.
func extensionOf(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}
