package fs

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// unknownContentType is what mimetype reports when no signature matches.
const unknownContentType = "application/octet-stream"

// ContentType guesses the media type of the file at path. The extension is
// consulted first; when it says nothing and sniff is set, the first bytes of
// the file are matched against known signatures. It returns "" when neither
// gives an answer or the file cannot be read.
func ContentType(fsys afero.Fs, path string, sniff bool) string {
	if t := byExtension(path); t != "" {
		return t
	}
	if !sniff {
		return ""
	}

	f, err := fsys.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	m, err := mimetype.DetectReader(f)
	if err != nil || m.Is(unknownContentType) {
		return ""
	}
	return stripParams(m.String())
}

func byExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ""
	}
	return stripParams(mime.TypeByExtension(ext))
}

// stripParams drops parameters such as "; charset=utf-8".
func stripParams(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
