package constants

import "strings"

// FileTypes groups extensions by loader.
const (
	FileTypePDF   = "pdf"
	FileTypeDOCX  = "docx"
	FileTypeDOC   = "doc"
	FileTypeText  = "txt"
	FileTypeHTML  = "html"
	FileTypeCSV   = "csv"
	FileTypeImage = "image"
)

// AllowedExtensions holds the file extensions accepted for ingestion.
var AllowedExtensions = map[string]string{
	"pdf":  FileTypePDF,
	"docx": FileTypeDOCX,
	"doc":  FileTypeDOC,
	"txt":  FileTypeText,
	"md":   FileTypeText,
	"html": FileTypeHTML,
	"htm":  FileTypeHTML,
	"csv":  FileTypeCSV,
	"jpg":  FileTypeImage,
	"jpeg": FileTypeImage,
	"png":  FileTypeImage,
	"tiff": FileTypeImage,
	"tif":  FileTypeImage,
	"heic": FileTypeImage,
	"heif": FileTypeImage,
}

// ArtifactSuffix is appended to the source file name for parsed output.
const ArtifactSuffix = ".parsed.json"

// DuplicatesDirName is the quarantine subdirectory used by dedupe.
const DuplicatesDirName = "duplicates"

// Submission and listing limits.
const (
	DefaultMaxRetries = 3
	MinMaxRetries     = 1
	MaxMaxRetries     = 10
	MaxTargetLength   = 4096

	DefaultListLimit = 50
	MaxListLimit     = 500
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// FileTypeForExt maps an extension (with or without dot) to its loader type.
func FileTypeForExt(ext string) (string, bool) {
	t, ok := AllowedExtensions[NormalizeExt(ext)]
	return t, ok
}

func IsAllowedExt(ext string) bool {
	_, ok := FileTypeForExt(ext)
	return ok
}

func IsImageExt(ext string) bool {
	t, ok := FileTypeForExt(ext)
	return ok && t == FileTypeImage
}
