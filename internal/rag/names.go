package rag

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// CollectionName derives a unique collection name from an uploaded file
// name: report.pdf becomes report_<unix seconds>.pdf. Directory parts are
// dropped.
func CollectionName(filename string, now time.Time) string {
	base := filepath.Base(filepath.Clean("/" + filename))
	if base == "/" || base == "." {
		base = "document.pdf"
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s_%d%s", stem, now.Unix(), ext)
}
