package sniff

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Detector identifies files by their leading bytes, ignoring the file name.
type Detector struct{}

func New() Detector { return Detector{} }

// Detect returns the canonical extension and MIME type. The extension is
// empty when the content matches no known signature.
func (Detector) Detect(data []byte) (string, string) {
	mt := mimetype.Detect(data)
	return strings.ToLower(mt.Extension()), mt.String()
}
