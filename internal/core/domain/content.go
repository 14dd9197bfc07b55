package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

type ContentKind uint8

const (
	ContentKindUnknown ContentKind = iota
	ContentKindText
	ContentKindJSON
	ContentKindPNG
	ContentKindJPEG
	ContentKindSVG
)

func (k ContentKind) String() string {
	return []string{
		"Unknown",
		"Text",
		"JSON",
		"PNG",
		"JPEG",
		"SVG",
	}[k]
}

// ContentType returns the MIME content type embedded in the envelope.
func (k ContentKind) ContentType() string {
	switch k {
	case ContentKindText:
		return "text/plain;charset=utf-8"
	case ContentKindJSON:
		return "application/json"
	case ContentKindPNG:
		return "image/png"
	case ContentKindJPEG:
		return "image/jpeg"
	case ContentKindSVG:
		return "image/svg+xml"
	default:
		return ""
	}
}

// ContentKindFromType maps a MIME content type to its kind.
func ContentKindFromType(contentType string) (ContentKind, error) {
	for _, k := range []ContentKind{
		ContentKindText, ContentKindJSON, ContentKindPNG, ContentKindJPEG, ContentKindSVG,
	} {
		if k.ContentType() == contentType {
			return k, nil
		}
	}
	return ContentKindUnknown, fmt.Errorf("unsupported content type %q", contentType)
}

var (
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// InscriptionContent is the closed set of inscribable payloads. Each kind
// carries its own validation rule; string-based branching on content types is
// confined to the envelope boundary.
type InscriptionContent struct {
	Kind    ContentKind
	Payload []byte
}

func (c InscriptionContent) Validate() error {
	switch c.Kind {
	case ContentKindText:
		if !utf8.Valid(c.Payload) {
			return fmt.Errorf("text payload is not valid UTF-8")
		}
	case ContentKindJSON:
		if !json.Valid(c.Payload) {
			return fmt.Errorf("json payload does not parse")
		}
	case ContentKindPNG:
		if !bytes.HasPrefix(c.Payload, pngMagic) {
			return fmt.Errorf("png payload missing magic bytes")
		}
	case ContentKindJPEG:
		if !bytes.HasPrefix(c.Payload, jpegMagic) {
			return fmt.Errorf("jpeg payload missing magic bytes")
		}
	case ContentKindSVG:
		if !utf8.Valid(c.Payload) || !bytes.Contains(c.Payload, []byte("<svg")) {
			return fmt.Errorf("svg payload missing <svg> element")
		}
	default:
		return fmt.Errorf("unknown content kind %d", c.Kind)
	}
	return nil
}

func (c InscriptionContent) ContentType() string {
	return c.Kind.ContentType()
}
