package services

import (
	"bytes"
	"strings"
)

// FileTypeDetector identifies a file's content type from its leading bytes.
type FileTypeDetector interface {
	Detect(head []byte) (FileType, bool)
}

// FileType is a detected document format.
type FileType struct {
	Name        string
	ContentType string
	Extensions  []string
}

type signature struct {
	offset int
	magic  []byte
}

type signatureRule struct {
	fileType FileType
	all      []signature
}

// SniffLen is the number of leading bytes the detector needs.
const SniffLen = 16

// MagicDetector matches byte-signature rules in table order.
type MagicDetector struct {
	rules []signatureRule
}

// NewMagicDetector returns a detector for the document formats accepted by
// the portal.
func NewMagicDetector() *MagicDetector {
	return &MagicDetector{rules: []signatureRule{
		{FileType{"pdf", "application/pdf", []string{".pdf"}}, []signature{{0, []byte("%PDF")}}},
		{FileType{"png", "image/png", []string{".png"}}, []signature{{0, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}}}},
		{FileType{"jpeg", "image/jpeg", []string{".jpg", ".jpeg"}}, []signature{{0, []byte{0xFF, 0xD8, 0xFF}}}},
		{FileType{"gif", "image/gif", []string{".gif"}}, []signature{{0, []byte("GIF8")}}},
		{FileType{"webp", "image/webp", []string{".webp"}}, []signature{{0, []byte("RIFF")}, {8, []byte("WEBP")}}},
		{FileType{"zip", "application/zip", []string{".zip", ".docx", ".xlsx"}}, []signature{{0, []byte{'P', 'K', 0x03, 0x04}}}},
	}}
}

func (d *MagicDetector) Detect(head []byte) (FileType, bool) {
	for _, rule := range d.rules {
		if rule.matches(head) {
			return rule.fileType, true
		}
	}
	return FileType{}, false
}

func (r signatureRule) matches(head []byte) bool {
	for _, sig := range r.all {
		end := sig.offset + len(sig.magic)
		if len(head) < end || !bytes.Equal(head[sig.offset:end], sig.magic) {
			return false
		}
	}
	return true
}

// Accepts reports whether a file declared with contentType or named with
// extension ext is consistent with the detected type.
func (t FileType) Accepts(contentType, ext string) bool {
	contentType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	ext = strings.ToLower(ext)

	// docx/xlsx are zip containers; browsers declare them by office type.
	if t.Name == "zip" && strings.HasPrefix(contentType, "application/vnd.openxmlformats-officedocument.") {
		return t.hasExtension(ext)
	}
	if contentType != "" && contentType != "application/octet-stream" && contentType != t.ContentType {
		return false
	}
	return ext == "" || t.hasExtension(ext)
}

func (t FileType) hasExtension(ext string) bool {
	for _, e := range t.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
