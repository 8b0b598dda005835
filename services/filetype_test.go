package services_test

import (
	"testing"

	"portal-service/services"

	"github.com/stretchr/testify/assert"
)

var (
	pdfHead  = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	pngHead  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}
	jpegHead = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0x10, 'J', 'F', 'I', 'F'}
	webpHead = []byte("RIFF\x24\x00\x00\x00WEBPVP8 ")
	zipHead  = []byte{'P', 'K', 0x03, 0x04, 0x14, 0, 0x06, 0}
)

func TestMagicDetector_Detect(t *testing.T) {
	d := services.NewMagicDetector()
	cases := []struct {
		name string
		head []byte
		want string
	}{
		{"pdf", pdfHead, "pdf"},
		{"png", pngHead, "png"},
		{"jpeg", jpegHead, "jpeg"},
		{"gif", []byte("GIF89a\x01\x00"), "gif"},
		{"webp", webpHead, "webp"},
		{"zip", zipHead, "zip"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ft, ok := d.Detect(tc.head)
			assert.True(t, ok)
			assert.Equal(t, tc.want, ft.Name)
		})
	}
}

func TestMagicDetector_Unknown(t *testing.T) {
	d := services.NewMagicDetector()
	for _, head := range [][]byte{
		nil,
		[]byte("%PD"),
		[]byte("RIFF\x24\x00\x00\x00WAVEfmt "),
		[]byte("<html><script>"),
		[]byte("MZ\x90\x00"),
	} {
		_, ok := d.Detect(head)
		assert.False(t, ok, "%q", head)
	}
}

func TestFileType_Accepts(t *testing.T) {
	d := services.NewMagicDetector()
	pdf, _ := d.Detect(pdfHead)
	zip, _ := d.Detect(zipHead)
	jpeg, _ := d.Detect(jpegHead)

	assert.True(t, pdf.Accepts("application/pdf", ".pdf"))
	assert.True(t, pdf.Accepts("application/octet-stream", ".PDF"))
	assert.True(t, pdf.Accepts("", ""))
	assert.False(t, pdf.Accepts("image/png", ".pdf"))
	assert.False(t, pdf.Accepts("application/pdf", ".exe"))

	assert.True(t, jpeg.Accepts("image/jpeg", ".jpg"))
	assert.True(t, jpeg.Accepts("image/jpeg; charset=binary", ".jpeg"))

	assert.True(t, zip.Accepts("application/vnd.openxmlformats-officedocument.wordprocessingml.document", ".docx"))
	assert.False(t, zip.Accepts("application/vnd.openxmlformats-officedocument.wordprocessingml.document", ".pdf"))
}
