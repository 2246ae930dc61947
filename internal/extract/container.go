package extract

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"

	"code.sajari.com/docconv/v2"
	"github.com/dustin/go-humanize"
)

type container int

const (
	containerUnknown container = iota
	containerZip               // OOXML and OpenDocument packages
	containerCFB               // legacy Office compound files
)

var (
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
	cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

func sniff(data []byte) container {
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return containerZip
	case bytes.HasPrefix(data, cfbMagic):
		return containerCFB
	}
	return containerUnknown
}

// maxUnpacked caps the total declared uncompressed size of a zip package.
// archive/zip fails any read that runs past an entry's declared size, so the
// declared sum bounds what the extractors can inflate.
var maxUnpacked int64 = 256 << 20

const (
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	budget := uint64(maxUnpacked)
	for _, f := range zr.File {
		if f.UncompressedSize64 > budget {
			return nil, fmt.Errorf("package unpacks to more than %s", humanize.IBytes(uint64(maxUnpacked)))
		}
		budget -= f.UncompressedSize64
	}
	return zr, nil
}

func zipEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxUnpacked+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if int64(len(data)) > maxUnpacked {
		return nil, fmt.Errorf("%s unpacks to more than %s", f.Name, humanize.IBytes(uint64(maxUnpacked)))
	}
	return data, nil
}

// ooxmlText converts a Word or PowerPoint package with docconv, which finds
// the text parts through [Content_Types].xml.
func ooxmlText(mimeType string, data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	if zipEntry(zr, "[Content_Types].xml") == nil {
		return "", errors.New("[Content_Types].xml not found")
	}
	res, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// cp1252High maps the 0x80-0x9F range of Windows-1252 that differs from Latin-1.
var cp1252High = map[byte]rune{
	0x80: '€', 0x82: '‚', 0x83: 'ƒ', 0x84: '„', 0x85: '…', 0x86: '†', 0x87: '‡',
	0x88: 'ˆ', 0x89: '‰', 0x8A: 'Š', 0x8B: '‹', 0x8C: 'Œ', 0x8E: 'Ž',
	0x91: '‘', 0x92: '’', 0x93: '“', 0x94: '”', 0x95: '•', 0x96: '–', 0x97: '—',
	0x98: '˜', 0x99: '™', 0x9A: 'š', 0x9B: '›', 0x9C: 'œ', 0x9E: 'ž', 0x9F: 'Ÿ',
}

func decodeCP1252(b []byte) []rune {
	out := make([]rune, len(b))
	for i, c := range b {
		if r, ok := cp1252High[c]; ok {
			out[i] = r
			continue
		}
		out[i] = rune(c)
	}
	return out
}

func decodeUTF16LE(b []byte) []rune {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return utf16.Decode(u)
}
