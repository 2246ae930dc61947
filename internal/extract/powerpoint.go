package extract

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/richardlehane/mscfb"
)

func extractPowerPoint(filename string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch sniff(data) {
	case containerZip:
		text, err = ooxmlText(mimePPTX, data)
	case containerCFB:
		text, err = pptText(data)
	default:
		return "", errors.New("not a PowerPoint presentation")
	}
	if err != nil {
		return "", err
	}
	return withFilename(filename, text), nil
}

// PowerPoint 97-2003 record types holding slide text.
const (
	recTextCharsAtom = 0x0FA0 // UTF-16LE
	recTextBytesAtom = 0x0FA8 // 8-bit
)

func pptText(data []byte) (string, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open compound file: %w", err)
	}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if entry.Name != "PowerPoint Document" {
			continue
		}
		stream, err := io.ReadAll(entry)
		if err != nil {
			return "", fmt.Errorf("read PowerPoint Document stream: %w", err)
		}
		return pptRecordsText(stream), nil
	}
	return "", errors.New("PowerPoint Document stream not found")
}

// pptRecordsText walks the record tree of a PowerPoint Document stream and
// collects text atoms. Containers (recVer 0xF) are descended into.
func pptRecordsText(stream []byte) string {
	var parts []string
	for off := 0; off+8 <= len(stream); {
		verInst := binary.LittleEndian.Uint16(stream[off:])
		recType := binary.LittleEndian.Uint16(stream[off+2:])
		recLen := int(binary.LittleEndian.Uint32(stream[off+4:]))
		body := off + 8
		if verInst&0x000F == 0x000F {
			off = body
			continue
		}
		if recLen < 0 || body+recLen > len(stream) {
			break
		}
		var text string
		switch recType {
		case recTextCharsAtom:
			text = string(decodeUTF16LE(stream[body : body+recLen]))
		case recTextBytesAtom:
			text = string(decodeCP1252(stream[body : body+recLen]))
		}
		text = strings.TrimSpace(strings.NewReplacer("\r", "\n", "\v", "\n").Replace(text))
		if text != "" && !isMasterPlaceholder(text) {
			parts = append(parts, text)
		}
		off = body + recLen
	}
	return strings.Join(parts, "\n")
}

// isMasterPlaceholder filters the prompt text stored on master slides.
func isMasterPlaceholder(s string) bool {
	return strings.HasPrefix(s, "Click to edit Master") ||
		strings.HasPrefix(s, "Click to edit the outline text format")
}
