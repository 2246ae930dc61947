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

func extractWord(filename string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch sniff(data) {
	case containerZip:
		text, err = ooxmlText(mimeDOCX, data)
	case containerCFB:
		text, err = docText(data)
	default:
		return "", errors.New("not a Word document")
	}
	if err != nil {
		return "", err
	}
	return withFilename(filename, text), nil
}

// docText reads a Word 97-2003 binary document.
func docText(data []byte) (string, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open compound file: %w", err)
	}
	streams := make(map[string][]byte)
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		switch entry.Name {
		case "WordDocument", "0Table", "1Table":
			buf, err := io.ReadAll(entry)
			if err != nil {
				return "", fmt.Errorf("read %s stream: %w", entry.Name, err)
			}
			streams[entry.Name] = buf
		}
	}
	wordDoc, ok := streams["WordDocument"]
	if !ok {
		return "", errors.New("WordDocument stream not found")
	}
	return pieceTableText(wordDoc, streams)
}

const (
	fibIdent        = 0xA5EC
	fibFlagTable1   = 0x0200 // fWhichTblStm
	fibFlagEncrypt  = 0x0100
	fibFcClxIndex   = 33 // fcClx in FibRgFcLcb97
	fibCcpTextIndex = 3  // ccpText in FibRgLw97
	pcdCompressed   = 0x40000000
)

// pieceTableText resolves the main document text through the piece table
// stored in the CLX of the table stream.
func pieceTableText(wordDoc []byte, streams map[string][]byte) (string, error) {
	if len(wordDoc) < 34 || binary.LittleEndian.Uint16(wordDoc) != fibIdent {
		return "", errors.New("invalid FIB")
	}
	flags := binary.LittleEndian.Uint16(wordDoc[0x0A:])
	if flags&fibFlagEncrypt != 0 {
		return "", errors.New("document is encrypted")
	}
	tableName := "0Table"
	if flags&fibFlagTable1 != 0 {
		tableName = "1Table"
	}
	table, ok := streams[tableName]
	if !ok {
		return "", fmt.Errorf("%s stream not found", tableName)
	}

	// FibBase (32 bytes), csw + FibRgW, cslw + FibRgLw, cbRgFcLcb + FibRgFcLcb.
	off := 32
	csw, err := u16(wordDoc, off)
	if err != nil {
		return "", err
	}
	off += 2 + int(csw)*2
	cslw, err := u16(wordDoc, off)
	if err != nil {
		return "", err
	}
	rgLw := off + 2
	ccpText := uint32(0)
	if int(cslw) > fibCcpTextIndex {
		if ccpText, err = u32(wordDoc, rgLw+fibCcpTextIndex*4); err != nil {
			return "", err
		}
	}
	off = rgLw + int(cslw)*4
	cbRgFcLcb, err := u16(wordDoc, off)
	if err != nil {
		return "", err
	}
	if int(cbRgFcLcb) <= fibFcClxIndex {
		return "", errors.New("FIB has no CLX entry")
	}
	fcClx, err := u32(wordDoc, off+2+fibFcClxIndex*8)
	if err != nil {
		return "", err
	}
	lcbClx, err := u32(wordDoc, off+2+fibFcClxIndex*8+4)
	if err != nil {
		return "", err
	}
	if uint64(fcClx)+uint64(lcbClx) > uint64(len(table)) {
		return "", errors.New("CLX out of range")
	}
	clx := table[fcClx : fcClx+lcbClx]

	plcPcd, err := findPlcPcd(clx)
	if err != nil {
		return "", err
	}
	if len(plcPcd) < 4 || (len(plcPcd)-4)%12 != 0 {
		return "", errors.New("malformed piece table")
	}
	n := (len(plcPcd) - 4) / 12

	var out []rune
	for i := 0; i < n; i++ {
		cpStart := binary.LittleEndian.Uint32(plcPcd[i*4:])
		cpEnd := binary.LittleEndian.Uint32(plcPcd[(i+1)*4:])
		if ccpText > 0 {
			if cpStart >= ccpText {
				break
			}
			cpEnd = min(cpEnd, ccpText)
		}
		if cpEnd <= cpStart {
			continue
		}
		count := int(cpEnd - cpStart)
		pcd := plcPcd[4*(n+1)+i*8:]
		fc := binary.LittleEndian.Uint32(pcd[2:])

		if fc&pcdCompressed != 0 {
			start := int((fc &^ pcdCompressed) / 2)
			if start+count > len(wordDoc) {
				return "", errors.New("piece out of range")
			}
			out = append(out, decodeCP1252(wordDoc[start:start+count])...)
			continue
		}
		start := int(fc)
		if start+2*count > len(wordDoc) {
			return "", errors.New("piece out of range")
		}
		out = append(out, decodeUTF16LE(wordDoc[start:start+2*count])...)
	}
	return cleanWordText(out), nil
}

// findPlcPcd skips the Prc entries of a CLX and returns the PlcPcd of its Pcdt.
func findPlcPcd(clx []byte) ([]byte, error) {
	i := 0
	for i < len(clx) {
		switch clx[i] {
		case 0x01:
			if i+3 > len(clx) {
				return nil, errors.New("truncated Prc")
			}
			cb := int(int16(binary.LittleEndian.Uint16(clx[i+1:])))
			if cb < 0 {
				return nil, errors.New("malformed Prc")
			}
			i += 3 + cb
		case 0x02:
			if i+5 > len(clx) {
				return nil, errors.New("truncated Pcdt")
			}
			lcb := int(binary.LittleEndian.Uint32(clx[i+1:]))
			if i+5+lcb > len(clx) {
				return nil, errors.New("truncated PlcPcd")
			}
			return clx[i+5 : i+5+lcb], nil
		default:
			return nil, fmt.Errorf("unexpected CLX entry 0x%02x", clx[i])
		}
	}
	return nil, errors.New("Pcdt not found")
}

// cleanWordText maps Word control characters to plain text and drops
// field instructions, keeping field results.
func cleanWordText(rs []rune) string {
	var sb strings.Builder
	var fields []bool // true while inside a field's instruction part
	inCode := func() bool {
		for _, code := range fields {
			if code {
				return true
			}
		}
		return false
	}
	for _, r := range rs {
		switch r {
		case 0x13: // field begin
			fields = append(fields, true)
			continue
		case 0x14: // field separator
			if len(fields) > 0 {
				fields[len(fields)-1] = false
			}
			continue
		case 0x15: // field end
			if len(fields) > 0 {
				fields = fields[:len(fields)-1]
			}
			continue
		}
		if inCode() {
			continue
		}
		switch r {
		case '\r', 0x0B, 0x0C:
			sb.WriteByte('\n')
		case 0x07:
			sb.WriteByte('\t')
		case 0x01, 0x08, 0x1E, 0x1F:
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func u16(b []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(b) {
		return 0, errors.New("truncated FIB")
	}
	return binary.LittleEndian.Uint16(b[off:]), nil
}

func u32(b []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(b) {
		return 0, errors.New("truncated FIB")
	}
	return binary.LittleEndian.Uint32(b[off:]), nil
}
