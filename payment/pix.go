package payment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	pixGUI       = "br.gov.bcb.pix"
	crcTag       = "6304"
	maxNameLen   = 25
	maxCityLen   = 15
	maxTxIDLen   = 25
	crcFieldSize = 4
)

var (
	ErrPayloadTooShort = errors.New("pix payload too short")
	ErrChecksum        = errors.New("pix payload checksum mismatch")
)

// Recipient identifies who a static PIX payload pays
type Recipient struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
	City string `yaml:"city"`
	TxID string `yaml:"txid"`
}

// CRC16 computes CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, MSB first, no final XOR
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// formatTag renders one EMV field: id, two-digit length, value
func formatTag(id, value string) string {
	return id + fmt.Sprintf("%02d", len(value)) + value
}

// asciiField strips diacritics, drops whatever is still outside ASCII and
// cuts the result to n bytes, so the EMV length prefix counts what the limit counts.
func asciiField(s string, n int) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}
	s = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)
	if len(s) > n {
		s = s[:n]
	}
	return s
}

// GeneratePayload builds the BR Code static payload for amount.
// The output is a pure function of its inputs.
func GeneratePayload(r Recipient, amount Amount) string {
	txid := r.TxID
	if txid == "" {
		txid = "***"
	}

	var b strings.Builder
	b.WriteString(formatTag("00", "01"))
	b.WriteString(formatTag("26", formatTag("00", pixGUI)+formatTag("01", r.Key)))
	b.WriteString(formatTag("52", "0000"))
	b.WriteString(formatTag("53", "986"))
	b.WriteString(formatTag("54", amount.String()))
	b.WriteString(formatTag("58", "BR"))
	b.WriteString(formatTag("59", asciiField(r.Name, maxNameLen)))
	b.WriteString(formatTag("60", asciiField(r.City, maxCityLen)))
	b.WriteString(formatTag("62", formatTag("05", asciiField(txid, maxTxIDLen))))
	b.WriteString(crcTag)

	body := b.String()
	return body + fmt.Sprintf("%04X", CRC16([]byte(body)))
}

// VerifyPayload checks the trailing checksum of a payload
func VerifyPayload(payload string) error {
	if len(payload) < len(crcTag)+crcFieldSize {
		return ErrPayloadTooShort
	}
	body := payload[:len(payload)-crcFieldSize]
	if !strings.HasSuffix(body, crcTag) {
		return fmt.Errorf("%w: missing CRC field", ErrChecksum)
	}
	want, err := strconv.ParseUint(payload[len(body):], 16, 16)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChecksum, err)
	}
	if got := CRC16([]byte(body)); uint16(want) != got {
		return fmt.Errorf("%w: got %04X, want %04X", ErrChecksum, want, got)
	}
	return nil
}
