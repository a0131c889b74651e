package telegram

import (
	"fmt"
	"strings"

	"github.com/sigurn/crc16"
)

// DSMR 4 and later use CRC16/ARC over everything from '/' up to and including '!'.
var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// VerifyCRC checks the checksum trailing the '!' terminator.
// Telegrams without a checksum (DSMR 2.2, or stripped by the relay) pass.
func VerifyCRC(text string) error {
	end := strings.LastIndexByte(text, '!')
	if end < 0 {
		return nil
	}
	given := strings.TrimSpace(text[end+1:])
	if given == "" {
		return nil
	}
	if len(given) < 4 {
		return fmt.Errorf("%w: truncated checksum %q", ErrCRCMismatch, given)
	}

	start := strings.IndexByte(text, '/')
	if start < 0 || start > end {
		start = 0
	}
	calc := fmt.Sprintf("%04X", Checksum(text[start:end+1]))
	if !strings.EqualFold(given[:4], calc) {
		return fmt.Errorf("%w: got %s, calculated %s", ErrCRCMismatch, strings.ToUpper(given[:4]), calc)
	}
	return nil
}

func Checksum(data string) uint16 {
	return crc16.Checksum([]byte(data), crcTable)
}
