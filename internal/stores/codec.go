package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const maxRetries = 4

var errFieldTooLong = errors.New("record field length exceeded")

func writeString(buf *bytes.Buffer, value string) error {
	if len(value) > 65535 {
		return errFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(value))); err != nil {
		return err
	}
	buf.WriteString(value)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
