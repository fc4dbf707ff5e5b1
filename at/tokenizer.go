package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// Lines are terminated by LF; a trailing CR is dropped so that both CRLF
// and bare LF framing are accepted.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[0:i], []byte("\r")), nil
	}

	if atEOF {
		return len(data), bytes.TrimSuffix(data, []byte("\r")), nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// urcs lists the notification prefixes the modem emits without a
// corresponding command.
var urcs = []string{
	UrcHTTPHeader,
	UrcHTTPContent,
	UrcHTTPError,
	UrcDNS,
	UrcNTP,
	UrcFOTA,
	UrcMQTTDiscon,
	UrcRegistered,
	RespPIN, // also emitted once the SIM is ready after power-on
}

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	switch {
	case strings.HasPrefix(line, OK):
		return TypeOK
	case strings.HasPrefix(line, ERROR),
		strings.HasPrefix(line, CmeError),
		strings.HasPrefix(line, CmsError):
		return TypeError
	}

	for _, urc := range urcs {
		if strings.HasPrefix(line, urc) {
			return TypeURC
		}
	}
	return TypeData
}

// ParseFor returns the trimmed remainder of the first line starting with
// prefix. The boolean is false when no line matches.
func ParseFor(prefix string, lines []string) (string, bool) {
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	return "", false
}

// Fields splits a comma separated parameter list, keeping commas inside
// double quotes. Fields are trimmed but keep their quotes.
func Fields(s string) []string {
	var (
		fields  []string
		inQuote bool
		builder strings.Builder
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuote = !inQuote
			builder.WriteByte(c)
		case c == ',' && !inQuote:
			fields = append(fields, strings.TrimSpace(builder.String()))
			builder.Reset()
		default:
			builder.WriteByte(c)
		}
	}

	if builder.Len() > 0 || len(fields) > 0 {
		fields = append(fields, strings.TrimSpace(builder.String()))
	}
	return fields
}

// Unquote removes one pair of surrounding double quotes, if present.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// Quote wraps s in double quotes for use as a command argument.
func Quote(s string) string {
	return `"` + s + `"`
}
