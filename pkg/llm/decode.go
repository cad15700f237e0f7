package llm

import (
	"bufio"
	"bytes"
	"io"
)

// unitDecoder reads one framed unit at a time from a backend byte stream.
// Next returns io.EOF on clean end-of-stream.
type unitDecoder interface {
	Next() ([]byte, error)
}

func newUnitDecoder(framing Framing, r io.Reader) unitDecoder {
	switch framing {
	case FramingJSONLines:
		return newLineDecoder(r)
	default:
		return newSSEDecoder(r)
	}
}

// sseDecoder decodes line-prefixed event frames ("data: ..." lines, blank
// line terminated). Multiple data lines in one event are joined with \n per
// the SSE spec; comment lines are skipped.
type sseDecoder struct {
	r *bufio.Reader
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event's concatenated data payload.
func (d *sseDecoder) Next() ([]byte, error) {
	var dataLines [][]byte
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			// Flush any data accumulated before the stream ended.
			if len(line) > 0 {
				line = bytes.TrimRight(line, "\r\n")
				dataLines = appendDataLine(dataLines, line)
			}
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(dataLines) == 0 {
				continue
			}
			return bytes.Join(dataLines, []byte("\n")), nil
		}
		if line[0] == ':' {
			continue
		}
		dataLines = appendDataLine(dataLines, line)
	}
}

func appendDataLine(dst [][]byte, line []byte) [][]byte {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return dst
	}
	val := line[len("data:"):]
	if len(val) > 0 && val[0] == ' ' {
		val = val[1:]
	}
	return append(dst, append([]byte(nil), val...))
}

// lineDecoder decodes bare JSON-per-line frames. Blank lines are skipped;
// end-of-stream is end-of-connection.
type lineDecoder struct {
	r *bufio.Reader
}

func newLineDecoder(r io.Reader) *lineDecoder {
	return &lineDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

func (d *lineDecoder) Next() ([]byte, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if err != nil {
			if len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		if len(line) == 0 {
			continue
		}
		return append([]byte(nil), line...), nil
	}
}
