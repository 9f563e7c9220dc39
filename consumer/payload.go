package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"
)

var ErrDecode = errors.New("decode payload")

type Kind int

const (
	KindText Kind = iota + 1
	KindRecord
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindRecord:
		return "map"
	case KindBytes:
		return "bytes"
	}
	return "unknown"
}

// OutputKinds lists the payload shapes a sink may receive.
func OutputKinds() []Kind {
	return []Kind{KindText, KindRecord, KindBytes}
}

// Payload is a decoded message body: text, a key/value record or raw bytes.
type Payload struct {
	kind   Kind
	text   string
	record map[string]any
	bytes  []byte
}

func Text(s string) Payload {
	return Payload{kind: KindText, text: s}
}

func Record(m map[string]any) Payload {
	return Payload{kind: KindRecord, record: m}
}

func Bytes(b []byte) Payload {
	return Payload{kind: KindBytes, bytes: b}
}

func (p Payload) Kind() Kind {
	return p.kind
}

func (p Payload) AsText() (string, bool) {
	return p.text, p.kind == KindText
}

func (p Payload) AsRecord() (map[string]any, bool) {
	return p.record, p.kind == KindRecord
}

func (p Payload) AsBytes() ([]byte, bool) {
	return p.bytes, p.kind == KindBytes
}

// Value returns the payload as string, map[string]any or []byte.
func (p Payload) Value() any {
	switch p.kind {
	case KindText:
		return p.text
	case KindRecord:
		return p.record
	case KindBytes:
		return p.bytes
	}
	return nil
}

// Decode picks the payload shape from the content type: text/* is text,
// JSON is a record, anything else stays raw bytes.
func Decode(body []byte, contentType string) (Payload, error) {
	if contentType == "" {
		return Bytes(body), nil
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: content type %q: %v", ErrDecode, contentType, err)
	}

	switch {
	case strings.HasPrefix(mediaType, "text/"):
		if !utf8.Valid(body) {
			return Payload{}, fmt.Errorf("%w: %s body is not valid utf-8", ErrDecode, mediaType)
		}
		return Text(string(body)), nil
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var record map[string]any
		if err := json.Unmarshal(body, &record); err != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if record == nil {
			return Payload{}, fmt.Errorf("%w: json body is not an object", ErrDecode)
		}
		return Record(record), nil
	}
	return Bytes(body), nil
}
