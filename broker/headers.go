package broker

import "strings"

const HeaderContentType = "Content-Type"

// Headers is the transport metadata of a delivery. Keys are matched
// case-insensitively by Get.
type Headers map[string][]byte

func (h Headers) Get(key string) (string, bool) {
	if value, ok := h[key]; ok {
		return string(value), true
	}
	for k, value := range h {
		if strings.EqualFold(k, key) {
			return string(value), true
		}
	}
	return "", false
}

func (h Headers) Set(key, value string) {
	h[key] = []byte(value)
}

func (h Headers) ContentType() string {
	value, _ := h.Get(HeaderContentType)
	return value
}
