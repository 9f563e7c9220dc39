package consumer

import "github.com/iowanobos/mq-source/broker"

// transportProperties picks the requested headers of a delivery. Missing
// headers are left out.
func transportProperties(headers broker.Headers, names []string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	m := make(map[string]string, len(names))
	for _, name := range names {
		if value, ok := headers.Get(name); ok {
			m[name] = value
		}
	}
	return m
}
