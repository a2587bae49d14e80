package testcase

import (
	"strings"
)

// Placeholders used when no request could be rendered.
const (
	CurlMissingURL  = "N/A - Missing URL"
	CurlNotExecuted = "N/A - Not executed"
)

type header struct {
	key   string
	value string
}

// headerList keeps insertion order while letting later keys replace earlier ones
// case-insensitively.
type headerList []header

func (h headerList) set(key, value string) headerList {
	for i := range h {
		if strings.EqualFold(h[i].key, key) {
			h[i] = header{key: key, value: value}
			return h
		}
	}
	return append(h, header{key: key, value: value})
}

// curlCommand renders a request as a shell command.
func curlCommand(method, url string, headers headerList, body string) string {
	var b strings.Builder
	b.WriteString("curl -X ")
	b.WriteString(method)
	b.WriteString(" '")
	b.WriteString(url)
	b.WriteString("'")
	for _, h := range headers {
		b.WriteString(" -H '")
		b.WriteString(h.key)
		b.WriteString(": ")
		b.WriteString(h.value)
		b.WriteString("'")
	}
	if body != "" {
		b.WriteString(" -d '")
		b.WriteString(body)
		b.WriteString("'")
	}
	return b.String()
}
