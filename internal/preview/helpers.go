package preview

import (
	"net/mail"
	"strings"
	"time"
)

func domainOf(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	addrs, err := mail.ParseAddressList(from)
	if err != nil {
		return extractDomain(from)
	}
	for _, addr := range addrs {
		if dom := extractDomain(addr.Address); dom != "" {
			return dom
		}
	}
	return ""
}

func extractDomain(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return ""
	}
	at := strings.LastIndex(address, "@")
	if at == -1 {
		return ""
	}
	domain := address[at+1:]
	return strings.Trim(domain, ".> ")
}

// headerValue looks a header up case-insensitively; Gmail preserves the
// sender's casing.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func parseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	t, err := mail.ParseDate(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
