package audit

import (
	"strings"

	"github.com/mssola/useragent"
)

// DescribeDevice summarizes a User-Agent as "Browser Version / OS (kind)".
func DescribeDevice(ua string) string {
	if strings.TrimSpace(ua) == "" {
		return ""
	}
	parsed := useragent.New(ua)
	if parsed.Bot() {
		return "bot"
	}
	name, version := parsed.Browser()
	kind := "desktop"
	if parsed.Mobile() {
		kind = "mobile"
	}

	var b strings.Builder
	b.WriteString(name)
	if version != "" {
		if major, _, ok := strings.Cut(version, "."); ok {
			version = major
		}
		b.WriteString(" " + version)
	}
	if osName := parsed.OS(); osName != "" {
		b.WriteString(" / " + osName)
	}
	b.WriteString(" (" + kind + ")")
	return strings.TrimSpace(b.String())
}
