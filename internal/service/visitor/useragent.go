package visitor

import (
	"strings"

	"github.com/mssola/useragent"
)

type deviceInfo struct {
	Device  string
	Browser string
	OS      string
}

func parseUserAgent(raw string) deviceInfo {
	if strings.TrimSpace(raw) == "" {
		return deviceInfo{Device: "unknown", Browser: "unknown", OS: "unknown"}
	}

	ua := useragent.New(raw)
	info := deviceInfo{Device: "desktop"}

	switch {
	case ua.Bot():
		info.Device = "bot"
	case isTablet(raw):
		info.Device = "tablet"
	case ua.Mobile():
		info.Device = "mobile"
	}

	name, version := ua.Browser()
	info.Browser = strings.TrimSpace(name + " " + majorVersion(version))
	if info.Browser == "" {
		info.Browser = "unknown"
	}

	info.OS = ua.OSInfo().Name
	if v := ua.OSInfo().Version; v != "" {
		info.OS += " " + v
	}
	if strings.TrimSpace(info.OS) == "" {
		info.OS = "unknown"
	}
	return info
}

func isTablet(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.Contains(lower, "ipad") || (strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"))
}

func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i > 0 {
		return v[:i]
	}
	return v
}
