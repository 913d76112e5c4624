package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// maxUserAgentSummary matches the user_agent column of payment_transactions
const maxUserAgentSummary = 255

// ClientInfo is the parsed view of a caller's User-Agent
type ClientInfo struct {
	DeviceType string `json:"device_type"` // mobile, desktop, bot
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	BrowserVer string `json:"browser_ver"`
}

// ParseClient parses a User-Agent string
func ParseClient(userAgent string) ClientInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return ClientInfo{DeviceType: "unknown", OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)
	name, version := parser.Browser()
	if name == "" {
		name = "Unknown"
	}

	info := ClientInfo{
		DeviceType: "desktop",
		OS:         osName(parser),
		Browser:    name,
		BrowserVer: version,
	}
	switch {
	case parser.Bot():
		info.DeviceType = "bot"
	case parser.Mobile():
		info.DeviceType = "mobile"
	}
	return info
}

// SummarizeUserAgent renders a short description such as "Chrome 120.0 on Windows 10 (desktop)".
// Provider servers calling webhooks usually show up as bots.
func SummarizeUserAgent(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return ""
	}
	info := ParseClient(userAgent)

	browser := info.Browser
	if info.BrowserVer != "" {
		browser += " " + info.BrowserVer
	}
	summary := browser + " on " + info.OS + " (" + info.DeviceType + ")"
	if len(summary) > maxUserAgentSummary {
		summary = summary[:maxUserAgentSummary]
	}
	return summary
}

func osName(parser *ua.UserAgent) string {
	osInfo := parser.OSInfo()
	if osInfo.Name == "" {
		return "Unknown"
	}
	if osInfo.Version != "" {
		return osInfo.Name + " " + osInfo.Version
	}
	return osInfo.Name
}
