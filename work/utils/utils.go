package utils

import (
	"net/url"

	"stalker-player/work/config"
)

// LogURL returns either the original URL or an obfuscated version for logging,
// depending on the obfuscation setting. Stream URLs carry short-lived access
// tokens, so they should never hit the logs verbatim on shared deployments.
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// ObfuscateURL masks the path, query and fragment of a URL while keeping the
// scheme and host visible, so logs still show which server a request went to.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		// If parsing fails, just obfuscate the whole thing
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}
