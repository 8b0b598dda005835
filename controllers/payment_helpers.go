package controllers

import (
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// RedirectOrigin returns the site the request came from: the Origin header,
// else the scheme and host of the Referer. Empty when neither is usable.
func RedirectOrigin(c *gin.Context) string {
	if origin := strings.TrimSpace(c.GetHeader("Origin")); origin != "" && origin != "null" {
		if u, err := url.Parse(origin); err == nil && isWebScheme(u.Scheme) && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	if ref := strings.TrimSpace(c.GetHeader("Referer")); ref != "" {
		if u, err := url.Parse(ref); err == nil && isWebScheme(u.Scheme) && u.Host != "" {
			return u.Scheme + "://" + u.Host
		}
	}
	return ""
}

func isWebScheme(s string) bool {
	return s == "http" || s == "https"
}
