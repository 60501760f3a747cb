// Package session holds helpers shared by the session driver implementations.
package session

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Sign-in defaults shared by the drivers.
const (
	DefaultSignInPath   = "/gp/sign-in.html"
	DefaultSignInPrefix = "/ap/signin"
)

// failureSelectors locate the storefront's sign-in error text, most specific first.
var failureSelectors = []string{
	"#auth-error-message-box .a-alert-content",
	"#message_error",
	"#auth-error-message-box",
	".a-alert-content",
}

// SignInFailure extracts the human-readable reason from a rejected sign-in page.
func SignInFailure(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	for _, sel := range failureSelectors {
		if text := strings.Join(strings.Fields(doc.Find(sel).First().Text()), " "); text != "" {
			return text
		}
	}
	return ""
}

// OnSignInPage reports whether rawURL's path starts with prefix.
func OnSignInPage(rawURL, prefix string) bool {
	if prefix == "" {
		prefix = DefaultSignInPrefix
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, prefix)
}

// SignInURL joins the base URL and sign-in path.
func SignInURL(baseURL, path string) string {
	if path == "" {
		path = DefaultSignInPath
	}
	return strings.TrimRight(baseURL, "/") + path
}
