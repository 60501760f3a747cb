package collysession

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var errNoLoginForm = errors.New("sign-in form not found")

type loginForm struct {
	action      string
	fields      map[string]string
	hasEmail    bool
	hasPassword bool
}

// parseLoginForm finds the sign-in form on a page and collects its fields.
func parseLoginForm(pageURL string, body []byte) (loginForm, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return loginForm{}, fmt.Errorf("parse sign-in page: %w", err)
	}

	form := doc.Find(`form[name="signIn"]`).First()
	if form.Length() == 0 {
		doc.Find("form").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if s.Find(`input[name="email"], input[name="password"]`).Length() > 0 {
				form = s
				return false
			}
			return true
		})
	}
	if form.Length() == 0 {
		return loginForm{}, errNoLoginForm
	}

	out := loginForm{fields: map[string]string{}}
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		typ := strings.ToLower(in.AttrOr("type", "text"))
		switch typ {
		case "submit", "button", "image", "reset":
			return
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); !checked {
				return
			}
		}
		out.fields[name] = in.AttrOr("value", "")
		switch name {
		case "email":
			out.hasEmail = typ != "hidden"
		case "password":
			out.hasPassword = true
		}
	})

	action := strings.TrimSpace(form.AttrOr("action", ""))
	base, err := url.Parse(pageURL)
	if err != nil {
		return loginForm{}, fmt.Errorf("parse sign-in url: %w", err)
	}
	ref, err := url.Parse(action)
	if err != nil {
		return loginForm{}, fmt.Errorf("parse form action %q: %w", action, err)
	}
	out.action = base.ResolveReference(ref).String()
	return out, nil
}
