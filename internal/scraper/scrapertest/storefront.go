package scrapertest

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
)

const sessionCookie = "session-token"

// Storefront is a fake storefront with a cookie-based sign-in flow.
type Storefront struct {
	*httptest.Server

	user     string
	password string

	mu      sync.Mutex
	twoStep bool
	pages   map[string]string
	hits    map[string]int
}

// NewStorefront starts a Storefront accepting user/password. Call Close when done.
func NewStorefront(user, password string) *Storefront {
	s := &Storefront{
		user:     user,
		password: password,
		pages:    map[string]string{},
		hits:     map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/gp/sign-in.html", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ap/signin", http.StatusFound)
	})
	mux.HandleFunc("/ap/signin", s.signIn)
	mux.HandleFunc("/", s.serve)
	s.Server = httptest.NewServer(mux)
	return s
}

// SetTwoStep makes the sign-in form ask for the email before the password.
func (s *Storefront) SetTwoStep(on bool) {
	s.mu.Lock()
	s.twoStep = on
	s.mu.Unlock()
}

// SetPage serves body at requestURI (path plus raw query) for signed-in clients.
func (s *Storefront) SetPage(requestURI, body string) {
	s.mu.Lock()
	s.pages[requestURI] = body
	s.mu.Unlock()
}

// Hits returns how many signed-in requests reached requestURI.
func (s *Storefront) Hits(requestURI string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[requestURI]
}

func (s *Storefront) signIn(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	twoStep := s.twoStep
	s.mu.Unlock()

	if r.Method != http.MethodPost {
		writeSignInForm(w, "", !twoStep, "")
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("appActionToken") != "tok" {
		http.Error(w, "missing form token", http.StatusBadRequest)
		return
	}
	email := r.PostForm.Get("email")
	if _, ok := r.PostForm["password"]; !ok {
		writeSignInForm(w, email, true, "")
		return
	}
	if email != s.user || r.PostForm.Get("password") != s.password {
		writeSignInForm(w, email, true, "Your password is incorrect")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "ok", Path: "/"})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Storefront) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		_, _ = fmt.Fprint(w, "<html><body>Hello</body></html>")
		return
	}
	if c, err := r.Cookie(sessionCookie); err != nil || c.Value != "ok" {
		http.Redirect(w, r, "/ap/signin?openid.return_to="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
		return
	}
	s.mu.Lock()
	body, ok := s.pages[r.URL.RequestURI()]
	s.hits[r.URL.RequestURI()]++
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = fmt.Fprint(w, body)
}

func writeSignInForm(w http.ResponseWriter, email string, withPassword bool, failure string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, "<html><body>")
	if failure != "" {
		_, _ = fmt.Fprintf(w, `<div id="auth-error-message-box"><div class="a-alert-content"><ul><li>%s</li></ul></div></div>`, html.EscapeString(failure))
	}
	_, _ = fmt.Fprint(w, `<form name="signIn" method="post" action="/ap/signin">`)
	_, _ = fmt.Fprint(w, `<input type="hidden" name="appActionToken" value="tok">`)
	if withPassword && email != "" {
		_, _ = fmt.Fprintf(w, `<input type="hidden" name="email" value="%s">`, html.EscapeString(email))
	} else {
		_, _ = fmt.Fprint(w, `<input type="email" name="email" id="ap_email">`)
	}
	if withPassword {
		_, _ = fmt.Fprint(w, `<input type="password" name="password" id="ap_password">`)
		_, _ = fmt.Fprint(w, `<input type="submit" id="signInSubmit" value="Sign in">`)
	} else {
		_, _ = fmt.Fprint(w, `<input type="submit" id="continue" value="Continue">`)
	}
	_, _ = fmt.Fprint(w, "</form></body></html>")
}
