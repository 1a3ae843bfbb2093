package platform

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/Masterminds/sprig/v3"

	pkgstrings "guichet/pkg/strings"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(
	template.New("callback.html.tmpl").
		Funcs(sprig.FuncMap()).
		ParseFS(templateFS, "templates/callback.html.tmpl"),
)

// Page is the content of the HTML page shown at the end of a login.
type Page struct {
	Success     bool
	Title       string
	Message     string
	Error       string
	Description string
}

// SuccessPage is shown after a completed login.
func SuccessPage() Page {
	return Page{
		Success: true,
		Title:   "Connexion réussie",
		Message: "Vous pouvez fermer cette fenêtre et revenir à l'application.",
	}
}

// ErrorPage is shown after a failed login.
func ErrorPage(code, description string) Page {
	return Page{
		Title:       "Échec de la connexion",
		Message:     "La connexion n'a pas pu aboutir.",
		Error:       code,
		Description: pkgstrings.Truncate(description, pkgstrings.DefaultMaxLen),
	}
}

// PageForResult picks the page matching an authorization response.
func PageForResult(r *CallbackResult) Page {
	if r.IsError() {
		return ErrorPage(r.Error, r.ErrorDescription)
	}
	if r.Code == "" {
		return ErrorPage("invalid_request", "missing authorization code")
	}
	return SuccessPage()
}

// RenderPage writes p as a complete HTML response with restrictive headers.
func RenderPage(w http.ResponseWriter, status int, p Page) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
}
