package server

import (
	_ "embed"
	"html/template"
)

//go:embed templates/signin.html
var signinPageTemplateHTML string

var signinPageTemplate = template.Must(template.New("signin").Parse(signinPageTemplateHTML))

// SigninPageData represents the data for the sign-in page
type SigninPageData struct {
	Providers    []SigninProviderData
	ReturnToPath string
}

// SigninProviderData represents one provider button on the sign-in page
type SigninProviderData struct {
	DisplayName string
	LoginURL    string // Pre-escaped /auth/{provider}/login?returnTo=...
}
