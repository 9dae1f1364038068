package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed index.html js
var assets embed.FS

// IndexTemplate parses the viewer page. It is executed with the JSON encoded
// FrontendData.
func IndexTemplate() (*template.Template, error) {
	return template.ParseFS(assets, "index.html")
}

// StaticFS serves the viewer scripts under /static/js/.
func StaticFS() http.FileSystem {
	sub, err := fs.Sub(assets, "js")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}
