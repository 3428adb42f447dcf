package transport

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"net/http"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/yuin/goldmark"

	"github.com/ankleBowl/LucyServer/internal/capability"
)

//go:embed static/*
var staticFiles embed.FS

// RegisterChatRoutes adds the chat UI routes to a mux.
func RegisterChatRoutes(mux *http.ServeMux) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(subFS))

	mux.HandleFunc("GET /chat", func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = "/chat.html"
		fileServer.ServeHTTP(w, r)
	})
}

// writePreview renders a module preview result.
func writePreview(w http.ResponseWriter, r *http.Request, p capability.Preview) {
	switch p.Type {
	case "redirect":
		http.Redirect(w, r, p.Content, http.StatusTemporaryRedirect)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, p.Content)
	}
}

// handleModuleDocs renders the loaded modules' function documentation
// as an HTML page, built from generated markdown.
func (s *Server) handleModuleDocs(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	sess, ok := s.sessions.Get(user)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var md bytes.Buffer
	md.WriteString("# Modules\n\n")
	for _, name := range sess.Registry().Names() {
		docs, err := sess.Registry().Docs(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(&md, "## %s\n\n", name)
		if len(docs.Functions) == 0 {
			md.WriteString("_No model-invocable functions._\n\n")
			continue
		}
		for _, f := range docs.Functions {
			fmt.Fprintf(&md, "- **%s**(%s) — %s\n", f.Function, argList(f.Args), f.Description)
		}
		md.WriteString("\n")
	}

	var html bytes.Buffer
	if err := goldmark.Convert(md.Bytes(), &html); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html.Bytes())
}

func argList(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

// handlePairCode serves a QR code that opens the chat page for a user,
// for pairing phones and wall tablets.
func (s *Server) handlePairCode(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")

	target := fmt.Sprintf("http://%s/chat?user=%s", r.Host, user)
	png, err := qrcode.Encode(target, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
