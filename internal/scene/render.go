package scene

import (
	"bytes"
	"html"
	"html/template"
	"io"
	"sort"
	"strings"
)

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) write(parts ...string) {
	for _, p := range parts {
		if ew.err != nil {
			return
		}
		_, ew.err = io.WriteString(ew.w, p)
	}
}

// Render writes n and its subtree as markup.
func Render(w io.Writer, n *Node) error {
	ew := &errWriter{w: w}
	writeNode(ew, n)
	return ew.err
}

func writeNode(ew *errWriter, n *Node) {
	ew.write("<", n.Tag)
	for _, a := range n.attrs {
		ew.write(" ", a.key, `="`, html.EscapeString(a.value), `"`)
	}
	if len(n.styles) > 0 {
		ew.write(` style="`, html.EscapeString(styleString(n.styles)), `"`)
	}

	events := make([]string, 0, len(n.handlers))
	for ev := range n.handlers {
		events = append(events, string(ev))
	}
	sort.Strings(events)
	for _, ev := range events {
		encoded, err := encodeActions(n.handlers[EventType(ev)])
		if err != nil {
			ew.err = err
			return
		}
		ew.write(" data-on-", ev, `="`, html.EscapeString(encoded), `"`)
	}
	ew.write(">")

	switch {
	case n.html != "":
		ew.write(n.html)
	case n.text != "":
		ew.write(html.EscapeString(n.text))
	}
	for _, c := range n.children {
		writeNode(ew, c)
	}
	ew.write("</", n.Tag, ">")
}

func styleString(styles []pair) string {
	parts := make([]string, len(styles))
	for i, s := range styles {
		parts[i] = s.key + ": " + s.value
	}
	return strings.Join(parts, "; ")
}

// Render writes every container in order.
func (d *Document) Render(w io.Writer) error {
	for _, c := range d.containers {
		if err := Render(w, c); err != nil {
			return err
		}
	}
	return nil
}

// RenderPage writes a standalone HTML page holding the document and the
// script that wires the declarative handlers.
func (d *Document) RenderPage(w io.Writer, title string) error {
	var body bytes.Buffer
	if err := d.Render(&body); err != nil {
		return err
	}
	return pageTemplate.Execute(w, struct {
		Title  string
		Body   template.HTML
		Script template.JS
	}{
		Title:  title,
		Body:   template.HTML(body.String()),
		Script: template.JS(behaviourScript),
	})
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: sans-serif; margin: 24px; color: #333333; }
        .tooltip { position: absolute; pointer-events: none; font-size: 12px; }
    </style>
</head>
<body>
{{.Body}}
<script>{{.Script}}</script>
</body>
</html>
`))

const behaviourScript = `
document.addEventListener("DOMContentLoaded", function () {
  ["pointerenter", "pointermove", "pointerleave"].forEach(function (type) {
    document.querySelectorAll("[data-on-" + type + "]").forEach(function (el) {
      var actions = JSON.parse(el.getAttribute("data-on-" + type));
      el.addEventListener(type, function (e) {
        actions.forEach(function (a) {
          var t = a.target === "self" ? el : document.getElementById(a.target);
          if (!t) { return; }
          if (a.kind === "style") {
            t.style.setProperty(a.prop, a.value);
          } else if (a.kind === "html") {
            t.innerHTML = a.value;
          } else if (a.kind === "follow") {
            var box = (t.offsetParent || document.body).getBoundingClientRect();
            t.style.left = (e.clientX - box.left + (a.dx || 0)) + "px";
            t.style.top = (e.clientY - box.top + (a.dy || 0)) + "px";
          }
        });
      });
    });
  });
});
`
