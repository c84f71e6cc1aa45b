package view

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/qor5/web/internal/form"
)

// controlOf reads the state of the control n marks up.
func controlOf(n *html.Node) form.Control {
	switch n.Data {
	case "input":
		kind := inputKind(n)
		value, hasValue := attr(n, "value")
		if !hasValue && (kind == form.KindCheckbox || kind == form.KindRadio) {
			value = "on"
		}
		_, checked := attr(n, "checked")
		return form.Control{Kind: kind, Value: value, Checked: checked}
	case "textarea":
		return form.Control{Kind: form.KindTextarea, Value: textContent(n)}
	case "select":
		return form.Control{Kind: form.KindSelect, Value: selectedOption(n)}
	}

	value, ok := attr(n, "value")
	if !ok {
		value, _ = attr(n, "model-value")
	}
	return form.Control{Kind: form.KindCustom, Value: value}
}

func inputKind(n *html.Node) form.ControlKind {
	t, _ := attr(n, "type")
	switch kind := form.ControlKind(strings.ToLower(strings.TrimSpace(t))); kind {
	case form.KindNumber, form.KindHidden, form.KindCheckbox, form.KindRadio, form.KindFile:
		return kind
	}
	return form.KindText
}

// selectedOption returns the value of the selected option, or of the
// first one.
func selectedOption(n *html.Node) string {
	var first, selected *html.Node
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		if c.Type == html.ElementNode && c.Data == "option" {
			if first == nil {
				first = c
			}
			if _, ok := attr(c, "selected"); ok && selected == nil {
				selected = c
			}
		}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			visit(gc)
		}
	}
	visit(n)

	opt := selected
	if opt == nil {
		opt = first
	}
	if opt == nil {
		return ""
	}
	if v, ok := attr(opt, "value"); ok {
		return v
	}
	return strings.TrimSpace(textContent(opt))
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			visit(gc)
		}
	}
	visit(n)
	return sb.String()
}
