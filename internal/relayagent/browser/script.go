package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// editorLookup resolves the editor root for a selector, falling back to the
// first well-known editor surface when the selector is empty.
const editorLookup = `
	function findEditor(sel) {
		if (sel) return document.querySelector(sel);
		return document.querySelector('.cm-content, .CodeMirror, .monaco-editor, [contenteditable="true"], textarea');
	}
	function editorText(el) {
		if (!el) return '';
		if (el.CodeMirror) return el.CodeMirror.getValue();
		if (el.cmView && el.cmView.view) return el.cmView.view.state.doc.toString();
		if ('value' in el && typeof el.value === 'string') return el.value;
		return el.innerText || el.textContent || '';
	}
`

const observeScript = `(function(sel, lastLine) {` + editorLookup + `
	const el = findEditor(sel);
	const text = editorText(el);
	const trimmed = text.replace(/\s+$/, '');
	return {
		editor_detected: !!el,
		content_length: Array.from(text).length,
		last_line_present: !!lastLine && trimmed.endsWith(lastLine),
	};
})(%s, %s)`

const existsScript = `(function(sel) { return document.querySelector(sel) !== null; })(%s)`

// insertAPIScript writes through CodeMirror 5, CodeMirror 6, Monaco or the
// element's value property, in that order.
const insertAPIScript = `(function(sel, value, replace) {` + editorLookup + `
	const el = findEditor(sel);
	if (!el) return false;
	if (el.CodeMirror) {
		const cm = el.CodeMirror;
		if (replace) cm.setValue(value); else cm.replaceRange(value, {line: cm.lastLine() + 1, ch: 0});
		return true;
	}
	if (el.cmView && el.cmView.view) {
		const view = el.cmView.view;
		const from = replace ? 0 : view.state.doc.length;
		view.dispatch({changes: {from: from, to: view.state.doc.length, insert: value}});
		return true;
	}
	if (window.monaco && window.monaco.editor && window.monaco.editor.getEditors) {
		const ed = window.monaco.editor.getEditors().find(e => el.contains(e.getDomNode()));
		if (ed) {
			const model = ed.getModel();
			model.setValue(replace ? value : model.getValue() + value);
			return true;
		}
	}
	if ('value' in el && typeof el.value === 'string') {
		el.value = replace ? value : el.value + value;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	}
	return false;
})(%s, %s, %s)`

// caretScript focuses the element and selects its content (replace) or
// collapses the caret to its end (append).
const caretScript = `(function(sel, replace) {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.focus();
	if ('value' in el && typeof el.value === 'string') {
		const end = el.value.length;
		el.setSelectionRange(replace ? 0 : end, end);
		return true;
	}
	const range = document.createRange();
	range.selectNodeContents(el);
	if (!replace) range.collapse(false);
	const s = window.getSelection();
	s.removeAllRanges();
	s.addRange(range);
	return true;
})(%s, %s)`

// script fills a template's placeholders with JSON-encoded arguments.
func script(tmpl string, args ...any) string {
	enc := make([]any, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			b = []byte("null")
		}
		enc[i] = string(b)
	}
	return fmt.Sprintf(tmpl, enc...)
}

// LastLine returns the last non-blank line of s with trailing space removed.
func LastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, " \t\r\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimRight(lines[i], " \t\r"); strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}
