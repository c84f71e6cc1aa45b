// Package form holds the multipart form model the runtime submits with every
// POST: an ordered multi-valued field list with file support, plus the
// encoder that writes DOM control values and nested objects into it.
package form

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// File is an uploaded file held in memory.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// OpenFile reads path into a File.
func OpenFile(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &File{
		Name:        filepath.Base(path),
		ContentType: "application/octet-stream",
		Content:     content,
	}, nil
}

// Entry is one name/value pair. File is set for file entries, in which case
// Value holds the file name.
type Entry struct {
	Name  string
	Value string
	File  *File
}

// Target is anything the encoder can write field values into.
type Target interface {
	Has(name string) bool
	Get(name string) (string, bool)
	GetAll(name string) []string
	Set(name, value string)
	Append(name, value string)
	SetFile(name string, f *File)
	AppendFile(name string, f *File)
	Delete(name string)
}

// Data is an ordered multi-valued form. It is safe for concurrent use.
type Data struct {
	mu      sync.RWMutex
	entries []Entry
	dirty   bool
}

// NewData returns an empty form.
func NewData() *Data {
	return &Data{}
}

func (d *Data) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Get returns the first value stored under name.
func (d *Data) Get(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// GetAll returns every value stored under name in insertion order.
func (d *Data) GetAll(name string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, e := range d.entries {
		if e.Name == name {
			out = append(out, e.Value)
		}
	}
	return out
}

// Files returns every file stored under name.
func (d *Data) Files(name string) []*File {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*File
	for _, e := range d.entries {
		if e.Name == name && e.File != nil {
			out = append(out, e.File)
		}
	}
	return out
}

// Set replaces all values of name with value. The field keeps the position
// of its first occurrence.
func (d *Data) Set(name, value string) {
	d.set(Entry{Name: name, Value: value})
}

func (d *Data) Append(name, value string) {
	d.mu.Lock()
	d.entries = append(d.entries, Entry{Name: name, Value: value})
	d.mu.Unlock()
}

func (d *Data) SetFile(name string, f *File) {
	d.set(Entry{Name: name, Value: f.Name, File: f})
}

func (d *Data) AppendFile(name string, f *File) {
	d.mu.Lock()
	d.entries = append(d.entries, Entry{Name: name, Value: f.Name, File: f})
	d.mu.Unlock()
}

func (d *Data) set(e Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.entries[:0]
	placed := false
	for _, cur := range d.entries {
		if cur.Name != e.Name {
			out = append(out, cur)
			continue
		}
		if !placed {
			out = append(out, e)
			placed = true
		}
	}
	if !placed {
		out = append(out, e)
	}
	d.entries = out
}

func (d *Data) Delete(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.entries[:0]
	for _, e := range d.entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	d.entries = out
}

// Entries returns a copy of all entries in order.
func (d *Data) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Entry(nil), d.entries...)
}

// Names returns the distinct field names in sorted order.
func (d *Data) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for _, e := range d.entries {
		if !seen[e.Name] {
			seen[e.Name] = true
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (d *Data) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Clone copies the entries. Files are shared.
func (d *Data) Clone() *Data {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return &Data{entries: append([]Entry(nil), d.entries...), dirty: d.dirty}
}

// Dirty reports whether a bound control changed the form since the flag was
// last cleared.
func (d *Data) Dirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dirty
}

func (d *Data) SetDirty(v bool) {
	d.mu.Lock()
	d.dirty = v
	d.mu.Unlock()
}

// Map flattens the form to name -> values.
func (d *Data) Map() map[string][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string][]string)
	for _, e := range d.entries {
		out[e.Name] = append(out[e.Name], e.Value)
	}
	return out
}

// WriteMultipart encodes the form as multipart/form-data and returns the
// content type including the boundary.
func (d *Data) WriteMultipart(w io.Writer) (string, error) {
	mw := multipart.NewWriter(w)
	for _, e := range d.Entries() {
		if e.File == nil {
			if err := mw.WriteField(e.Name, e.Value); err != nil {
				return "", err
			}
			continue
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(e.Name), escapeQuotes(e.File.Name)))
		ct := e.File.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(e.File.Content); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	return mw.FormDataContentType(), nil
}

// Body returns the multipart encoding as a reader.
func (d *Data) Body() (io.Reader, string, error) {
	var buf bytes.Buffer
	ct, err := d.WriteMultipart(&buf)
	if err != nil {
		return nil, "", err
	}
	return &buf, ct, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
