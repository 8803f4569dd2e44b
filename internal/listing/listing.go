// Package listing implements the in-memory file-listing model: entries with
// path, size, modification time, and hashes, held in a table indexed for
// lookup by any subset of the fixed attributes.
package listing

import (
	"encoding/json"
	"fmt"
	"sort"
)

// File is a single listed file. Path is POSIX-style and relative to the
// remote root. ModTime is seconds since the epoch, nil when the remote did
// not report one. Hashes maps algorithm name to hex digest and may be nil.
//
// Attributes other than Hashes are stable once the file is inserted into a
// Listing; Hashes may be amended afterwards via Listing.AmendHashes.
type File struct {
	Path    string
	Size    int64
	ModTime *float64
	Hashes  map[string]string

	// extra preserves unknown JSON fields across a read. They are never
	// written back.
	extra map[string]json.RawMessage
}

// Clone returns a deep copy of the file.
func (f *File) Clone() *File {
	c := &File{Path: f.Path, Size: f.Size}

	if f.ModTime != nil {
		mt := *f.ModTime
		c.ModTime = &mt
	}

	if f.Hashes != nil {
		c.Hashes = make(map[string]string, len(f.Hashes))
		for k, v := range f.Hashes {
			c.Hashes[k] = v
		}
	}

	if f.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(f.extra))
		for k, v := range f.extra {
			c.extra[k] = append(json.RawMessage(nil), v...)
		}
	}

	return c
}

// SharedHash returns a hash algorithm present with non-empty digests on both
// files, or "" when the two share none.
func (f *File) SharedHash(other *File) string {
	for algo, digest := range f.Hashes {
		if digest == "" {
			continue
		}

		if other.Hashes[algo] != "" {
			return algo
		}
	}

	return ""
}

// fileJSON is the wire form of a File (§ state layout): mtime is a float or
// null, Hashes is optional.
type fileJSON struct {
	Path   string            `json:"Path"`
	Size   int64             `json:"Size"`
	ModTime *float64         `json:"mtime"`
	Hashes map[string]string `json:"Hashes,omitempty"`
}

// MarshalJSON writes the known fields only. Unknown fields captured at read
// time are dropped on write.
func (f *File) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileJSON{
		Path:    f.Path,
		Size:    f.Size,
		ModTime: f.ModTime,
		Hashes:  f.Hashes,
	})
}

// UnmarshalJSON reads the known fields and preserves everything else in the
// file's extra map.
func (f *File) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var fj fileJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		return err
	}

	f.Path = fj.Path
	f.Size = fj.Size
	f.ModTime = fj.ModTime
	f.Hashes = fj.Hashes

	for _, known := range []string{"Path", "Size", "mtime", "Hashes"} {
		delete(raw, known)
	}

	if len(raw) > 0 {
		f.extra = raw
	}

	return nil
}

// Query selects files by any subset of the indexed attributes. Nil fields
// are unconstrained.
type Query struct {
	Path    *string
	Size    *int64
	ModTime *float64
}

// Listing is a set of files unique by Path, indexed by Path, Size, and
// ModTime. It is built once per run and, apart from hash amendment, never
// mutated afterwards.
type Listing struct {
	byPath  map[string]*File
	bySize  map[int64]map[*File]struct{}
	byMtime map[float64]map[*File]struct{}
}

// New builds a listing from the given files. Duplicate paths are an error.
func New(files ...*File) (*Listing, error) {
	l := &Listing{
		byPath:  make(map[string]*File, len(files)),
		bySize:  make(map[int64]map[*File]struct{}),
		byMtime: make(map[float64]map[*File]struct{}),
	}

	for _, f := range files {
		if err := l.Insert(f); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// MustNew is New for callers (mostly tests) with known-unique paths.
func MustNew(files ...*File) *Listing {
	l, err := New(files...)
	if err != nil {
		panic(err)
	}

	return l
}

// Insert adds a file. It fails if the path is already present.
func (l *Listing) Insert(f *File) error {
	if _, ok := l.byPath[f.Path]; ok {
		return fmt.Errorf("listing: duplicate path %q", f.Path)
	}

	l.byPath[f.Path] = f

	if l.bySize[f.Size] == nil {
		l.bySize[f.Size] = make(map[*File]struct{})
	}

	l.bySize[f.Size][f] = struct{}{}

	if f.ModTime != nil {
		mt := *f.ModTime
		if l.byMtime[mt] == nil {
			l.byMtime[mt] = make(map[*File]struct{})
		}

		l.byMtime[mt][f] = struct{}{}
	}

	return nil
}

// Remove deletes the file with the given path if present. Idempotent.
func (l *Listing) Remove(path string) {
	f, ok := l.byPath[path]
	if !ok {
		return
	}

	delete(l.byPath, path)
	delete(l.bySize[f.Size], f)

	if len(l.bySize[f.Size]) == 0 {
		delete(l.bySize, f.Size)
	}

	if f.ModTime != nil {
		delete(l.byMtime[*f.ModTime], f)

		if len(l.byMtime[*f.ModTime]) == 0 {
			delete(l.byMtime, *f.ModTime)
		}
	}
}

// GetPath returns the file with the given path, or nil.
func (l *Listing) GetPath(path string) *File {
	return l.byPath[path]
}

// Get returns the single file matching every set field of the query, or nil
// when zero or more than one file matches. An empty query matches nothing.
func (l *Listing) Get(q Query) *File {
	switch {
	case q.Path != nil:
		f := l.byPath[*q.Path]
		if f == nil || !matches(f, q) {
			return nil
		}

		return f

	case q.Size != nil:
		return unique(l.bySize[*q.Size], q)

	case q.ModTime != nil:
		return unique(l.byMtime[*q.ModTime], q)

	default:
		return nil
	}
}

// unique narrows an index bucket by the remaining query fields and returns
// the match only when it is unambiguous.
func unique(bucket map[*File]struct{}, q Query) *File {
	var found *File

	for f := range bucket {
		if !matches(f, q) {
			continue
		}

		if found != nil {
			return nil
		}

		found = f
	}

	return found
}

func matches(f *File, q Query) bool {
	if q.Path != nil && f.Path != *q.Path {
		return false
	}

	if q.Size != nil && f.Size != *q.Size {
		return false
	}

	if q.ModTime != nil && (f.ModTime == nil || *f.ModTime != *q.ModTime) {
		return false
	}

	return true
}

// AmendHashes attaches a hash map to the file with the given path. Hashes is
// the only attribute that may change after insertion. Reports whether the
// path was present.
func (l *Listing) AmendHashes(path string, hashes map[string]string) bool {
	f, ok := l.byPath[path]
	if !ok {
		return false
	}

	f.Hashes = hashes

	return true
}

// Len returns the number of files.
func (l *Listing) Len() int { return len(l.byPath) }

// Files returns the files in unspecified order.
func (l *Listing) Files() []*File {
	out := make([]*File, 0, len(l.byPath))
	for _, f := range l.byPath {
		out = append(out, f)
	}

	return out
}

// SortedPaths returns all paths in lexical order.
func (l *Listing) SortedPaths() []string {
	out := make([]string, 0, len(l.byPath))
	for p := range l.byPath {
		out = append(out, p)
	}

	sort.Strings(out)

	return out
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	c, _ := New()
	for _, f := range l.byPath {
		_ = c.Insert(f.Clone())
	}

	return c
}
