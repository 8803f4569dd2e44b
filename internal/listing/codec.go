package listing

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// Encode writes the listing as an XZ-compressed JSON array of file objects,
// the persisted prior-state format. Files are written in path order so the
// output is deterministic.
func Encode(w io.Writer, l *Listing) error {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("listing: starting xz writer: %w", err)
	}

	files := make([]*File, 0, l.Len())
	for _, p := range l.SortedPaths() {
		files = append(files, l.GetPath(p))
	}

	if err := json.NewEncoder(xw).Encode(files); err != nil {
		return fmt.Errorf("listing: encoding: %w", err)
	}

	if err := xw.Close(); err != nil {
		return fmt.Errorf("listing: closing xz writer: %w", err)
	}

	return nil
}

// Decode reads an XZ-compressed JSON array of file objects.
func Decode(r io.Reader) (*Listing, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("listing: starting xz reader: %w", err)
	}

	var files []*File
	if err := json.NewDecoder(xr).Decode(&files); err != nil {
		return nil, fmt.Errorf("listing: decoding: %w", err)
	}

	return New(files...)
}
