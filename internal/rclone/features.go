package rclone

import "encoding/json"

// parseFeatures decodes `backend features REMOTE` output. Absent fields get
// the conservative defaults (no server-side copy/move; empty directories
// supported).
func parseFeatures(raw string) (*Features, error) {
	var doc struct {
		Features struct {
			Copy                    *bool
			Move                    *bool
			CanHaveEmptyDirectories *bool
		}
	}

	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}

	f := &Features{CanHaveEmptyDirectories: true}

	if doc.Features.Copy != nil {
		f.Copy = *doc.Features.Copy
	}

	if doc.Features.Move != nil {
		f.Move = *doc.Features.Move
	}

	if doc.Features.CanHaveEmptyDirectories != nil {
		f.CanHaveEmptyDirectories = *doc.Features.CanHaveEmptyDirectories
	}

	return f, nil
}
