// Package export renders the current analysis as downloadable PDF and
// JSON documents.
package export

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smehta/metascan/internal/analysis"
)

// ErrNothingToExport is returned when the session has no analyzed photo
// or, for JSON, no raw tag bag to serialize.
var ErrNothingToExport = errors.New("nothing to export")

// JSON renders the raw metadata bag as pretty-printed JSON. Sessions
// restored from history carry no raw bag and cannot be exported this
// way.
func JSON(snap *analysis.Snapshot) ([]byte, error) {
	if snap == nil || len(snap.Raw) == 0 {
		return nil, ErrNothingToExport
	}
	out, err := json.MarshalIndent(snap.Raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal raw metadata: %w", err)
	}
	return out, nil
}
