package writer

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// FragmentFormatVersion is stamped into every new fragment's name and its
// footer, so future format changes can be detected on read-back.
const FragmentFormatVersion = 1

// newFragmentName mirrors new_fragment_name: a URI unique within the
// array, sortable by timestamp range, disambiguated by a random UUID
// rendered as a 32-character hex string (no dashes).
func newFragmentName(tFirst, tLast uint64) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("__%d_%d_%s_%d", tFirst, tLast, id, FragmentFormatVersion)
}
