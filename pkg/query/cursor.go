package query

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/kittclouds/agentlog/pkg/clerr"
	"github.com/kittclouds/agentlog/pkg/ftsindex"
)

// encodeCursor packs an offset tiebreak plus the index schema hash into an
// opaque, base64-encoded token. Reissuing a cursor after the index schema
// hash changed is detected and reported as clerr.KindCursorInvalidated; a
// rebuild under the same schema hash leaves earlier cursors accepted.
func encodeCursor(offset int) string {
	raw := fmt.Sprintf("%s:%d", ftsindex.SchemaHash, offset)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, clerr.New(clerr.KindUsage, "malformed cursor").WithHint("cursors are opaque; do not hand-construct them")
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return 0, clerr.New(clerr.KindUsage, "malformed cursor")
	}
	if parts[0] != ftsindex.SchemaHash {
		return 0, clerr.New(clerr.KindCursorInvalidated, "index schema changed since this cursor was issued").
			WithHint("restart pagination from the first page")
	}
	offset, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, clerr.New(clerr.KindUsage, "malformed cursor")
	}
	return offset, nil
}
