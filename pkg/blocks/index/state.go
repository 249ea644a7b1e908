package index

import (
	"encoding/json"

	"github.com/cuemby/blockengine/pkg/block"
)

// marshalState serializes any block's internal state struct to a
// block.Snapshot. It never fails: a struct that cannot be marshaled is a
// programming error, not a runtime condition, so we swallow it into an
// empty snapshot rather than threading an error through every GetState.
func marshalState(v any) block.Snapshot {
	b, err := json.Marshal(v)
	if err != nil {
		return block.Snapshot{}
	}
	return block.Snapshot(b)
}

// unmarshalState decodes a block.Snapshot into dst, wrapping decode
// failures as an initialization error.
func unmarshalState(s block.Snapshot, dst any) error {
	if len(s) == 0 {
		return nil
	}
	if err := json.Unmarshal(s, dst); err != nil {
		return block.InitializationError("invalid snapshot: %v", err)
	}
	return nil
}
