package partitioning

import (
	"encoding/json"

	"github.com/cuemby/blockengine/pkg/block"
)

func marshalState(v any) block.Snapshot {
	b, err := json.Marshal(v)
	if err != nil {
		return block.Snapshot{}
	}
	return block.Snapshot(b)
}

func unmarshalState(s block.Snapshot, dst any) error {
	if len(s) == 0 {
		return nil
	}
	if err := json.Unmarshal(s, dst); err != nil {
		return block.InitializationError("invalid snapshot: %v", err)
	}
	return nil
}
