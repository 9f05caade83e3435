package engine

import (
	"encoding/json"
	"fmt"

	"sendgate/internal/queue"
	"sendgate/internal/quota"
)

// stateVersion tags the persisted envelope. Schema evolution adds fields,
// never repurposes them; older blobs keep decoding.
const stateVersion = 1

// persistedState is the durable record for one account: the bare quota
// bookkeeping plus the ordered queue items. Derived values (eligibility,
// tier, spacing) are never persisted.
type persistedState struct {
	Version int          `json:"version"`
	Quota   quota.State  `json:"quota"`
	Queue   []queue.Item `json:"queue,omitempty"`
}

func encodeState(q quota.State, items []queue.Item) ([]byte, error) {
	return json.Marshal(persistedState{Version: stateVersion, Quota: q, Queue: items})
}

func decodeState(blob []byte) (persistedState, error) {
	var ps persistedState
	if err := json.Unmarshal(blob, &ps); err != nil {
		return persistedState{}, err
	}
	if ps.Version <= 0 || ps.Version > stateVersion {
		return persistedState{}, fmt.Errorf("unsupported state version %d", ps.Version)
	}
	return ps, nil
}
