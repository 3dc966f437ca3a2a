package cache

import (
	"encoding/json"
	"fmt"

	"github.com/iudanet/casesync/internal/models"
)

// MergeFields performs a shallow field-level merge of a local and a remote
// snapshot of the same entity. The remote payload is the base; top-level
// fields present in the local payload overwrite it. The result keeps the
// remote version so a re-enqueued update bases on the server's state.
func MergeFields(local, remote *models.Snapshot) (*models.Snapshot, error) {
	if local.Key() != remote.Key() {
		return nil, fmt.Errorf("cannot merge different entities: %s vs %s", local.Key(), remote.Key())
	}

	var localFields, remoteFields map[string]json.RawMessage

	if err := json.Unmarshal(local.Payload, &localFields); err != nil {
		return nil, fmt.Errorf("failed to decode local payload: %w", err)
	}
	if err := json.Unmarshal(remote.Payload, &remoteFields); err != nil {
		return nil, fmt.Errorf("failed to decode remote payload: %w", err)
	}

	merged := make(map[string]json.RawMessage, len(remoteFields)+len(localFields))
	for k, v := range remoteFields {
		merged[k] = v
	}
	for k, v := range localFields {
		merged[k] = v
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged payload: %w", err)
	}

	result := remote.Clone()
	result.Payload = payload

	return result, nil
}
