package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperation_Valid(t *testing.T) {
	assert.True(t, OpCreate.Valid())
	assert.True(t, OpUpdate.Valid())
	assert.True(t, OpDelete.Valid())
	assert.False(t, Operation("merge").Valid())
	assert.False(t, Operation("").Valid())
}

func TestOptimisticUpdate_Clone(t *testing.T) {
	original := &OptimisticUpdate{
		UpdateID:   "u-1",
		EntityType: EntityTypeContact,
		EntityID:   "c-1",
		Operation:  OpUpdate,
		Payload:    json.RawMessage(`{"name":"Bia"}`),
		InverseSnapshot: &Snapshot{
			EntityType: EntityTypeContact,
			EntityID:   "c-1",
			Payload:    json.RawMessage(`{"name":"Ana"}`),
			Version:    3,
		},
		BaseVersion: 3,
	}

	clone := original.Clone()
	clone.Payload[9] = 'X'
	clone.InverseSnapshot.Payload[9] = 'X'
	clone.BaseVersion = 99

	assert.JSONEq(t, `{"name":"Bia"}`, string(original.Payload))
	assert.JSONEq(t, `{"name":"Ana"}`, string(original.InverseSnapshot.Payload))
	assert.Equal(t, int64(3), original.BaseVersion)
}

func TestOptimisticUpdate_CloneNilInverse(t *testing.T) {
	original := &OptimisticUpdate{
		UpdateID:  "u-1",
		Operation: OpCreate,
		Payload:   json.RawMessage(`{}`),
	}

	clone := original.Clone()
	assert.Nil(t, clone.InverseSnapshot)
}

func TestQueuedAction_Key(t *testing.T) {
	action := &QueuedAction{EntityType: EntityTypeCase, EntityID: "p-1"}
	assert.Equal(t, EntityKey{Type: "processo", ID: "p-1"}, action.Key())
}

func TestEvent_MarshalPayload(t *testing.T) {
	event := &Event{
		Type:    EventSynced,
		Payload: map[string]any{"entity": "contato/c-1"},
	}

	raw, err := event.MarshalPayload()
	assert.NoError(t, err)
	assert.JSONEq(t, `{"entity":"contato/c-1"}`, string(raw))

	empty := &Event{Type: EventOnline}
	raw, err = empty.MarshalPayload()
	assert.NoError(t, err)
	assert.Nil(t, raw)
}
