package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/iudanet/casesync/internal/models"
)

// EntityIDPattern определяет допустимый формат идентификатора сущности
// Латинские буквы, цифры, нижнее подчеркивание и дефис
// Длина: 1-64 символа
var EntityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// MaxEntityIDLen максимальная длина идентификатора
const MaxEntityIDLen = 64

// MaxPayloadBytes caps the serialized entity document. Larger documents
// would bloat the durable queue and every push request carrying them.
const MaxPayloadBytes = 256 * 1024

// ValidateEntityType проверяет, что тип сущности известен движку
func ValidateEntityType(entityType string) error {
	switch entityType {
	case models.EntityTypeContact, models.EntityTypeCase, models.EntityTypeMessage:
		return nil
	}
	return fmt.Errorf("unknown entity type %q (expected %s, %s or %s)",
		entityType, models.EntityTypeContact, models.EntityTypeCase, models.EntityTypeMessage)
}

// ValidateEntityID проверяет формат идентификатора сущности
func ValidateEntityID(entityID string) error {
	if entityID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if len(entityID) > MaxEntityIDLen {
		return fmt.Errorf("entity id must not exceed %d characters", MaxEntityIDLen)
	}
	if !EntityIDPattern.MatchString(entityID) {
		return fmt.Errorf("entity id can only contain letters (a-z, A-Z), numbers (0-9), underscores (_) and hyphens (-)")
	}
	return nil
}

// ValidatePayload проверяет документ сущности для данной операции.
// Create и update требуют JSON объект; delete несет пустой payload
func ValidatePayload(op models.Operation, payload json.RawMessage) error {
	if op == models.OpDelete {
		return nil
	}

	if len(payload) == 0 {
		return fmt.Errorf("payload cannot be empty for %s", op)
	}
	if len(payload) > MaxPayloadBytes {
		return fmt.Errorf("payload exceeds %d bytes", MaxPayloadBytes)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}

	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("payload must be a JSON object")
	}

	return nil
}
