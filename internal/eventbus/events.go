package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Типы событий о картах
const (
	EventMapImported     = "MapImported"
	EventChangesAppended = "ChangesAppended"
	EventMapCompacted    = "MapCompacted"
	EventMapDeleted      = "MapDeleted"
)

// Приоритеты событий. При переполненном буфере в памяти
// события ниже PriorityHigh отбрасываются.
const (
	PriorityLow    = 0
	PriorityNormal = 3
	PriorityHigh   = 5
)

// Ключи метаданных
const (
	MetaMapID        = "map_id"
	MetaMapName      = "map_name"
	MetaBatchID      = "batch_id"
	MetaCodecVersion = "codec_version"
)

// NewEnvelope создаёт событие с новым ID и текущим временем (UTC)
func NewEnvelope(source, eventType string, payload []byte, metadata map[string]string) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Priority:  priorityOf(eventType),
		Payload:   payload,
		Metadata:  metadata,
	}
}

// priorityOf: удаление и сжатие меняют состояние карты целиком
// и не должны теряться при переполнении буфера.
func priorityOf(eventType string) int {
	switch eventType {
	case EventMapDeleted, EventMapCompacted:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}
