package outbox

import "errors"

var (
	ErrEventIDRequired    = errors.New("outbox: event id is required")
	ErrEventNameRequired  = errors.New("outbox: event name is required")
	ErrTopicRequired      = errors.New("outbox: topic is required")
	ErrPayloadRequired    = errors.New("outbox: payload is required")
	ErrPayloadNotJSON     = errors.New("outbox: payload is not valid JSON")
	ErrCreatedAtRequired  = errors.New("outbox: created at is required")
	ErrAlreadyProcessed   = errors.New("outbox: event already processed")
	ErrInvalidProcessedAt = errors.New("outbox: processed at must be after the epoch")
	ErrRetriesExhausted   = errors.New("outbox: retries exhausted")
	ErrEventNotFound      = errors.New("outbox: event not found")
	ErrRelayRunning       = errors.New("outbox: relay already running")
	ErrRepositoryRequired = errors.New("outbox: repository is required")
	ErrPublisherRequired  = errors.New("outbox: publisher is required")
)
