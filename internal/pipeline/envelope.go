package pipeline

// ReplyEnvelope is the outbound message produced when a job finishes,
// successfully or not. It is ephemeral: built by the worker, consumed by
// the dispatcher, never stored.
type ReplyEnvelope struct {
	ChatID           int64
	ReplyToMessageID int
	Text             string
	IsError          bool
}
