package gmail

import "time"

// MessageID identifies one message within the mailbox.
type MessageID string

// LabelID identifies a Gmail label, system (TRASH, INBOX) or user defined.
type LabelID string

// System labels the pipeline knows about.
const (
	LabelTrash LabelID = "TRASH"
)

// Gmail request limits.
const (
	MaxPageSize  = 500
	MaxBatchSize = 1000
)

// ListPage is one page of a messages.list response.
type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}

// MessageMeta holds the headers-only view of a message.
type MessageMeta struct {
	ID      MessageID
	Headers map[string]string // From, Subject, Date
	Date    time.Time
}

// ModifyOps describes the label transition applied by one batchModify request.
type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

// TrashOps moves messages to Trash and removes nothing.
func TrashOps() ModifyOps {
	return ModifyOps{AddLabels: []LabelID{LabelTrash}}
}

type Query struct {
	Raw string // Gmail query string, e.g. `category:promotions older_than:1y`
}
