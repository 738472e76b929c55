package domain

// ItemState is the download client's reported state for a queue item.
type ItemState string

const (
	ItemStateQueued      ItemState = "queued"
	ItemStateDownloading ItemState = "downloading"
	ItemStateExtracting  ItemState = "extracting"
	ItemStateCompleted   ItemState = "completed"
	ItemStateFailed      ItemState = "failed"
	ItemStatePaused      ItemState = "paused"
)

// QueueItem is one entry of a queue snapshot.
type QueueItem struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	State    ItemState `json:"state"`
	Message  string    `json:"message,omitempty"`
	Release  string    `json:"release,omitempty"`
	Quality  string    `json:"quality,omitempty"`
}

// QueueSnapshot is a point-in-time view of the external queue. It is the
// monitor's diffing input only and is never persisted as a first-class
// entity.
type QueueSnapshot struct {
	Active  []QueueItem
	History []QueueItem
}

// Items returns active and recent-history entries as one list.
func (s *QueueSnapshot) Items() []QueueItem {
	items := make([]QueueItem, 0, len(s.Active)+len(s.History))
	items = append(items, s.Active...)
	items = append(items, s.History...)
	return items
}

// Failed reports whether the item is in a failure state.
func (i QueueItem) Failed() bool {
	return i.State == ItemStateFailed
}
