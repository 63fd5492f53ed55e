package realtime

import (
	"sort"
	"sync"

	"github.com/JosephHidalgo/AcademicProjectManager/internal/models"
)

// Merge concatenates polled then pushed, keeps the first occurrence of each message ID and
// orders the result by creation time. Equal timestamps keep concatenation order. Inputs are
// not modified.
func Merge(polled, pushed []models.ChatMessage) []models.ChatMessage {
	merged := make([]models.ChatMessage, 0, len(polled)+len(pushed))
	seen := make(map[int]struct{}, len(polled)+len(pushed))

	for _, feed := range [][]models.ChatMessage{polled, pushed} {
		for _, message := range feed {
			if _, dup := seen[message.ID]; dup {
				continue
			}
			seen[message.ID] = struct{}{}
			merged = append(merged, message)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

// Reconciler holds the polled and pushed feeds of one room.
type Reconciler struct {
	mu     sync.Mutex
	polled []models.ChatMessage
	pushed []models.ChatMessage
}

// NewReconciler returns an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// SetPolled replaces the polled feed wholesale.
func (r *Reconciler) SetPolled(messages []models.ChatMessage) {
	copied := append([]models.ChatMessage(nil), messages...)

	r.mu.Lock()
	r.polled = copied
	r.mu.Unlock()
}

// AppendPushed records a message received over the channel.
func (r *Reconciler) AppendPushed(message models.ChatMessage) {
	r.mu.Lock()
	r.pushed = append(r.pushed, message)
	r.mu.Unlock()
}

// MarkRead flips IsRead on every message in either feed whose ID is listed. It returns the
// number of entries changed.
func (r *Reconciler) MarkRead(ids []int) int {
	if len(ids) == 0 {
		return 0
	}
	wanted := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, feed := range [][]models.ChatMessage{r.polled, r.pushed} {
		for i := range feed {
			if _, ok := wanted[feed[i].ID]; ok && !feed[i].IsRead {
				feed[i].IsRead = true
				changed++
			}
		}
	}
	return changed
}

// View returns the merged, deduplicated and ordered message list.
func (r *Reconciler) View() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Merge(r.polled, r.pushed)
}

// Polled returns a copy of the polled feed.
func (r *Reconciler) Polled() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChatMessage(nil), r.polled...)
}

// Reset discards both feeds.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.polled = nil
	r.pushed = nil
	r.mu.Unlock()
}
