package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Receipt records one committed batch
type Receipt struct {
	ID        string    `json:"id"`
	Version   uint64    `json:"version"`
	Commands  []Command `json:"commands"`
	Timestamp time.Time `json:"timestamp"`
}

func newReceipt(version uint64, cmds []Command) Receipt {
	copied := make([]Command, len(cmds))
	copy(copied, cmds)
	return Receipt{
		ID:        uuid.New().String(),
		Version:   version,
		Commands:  copied,
		Timestamp: time.Now(),
	}
}

// Journal keeps the most recent receipts up to a fixed capacity
type Journal struct {
	mu       sync.RWMutex
	receipts []Receipt
	maxLen   int
}

// NewJournal creates a journal with max capacity
func NewJournal(maxLen int) *Journal {
	if maxLen <= 0 {
		maxLen = 1
	}
	return &Journal{
		receipts: make([]Receipt, 0, maxLen),
		maxLen:   maxLen,
	}
}

// Add records a receipt, trimming the oldest entries past capacity
func (j *Journal) Add(r Receipt) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.receipts = append(j.receipts, r)
	if len(j.receipts) > j.maxLen {
		j.receipts = j.receipts[len(j.receipts)-j.maxLen:]
	}
}

// Recent returns the most recent n receipts, oldest first
func (j *Journal) Recent(n int) []Receipt {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if n > len(j.receipts) {
		n = len(j.receipts)
	}
	if n < 0 {
		n = 0
	}

	result := make([]Receipt, n)
	copy(result, j.receipts[len(j.receipts)-n:])
	return result
}

// Len returns the number of retained receipts
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.receipts)
}
