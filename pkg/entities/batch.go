package entities

import "time"

// BatchCapacity is the number of files a batch accepts before it is full.
const BatchCapacity = 20

type Batch struct {
	ID        string    `db:"batch_id"`
	UserID    int64     `db:"user_id"`
	FileCount int       `db:"file_count"`
	CreatedAt time.Time `db:"created_at"`
}

// IsFull reports whether the batch can no longer be selected as active.
func (b *Batch) IsFull() bool {
	return b.FileCount >= BatchCapacity
}
