package dao

import (
	"errors"

	"github.com/connext/indra-sub007/model"
	"gorm.io/gorm"
)

func (d *Dao) InsertThread(tx *gorm.DB, ts *model.ThreadState) error {
	return tx.Create(ts).Error
}

// CurrentThread returns the newest row of the newest thread between a pair,
// or nil when the pair never opened one.
func (d *Dao) CurrentThread(tx *gorm.DB, sender, receiver string) (*model.ThreadState, error) {
	var ts model.ThreadState
	err := tx.Where("sender = ? AND receiver = ?", sender, receiver).
		Order("thread_id DESC, id DESC").
		Take(&ts).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// NextThreadID allocates the next threadId for a pair. Closed threads are
// terminal, so this is max(thread_id)+1, or 0 for a fresh pair.
func (d *Dao) NextThreadID(tx *gorm.DB, sender, receiver string) (uint64, error) {
	cur, err := d.CurrentThread(tx, sender, receiver)
	if err != nil {
		return 0, err
	}
	if cur == nil {
		return 0, nil
	}
	return cur.ThreadID + 1, nil
}

// OpenThreads returns the current OPEN thread rows a user participates in,
// used to recompute the thread root commitment.
func (d *Dao) OpenThreads(tx *gorm.DB, user string) ([]model.ThreadState, error) {
	var heads []model.ThreadState
	// newest row per (sender, receiver, thread_id)
	sub := tx.Session(&gorm.Session{NewDB: true}).
		Model(&model.ThreadState{}).
		Select("MAX(id)").
		Where("sender = ? OR receiver = ?", user, user).
		Group("sender, receiver, thread_id")
	err := tx.Where("id IN (?) AND status = ?", sub, model.ThreadStatusOpen).
		Order("id ASC").
		Find(&heads).Error
	return heads, err
}

// ThreadUpdatesAfter returns the thread rows with id > after for threads the
// user participates in, excluding rows of threads whose CLOSED row predates
// the sync point (the client already saw the whole lifecycle). The inner
// table carries an alias so the correlation binds to the outer row.
func (d *Dao) ThreadUpdatesAfter(tx *gorm.DB, user string, after uint64) ([]model.ThreadState, error) {
	var list []model.ThreadState
	closedBefore := tx.Session(&gorm.Session{NewDB: true}).
		Table("thread_state AS closed_ts").
		Select("1").
		Where("closed_ts.sender = thread_state.sender AND closed_ts.receiver = thread_state.receiver AND closed_ts.thread_id = thread_state.thread_id").
		Where("closed_ts.status = ? AND closed_ts.id <= ?", model.ThreadStatusClosed, after)
	err := tx.Model(&model.ThreadState{}).
		Where("(thread_state.sender = ? OR thread_state.receiver = ?) AND thread_state.id > ?", user, user, after).
		Where("NOT EXISTS (?)", closedBefore).
		Order("thread_state.id ASC").
		Find(&list).Error
	return list, err
}
