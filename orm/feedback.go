package orm

import (
	"time"

	"gorm.io/gorm"

	"github.com/tripcraft/planner/model"
)

// FeedbackLog is one append-only row in a session's feedback history.
type FeedbackLog struct {
	ID        uint `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	TargetID  string
	DayIndex  *int
	Op        string
	Reason    string
	Timestamp time.Time
}

func feedbackLogFromModel(e model.FeedbackEvent) FeedbackLog {
	return FeedbackLog{
		SessionID: e.SessionID,
		TargetID:  e.TargetID,
		DayIndex:  e.DayIndex,
		Op:        string(e.Op),
		Reason:    e.Reason,
		Timestamp: e.Timestamp,
	}
}

func (f FeedbackLog) toModel() model.FeedbackEvent {
	return model.FeedbackEvent{
		SessionID: f.SessionID,
		TargetID:  f.TargetID,
		DayIndex:  f.DayIndex,
		Op:        model.FeedbackOp(f.Op),
		Reason:    f.Reason,
		Timestamp: f.Timestamp,
	}
}

// AppendFeedbackEvent appends one event to a session's history. The log is
// never updated or deleted in place; bounding is done by the caller
// truncating what it reads back, not by pruning rows.
func AppendFeedbackEvent(db *gorm.DB, e model.FeedbackEvent) error {
	row := feedbackLogFromModel(e)
	return db.Create(&row).Error
}

// ListFeedbackHistory returns the most recent limit events for a session,
// oldest first.
func ListFeedbackHistory(db *gorm.DB, sessionID string, limit int) ([]model.FeedbackEvent, error) {
	var rows []FeedbackLog
	q := db.Where("session_id = ?", sessionID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.FeedbackEvent, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = rows[i].toModel()
	}
	return out, nil
}
