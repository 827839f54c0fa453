package segments

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"storyreel-pipeline/types"
)

// VideoSession is the upstream session row a run is keyed on.
type VideoSession struct {
	ID        uint   `gorm:"primaryKey"`
	OwnerID   string `gorm:"index:idx_owner_session"`
	SessionID string `gorm:"index:idx_owner_session"`
	Topic     string
	Segments  []ScriptSegment `gorm:"foreignKey:VideoSessionID"`
}

// ScriptSegment is one stored script segment with its narration artifact.
type ScriptSegment struct {
	ID             uint `gorm:"primaryKey"`
	VideoSessionID uint `gorm:"index"`
	SegmentID      string
	SegmentOrder   int
	NarrationRef   string
	DurationSec    float64
	VisualGuidance string
	Label          string
}

// GormSource fetches segments from the script store database.
type GormSource struct {
	db *gorm.DB
}

func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db}
}

func (s *GormSource) Fetch(ctx context.Context, ownerID, sessionID string) ([]types.Segment, error) {
	var session VideoSession
	err := s.db.WithContext(ctx).
		Preload("Segments", func(db *gorm.DB) *gorm.DB {
			return db.Order("segment_order ASC")
		}).
		Where("owner_id = ? AND session_id = ?", ownerID, sessionID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.ValidationError{Field: "session", Reason: "video session not found for owner/session"}
	}
	if err != nil {
		return nil, err
	}

	segs := make([]types.Segment, 0, len(session.Segments))
	for _, row := range session.Segments {
		segs = append(segs, types.Segment{
			ID:             row.SegmentID,
			Order:          row.SegmentOrder,
			NarrationRef:   row.NarrationRef,
			DurationSec:    row.DurationSec,
			VisualGuidance: row.VisualGuidance,
			Label:          types.SegmentLabel(row.Label),
		})
	}
	return segs, nil
}
