package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"med-reminder/internal/model"
	"med-reminder/internal/realtime"
)

// CareLinkRepository manages caregiver links and announces their changes.
type CareLinkRepository struct {
	db      *gorm.DB
	changes realtime.Publisher
}

func NewCareLinkRepository(db *gorm.DB, changes realtime.Publisher) *CareLinkRepository {
	if changes == nil {
		changes = realtime.Nop{}
	}
	return &CareLinkRepository{db: db, changes: changes}
}

func (r *CareLinkRepository) InsertCareLink(ctx context.Context, caregiverID uuid.UUID, inviteCode string, status model.CareLinkStatus, expiresAt time.Time) (*model.CareLink, error) {
	if status == "" {
		status = model.CareLinkPending
	}
	link := model.CareLink{
		CaregiverID: caregiverID,
		InviteCode:  inviteCode,
		Status:      status,
		ExpiresAt:   expiresAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&link).Error; err != nil {
		return nil, wrap("insert care link", err)
	}
	r.publish(ctx, realtime.KindInsert, &link, nil)
	return &link, nil
}

// ListCareLinks returns the caregiver's links; an empty status matches all.
func (r *CareLinkRepository) ListCareLinks(ctx context.Context, caregiverID uuid.UUID, status model.CareLinkStatus) ([]model.CareLink, error) {
	var links []model.CareLink
	q := r.db.WithContext(ctx).Where("caregiver_id = ?", caregiverID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("created_at ASC").Find(&links).Error; err != nil {
		return nil, wrap("list care links", err)
	}
	return links, nil
}

// ListCareLinksForUser returns the links in which userID is the cared-for person.
func (r *CareLinkRepository) ListCareLinksForUser(ctx context.Context, userID uuid.UUID, status model.CareLinkStatus) ([]model.CareLink, error) {
	var links []model.CareLink
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("created_at ASC").Find(&links).Error; err != nil {
		return nil, wrap("list care links for user", err)
	}
	return links, nil
}

func (r *CareLinkRepository) FindByInviteCode(ctx context.Context, code string) (*model.CareLink, error) {
	var link model.CareLink
	if err := r.db.WithContext(ctx).Where("invite_code = ?", code).First(&link).Error; err != nil {
		return nil, wrap("find care link", err)
	}
	return &link, nil
}

// RedeemCareLink moves a pending link to accepted for userID. The status guard
// in the WHERE clause makes concurrent redemptions race safely.
func (r *CareLinkRepository) RedeemCareLink(ctx context.Context, linkID, userID uuid.UUID, now time.Time) (*model.CareLink, error) {
	var before model.CareLink
	db := r.db.WithContext(ctx)
	if err := db.First(&before, "id = ?", linkID).Error; err != nil {
		return nil, wrap("find care link", err)
	}

	res := db.Model(&model.CareLink{}).
		Where("id = ? AND status = ?", linkID, model.CareLinkPending).
		Updates(map[string]interface{}{
			"user_id":    userID,
			"status":     model.CareLinkAccepted,
			"updated_at": now.UTC(),
		})
	if res.Error != nil {
		return nil, wrap("redeem care link", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("redeem care link: %w", ErrConflict)
	}

	var after model.CareLink
	if err := db.First(&after, "id = ?", linkID).Error; err != nil {
		return nil, wrap("reload care link", err)
	}
	r.publish(ctx, realtime.KindUpdate, &after, &before)
	return &after, nil
}

// RevokeCareLink ends a link. Either side may revoke; revoking twice is a no-op.
func (r *CareLinkRepository) RevokeCareLink(ctx context.Context, linkID uuid.UUID, now time.Time) (*model.CareLink, error) {
	var before model.CareLink
	db := r.db.WithContext(ctx)
	if err := db.First(&before, "id = ?", linkID).Error; err != nil {
		return nil, wrap("find care link", err)
	}
	if before.Status == model.CareLinkRevoked {
		return &before, nil
	}

	after := before
	after.Status = model.CareLinkRevoked
	after.UpdatedAt = now.UTC()
	if err := db.Model(&model.CareLink{}).Where("id = ?", linkID).
		Updates(map[string]interface{}{"status": after.Status, "updated_at": after.UpdatedAt}).Error; err != nil {
		return nil, wrap("revoke care link", err)
	}
	r.publish(ctx, realtime.KindUpdate, &after, &before)
	return &after, nil
}

func (r *CareLinkRepository) publish(ctx context.Context, kind realtime.Kind, post, pre *model.CareLink) {
	ev := realtime.Event{
		Table: realtime.TableCareLinks,
		Kind:  kind,
		At:    time.Now().UTC(),
	}
	if post != nil {
		ev.Record = careLinkRecord(post)
	}
	if pre != nil {
		ev.OldRecord = careLinkRecord(pre)
	}
	if err := r.changes.Publish(ctx, ev); err != nil {
		log.Printf("[warn] publish care link %s: %v", post.ID, err)
	}
}

func careLinkRecord(l *model.CareLink) map[string]any {
	rec := map[string]any{
		"id":           l.ID.String(),
		"caregiver_id": l.CaregiverID.String(),
		"status":       string(l.Status),
		"invite_code":  l.InviteCode,
		"expires_at":   l.ExpiresAt.Format(time.RFC3339),
	}
	if l.UserID != nil {
		rec["user_id"] = l.UserID.String()
	}
	return rec
}
