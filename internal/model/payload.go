package model

import (
	"encoding/json"
	"fmt"
)

// Payload is the kind specific part of a notification.
type Payload interface {
	// Target identifies the object the notification is about. Notifications for
	// the same recipient and target compete with each other for delivery.
	Target() string
}

type CommentPayload struct {
	CommentID       int64 `json:"comment_id" validate:"required,gt=0"`
	ParentCommentID int64 `json:"parent_comment_id,omitempty" validate:"gte=0"`
}

func (p *CommentPayload) Target() string {
	return fmt.Sprintf("comment:%d", p.CommentID)
}

type LikePayload struct {
	CommentID     int64  `json:"comment_id" validate:"required,gt=0"`
	LikedByUserID string `json:"liked_by_user_id" validate:"required"`
}

func (p *LikePayload) Target() string {
	return fmt.Sprintf("comment-like:%d", p.CommentID)
}

type GroupJoinPayload struct {
	GroupID      int64  `json:"group_id" validate:"required,gt=0"`
	JoinedUserID string `json:"joined_user_id" validate:"required"`
}

func (p *GroupJoinPayload) Target() string {
	return fmt.Sprintf("group:%d:%s", p.GroupID, p.JoinedUserID)
}

type InstructorPayload struct {
	AddedUserID string `json:"added_user_id" validate:"required"`
}

func (p *InstructorPayload) Target() string {
	return "instructor:" + p.AddedUserID
}

type ManualCheckingPayload struct {
	CheckingID int64 `json:"checking_id" validate:"required,gt=0"`
	IsRecheck  bool  `json:"is_recheck"`
}

func (p *ManualCheckingPayload) Target() string {
	return fmt.Sprintf("checking:%d", p.CheckingID)
}

type CodeReviewCommentPayload struct {
	CommentID int64 `json:"comment_id" validate:"required,gt=0"`
}

func (p *CodeReviewCommentPayload) Target() string {
	return fmt.Sprintf("code-review-comment:%d", p.CommentID)
}

// DecodePayload unmarshals raw into the payload type registered for kind.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	p, err := kind.NewPayload()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload for %s", kind)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}
