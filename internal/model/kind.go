package model

import (
	"fmt"
	"sort"
)

// Kind identifies what a notification is about. The set is closed, every kind
// is listed in kindTable.
type Kind string

const (
	KindNewComment                   Kind = "new_comment"
	KindNewCommentForInstructorsOnly Kind = "new_comment_for_instructors_only"
	KindNewCommentFromGroupStudent   Kind = "new_comment_from_your_group_student"
	KindRepliedToYourComment         Kind = "replied_to_your_comment"
	KindLikedYourComment             Kind = "liked_your_comment"
	KindJoinedToYourGroup            Kind = "joined_to_your_group"
	KindAddedInstructor              Kind = "added_instructor"
	KindPassedManualChecking         Kind = "passed_manual_exercise_checking"
	KindReceivedCodeReviewComment    Kind = "received_comment_to_code_review"
)

type kindInfo struct {
	// Priority orders kinds inside one (recipient, target) group, higher wins.
	Priority int
	// Blocks lists lower priority kinds that are not delivered when this kind
	// exists for the same recipient and target.
	Blocks     []Kind
	newPayload func() Payload
}

var kindTable = map[Kind]kindInfo{
	KindRepliedToYourComment: {
		Priority: 30,
		Blocks: []Kind{
			KindNewCommentFromGroupStudent,
			KindNewComment,
			KindNewCommentForInstructorsOnly,
		},
		newPayload: func() Payload { return &CommentPayload{} },
	},
	KindNewCommentFromGroupStudent: {
		Priority: 20,
		Blocks: []Kind{
			KindNewComment,
			KindNewCommentForInstructorsOnly,
		},
		newPayload: func() Payload { return &CommentPayload{} },
	},
	KindNewComment: {
		Priority:   10,
		newPayload: func() Payload { return &CommentPayload{} },
	},
	KindNewCommentForInstructorsOnly: {
		Priority:   10,
		newPayload: func() Payload { return &CommentPayload{} },
	},
	KindLikedYourComment: {
		Priority:   10,
		newPayload: func() Payload { return &LikePayload{} },
	},
	KindJoinedToYourGroup: {
		Priority:   10,
		newPayload: func() Payload { return &GroupJoinPayload{} },
	},
	KindAddedInstructor: {
		Priority:   10,
		newPayload: func() Payload { return &InstructorPayload{} },
	},
	KindPassedManualChecking: {
		Priority:   10,
		newPayload: func() Payload { return &ManualCheckingPayload{} },
	},
	KindReceivedCodeReviewComment: {
		Priority:   10,
		newPayload: func() Payload { return &CodeReviewCommentPayload{} },
	},
}

// Kinds returns every known kind, highest priority first.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindTable))
	for k := range kindTable {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		pi, pj := kinds[i].Priority(), kinds[j].Priority()
		if pi != pj {
			return pi > pj
		}
		return kinds[i] < kinds[j]
	})
	return kinds
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown notification kind %q", s)
	}
	return k, nil
}

func (k Kind) Valid() bool {
	_, ok := kindTable[k]
	return ok
}

func (k Kind) Priority() int {
	return kindTable[k].Priority
}

// BlockedKinds returns the kinds suppressed by k.
func (k Kind) BlockedKinds() []Kind {
	blocked := kindTable[k].Blocks
	out := make([]Kind, len(blocked))
	copy(out, blocked)
	return out
}

// Blocks reports whether a notification of kind k suppresses one of kind other
// for the same recipient and target.
func (k Kind) Blocks(other Kind) bool {
	for _, b := range kindTable[k].Blocks {
		if b == other {
			return true
		}
	}
	return false
}

// BlockedBy reports whether any of present suppresses k.
func (k Kind) BlockedBy(present map[Kind]bool) (Kind, bool) {
	for _, p := range Kinds() {
		if present[p] && p.Blocks(k) {
			return p, true
		}
	}
	return "", false
}

// NewPayload returns an empty payload value for decoding k's payload.
func (k Kind) NewPayload() (Payload, error) {
	info, ok := kindTable[k]
	if !ok {
		return nil, fmt.Errorf("unknown notification kind %q", k)
	}
	return info.newPayload(), nil
}
