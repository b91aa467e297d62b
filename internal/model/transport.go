package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TransportType string

const (
	TransportMail    TransportType = "mail"
	TransportChatBot TransportType = "chat_bot"
)

func ParseTransportType(s string) (TransportType, error) {
	switch t := TransportType(s); t {
	case TransportMail, TransportChatBot:
		return t, nil
	default:
		return "", fmt.Errorf("unknown transport type %q", s)
	}
}

// Transport is a channel owned by a user. Disabling is a soft flag, at most one
// row exists per (user, type).
type Transport struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	UserID    string        `db:"user_id" json:"user_id"`
	Type      TransportType `db:"type" json:"type"`
	Address   string        `db:"address" json:"address"`
	IsEnabled bool          `db:"is_enabled" json:"is_enabled"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

func (t *Transport) String() string {
	return fmt.Sprintf("%s transport %s of user %s", t.Type, t.ID, t.UserID)
}

// UniqueByType keeps the newest transport of every type, preserving order of
// first appearance.
func UniqueByType(transports []*Transport) []*Transport {
	newest := make(map[TransportType]*Transport, len(transports))
	order := make([]TransportType, 0, len(transports))
	for _, t := range transports {
		cur, ok := newest[t.Type]
		if !ok {
			order = append(order, t.Type)
			newest[t.Type] = t
			continue
		}
		if t.CreatedAt.After(cur.CreatedAt) {
			newest[t.Type] = t
		}
	}
	out := make([]*Transport, 0, len(order))
	for _, typ := range order {
		out = append(out, newest[typ])
	}
	return out
}
