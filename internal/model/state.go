// Package model defines data structures for the parts assistant.
package model

import (
	"time"
)

// Role represents the role of a turn author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single entry in a conversation's history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Entities holds the facts extracted about the user's situation. The set of
// keys is closed so merge behavior is checkable at compile time.
type Entities struct {
	PartNumber    string `json:"part_number,omitempty"`
	ModelNumber   string `json:"model_number,omitempty"`
	Brand         string `json:"brand,omitempty"`
	ApplianceType string `json:"appliance_type,omitempty"`
	Symptom       string `json:"symptom,omitempty"`
	SearchQuery   string `json:"search_query,omitempty"`
}

// Merge returns e overlaid with the non-empty fields of in. A previously
// known value is only replaced by another non-empty value; empty extractions
// never erase prior knowledge.
func (e Entities) Merge(in Entities) Entities {
	out := e
	if in.PartNumber != "" {
		out.PartNumber = in.PartNumber
	}
	if in.ModelNumber != "" {
		out.ModelNumber = in.ModelNumber
	}
	if in.Brand != "" {
		out.Brand = in.Brand
	}
	if in.ApplianceType != "" {
		out.ApplianceType = in.ApplianceType
	}
	if in.Symptom != "" {
		out.Symptom = in.Symptom
	}
	if in.SearchQuery != "" {
		out.SearchQuery = in.SearchQuery
	}
	return out
}

// IsZero reports whether no entity has been extracted.
func (e Entities) IsZero() bool {
	return e == Entities{}
}

// Follow-up markers for WaitingFor.
const (
	WaitingModelNumber = "model_number"
	WaitingPartNumber  = "part_number"
)

// ConversationState is the durable per-thread state. It is owned exclusively
// by the conversation store; the pipeline reads it at entry and writes it
// back through Merge at exit.
type ConversationState struct {
	ThreadID   string    `json:"thread_id"`
	UserID     string    `json:"user_id,omitempty"`
	Entities   Entities  `json:"entities"`
	LastIntent Intent    `json:"last_intent,omitempty"`
	WaitingFor string    `json:"waiting_for,omitempty"`
	History    []Turn    `json:"history"`
	UpdatedAt  time.Time `json:"updated_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the state should be treated as absent.
func (s *ConversationState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// RecentHistory returns up to n most recent turns, oldest first.
func (s *ConversationState) RecentHistory(n int) []Turn {
	if s == nil || n <= 0 || len(s.History) <= n {
		if s == nil {
			return nil
		}
		return s.History
	}
	return s.History[len(s.History)-n:]
}
