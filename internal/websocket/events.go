package websocket

import (
	"encoding/json"
	"time"

	"github.com/wfunc/retro-relay/internal/models"
)

// 事件类型
const (
	// 系统事件
	EventTypeConnected = "connected"
	EventTypePing      = "ping"
	EventTypePong      = "pong"
	EventTypeError     = "error"

	// 会话事件
	EventTypeTurnCommitted    = "turn_committed"
	EventTypeTimelineRestored = "timeline_restored"
	EventTypeAdmissionDecided = "admission_decided"
	EventTypeSessionState     = "session_state_changed"
)

// Event 会话事件信封
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// TurnCommittedPayload 回合提交事件载荷
type TurnCommittedPayload struct {
	TurnID       string    `json:"turn_id"`
	PlayerName   string    `json:"player_name"`
	Location     string    `json:"location,omitempty"`
	BadgeCount   int       `json:"badge_count"`
	Money        int64     `json:"money"`
	Message      string    `json:"message,omitempty"`
	TurnEndedAt  time.Time `json:"turn_ended_at"`
	SaveStateKey string    `json:"save_state_key"`
}

// TimelineRestoredPayload 时间线回溯事件载荷
type TimelineRestoredPayload struct {
	TargetTurnID     string `json:"target_turn_id"`
	HeadPlayerName   string `json:"head_player_name"`
	InvalidatedCount int64  `json:"invalidated_count"`
	Operator         string `json:"operator,omitempty"`
}

// AdmissionDecidedPayload 准入裁决事件载荷
type AdmissionDecidedPayload struct {
	RegistrationID uint   `json:"registration_id"`
	KioskName      string `json:"kiosk_name,omitempty"`
	Status         string `json:"status"`
}

// SessionStatePayload 会话状态变更事件载荷
//
// 只携带激活状态，会话码永远不通过事件流下发。
type SessionStatePayload struct {
	IsActive bool `json:"is_active"`
}

// NewEvent 构造事件信封
func NewEvent(eventType, sessionID string, payload interface{}) (*Event, error) {
	event := &Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().Unix(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		event.Data = data
	}
	return event, nil
}

// NewTurnCommittedEvent 回合提交事件
func NewTurnCommittedEvent(turn *models.GameTurn) (*Event, error) {
	return NewEvent(EventTypeTurnCommitted, turn.SessionID, &TurnCommittedPayload{
		TurnID:       turn.ID,
		PlayerName:   turn.PlayerName,
		Location:     turn.Location,
		BadgeCount:   turn.BadgeCount,
		Money:        turn.Money,
		Message:      turn.Message,
		TurnEndedAt:  turn.TurnEndedAt,
		SaveStateKey: turn.SaveStateKey,
	})
}

// NewTimelineRestoredEvent 时间线回溯事件
func NewTimelineRestoredEvent(sessionID string, target *models.GameTurn, invalidated int64, operator string) (*Event, error) {
	return NewEvent(EventTypeTimelineRestored, sessionID, &TimelineRestoredPayload{
		TargetTurnID:     target.ID,
		HeadPlayerName:   target.PlayerName,
		InvalidatedCount: invalidated,
		Operator:         operator,
	})
}

// NewAdmissionDecidedEvent 准入裁决事件
func NewAdmissionDecidedEvent(sessionID string, registration *models.KioskRegistration) (*Event, error) {
	return NewEvent(EventTypeAdmissionDecided, sessionID, &AdmissionDecidedPayload{
		RegistrationID: registration.ID,
		KioskName:      registration.KioskName,
		Status:         registration.Status,
	})
}

// NewSessionStateEvent 会话状态变更事件
func NewSessionStateEvent(sessionID string, isActive bool) (*Event, error) {
	return NewEvent(EventTypeSessionState, sessionID, &SessionStatePayload{
		IsActive: isActive,
	})
}
