package models

import (
	"time"
)

// AgentStatus is the persisted availability of an agent.
type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusAway    AgentStatus = "away"
	AgentStatusBusy    AgentStatus = "busy"
	AgentStatusOffline AgentStatus = "offline"
)

// IsValid reports whether s is a known agent status.
func (s AgentStatus) IsValid() bool {
	switch s {
	case AgentStatusOnline, AgentStatusAway, AgentStatusBusy, AgentStatusOffline:
		return true
	}
	return false
}

// Agent is a human operator. CurrentChatCount must equal the number of
// active conversations assigned to the agent; it is only changed through
// versioned updates and healed by the reconciliation sweep.
type Agent struct {
	ID                 string      `json:"id" bson:"_id"`
	TenantID           string      `json:"tenantId" bson:"tenantId"`
	Name               string      `json:"name" bson:"name"`
	DepartmentID       string      `json:"departmentId,omitempty" bson:"departmentId,omitempty"`
	Status             AgentStatus `json:"status" bson:"status"`
	MaxConcurrentChats int         `json:"maxConcurrentChats" bson:"maxConcurrentChats"`
	CurrentChatCount   int         `json:"currentChatCount" bson:"currentChatCount"`
	TotalChatsHandled  int64       `json:"totalChatsHandled" bson:"totalChatsHandled"`
	LastActiveAt       time.Time   `json:"lastActiveAt" bson:"lastActiveAt"`
	CreatedAt          time.Time   `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt" bson:"updatedAt"`
	Version            int64       `json:"version" bson:"version"`
}

// HasCapacity reports whether one more chat fits.
func (a *Agent) HasCapacity() bool {
	return a.CurrentChatCount < a.MaxConcurrentChats
}

// IsAvailable reports whether routing may pick the agent.
func (a *Agent) IsAvailable() bool {
	return a.Status == AgentStatusOnline && a.HasCapacity()
}

// Clone returns a copy of the agent.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

// Department is a routing group of agents.
type Department struct {
	ID          string    `json:"id" bson:"_id"`
	TenantID    string    `json:"tenantId" bson:"tenantId"`
	Name        string    `json:"name" bson:"name"`
	AutoAssign  bool      `json:"autoAssign" bson:"autoAssign"`
	IsDefault   bool      `json:"isDefault" bson:"isDefault"`
	MaxCapacity int       `json:"maxCapacity,omitempty" bson:"maxCapacity,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}
