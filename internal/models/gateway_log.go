package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GatewayLog is written once per processed request and never updated.
type GatewayLog struct {
	ID           uuid.UUID         `gorm:"type:uuid;primary_key" json:"id"`
	ProjectID    *uuid.UUID        `gorm:"type:uuid;index:idx_gateway_logs_project_created" json:"project_id,omitempty"`
	APIKeyID     *uuid.UUID        `gorm:"type:uuid;index" json:"api_key_id,omitempty"`
	RequestID    string            `gorm:"index" json:"request_id"`
	Endpoint     string            `json:"endpoint"`
	Method       string            `json:"method"`
	StatusCode   int               `gorm:"index" json:"status_code"`
	LatencyMs    int64             `json:"latency_ms"`
	Environment  string            `json:"environment,omitempty"`
	CallerOrigin string            `json:"caller_origin,omitempty"`
	ClientApp    string            `json:"client_app,omitempty"`
	IPAddress    string            `json:"ip_address,omitempty"`
	CountryCode  string            `json:"country_code,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"index:idx_gateway_logs_project_created" json:"created_at"`
}

func (g *GatewayLog) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

func (GatewayLog) TableName() string {
	return "gateway_logs"
}

// Columns present in every deployed version of gateway_logs.
var GatewayLogMinimalColumns = []string{
	"ID", "ProjectID", "APIKeyID", "RequestID", "Endpoint", "Method", "StatusCode", "LatencyMs", "CreatedAt",
}
