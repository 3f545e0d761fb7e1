package domain

import "time"

// Tenant is one onboarded customer of the gateway. Code is the
// identifier used in API paths and in the credential store layout.
type Tenant struct {
	ID           int64     `json:"id,string" form:"id"`
	Code         string    `gorm:"uniqueIndex" json:"code" form:"code"`
	Name         string    `gorm:"index" json:"name" form:"name"`
	Plan         string    `json:"plan" form:"plan"`
	PlanExpireAt time.Time `json:"plan_expire_at" form:"plan_expire_at"`
	WebhookURL   string    `json:"webhook_url" form:"webhook_url"`
	Status       string    `json:"status" form:"status"` // enabled, disabled
	Remark       string    `json:"remark" form:"remark"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName Specify table name
func (Tenant) TableName() string {
	return "tenant"
}
