package model

import "time"

// 注文ステータス更新、返品承認、返金など。
type AuditAction string

const (
	//注文ステータスを更新した操作。
	AuditActionUpdateOrderStatus AuditAction = "UPDATE_ORDER_STATUS"
	//注文をキャンセルした操作。
	AuditActionCancelOrder AuditAction = "CANCEL_ORDER"
	//返品を承認した操作。
	AuditActionApproveReturn AuditAction = "APPROVE_RETURN"
	//返品を却下した操作。
	AuditActionRejectReturn AuditAction = "REJECT_RETURN"
	//返金を発行した操作。
	AuditActionIssueRefund AuditAction = "ISSUE_REFUND"
	//メンテナンスモードの切り替え。
	AuditActionSetMaintenance AuditAction = "SET_MAINTENANCE"
)

// 何に対する操作か
type AuditResourceType string

const (
	//注文に対する操作。
	AuditResourceOrder AuditResourceType = "order"

	//返品申請に対する操作。
	AuditResourceReturn AuditResourceType = "return_request"

	//システム設定に対する操作。
	AuditResourceSystem AuditResourceType = "system"
)

// 監査ログ（管理者操作ログ）。
// 「誰が」「何を」「どの対象に」「どう変えたか」を残す。
type AuditLog struct {
	//IDは監査ログの主キー
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	//操作したユーザー（主に管理者）のID。
	ActorUserID int64 `gorm:"not null;index" json:"actor_user_id"`

	//Actionは操作の種類（UPDATE_ORDER_STATUS / ISSUE_REFUND など）。
	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	//対象の種類（order / return_request / system）。
	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resource_type"`

	//対象のID。
	ResourceID int64 `gorm:"not null;index" json:"resource_id"`

	//JSON文字列で保存する。
	BeforeJSON string `gorm:"type:text" json:"before_json"`

	//JSON文字列で保存する。
	AfterJSON string `gorm:"type:text" json:"after_json"`

	//作成時刻
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
