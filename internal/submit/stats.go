package submit

// Stats 聚合了提交状态的统计信息，常用于仪表盘或健康检查。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Confirmed       int   `json:"confirmed"`
	Denied          int   `json:"denied"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
