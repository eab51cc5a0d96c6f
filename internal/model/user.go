package model

import "time"

// User 身份与角色信息。引擎不做认证，只消费角色归属。
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	LeadRoles    []string  `json:"lead_roles"` // 在哪些角色上担任 primary lead
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasRole 判断用户是否持有指定角色
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsLeadFor 判断用户是否是指定角色的 primary lead
func (u *User) IsLeadFor(role string) bool {
	for _, r := range u.LeadRoles {
		if r == role {
			return true
		}
	}
	return false
}
