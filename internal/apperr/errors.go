package apperr

import "fmt"

// 错误分级约定：
//   ValidationError        输入不合法，调用方修正后重发，不自动重试
//   PermissionError        角色/负责人身份不足，不重试
//   InvalidStateError      当前状态下操作无效，调用方需重新拉取状态
//   DuplicateDecisionError 幂等冲突，调用方视为已生效，不重试
//   NotFoundError          id 不存在

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

type PermissionError struct {
	UserID int64
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: user %d cannot %s", e.UserID, e.Action)
}

func NewPermission(userID int64, action string) *PermissionError {
	return &PermissionError{UserID: userID, Action: action}
}

type InvalidStateError struct {
	Entity string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: %s: %s", e.Entity, e.Reason)
}

func NewInvalidState(entity, reason string) *InvalidStateError {
	return &InvalidStateError{Entity: entity, Reason: reason}
}

type DuplicateDecisionError struct {
	ProposalID int64
	ApproverID int64
}

func (e *DuplicateDecisionError) Error() string {
	return fmt.Sprintf("duplicate decision: approver %d already decided on proposal %d", e.ApproverID, e.ProposalID)
}

type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}

func NewNotFound(entity string, id int64) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}
