package model

import "time"

// Artifact 阶段制品清单里的一条文件描述记录。
// 字节本体存放在外部存储服务，这里只保留描述符。
type Artifact struct {
	ID           int64      `json:"id"`
	ProjectID    int64      `json:"project_id"`
	Stage        string     `json:"stage"`
	Name         string     `json:"name"`
	StorageKey   string     `json:"storage_key"`
	Size         int64      `json:"size"`
	ContentKind  string     `json:"content_kind,omitempty"`
	UploaderID   int64      `json:"uploader_id"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	SubmissionID *int64     `json:"submission_id,omitempty"` // 团队上传批次；直传为空
	IntegratedAt *time.Time `json:"integrated_at,omitempty"`
	IntegratedBy *int64     `json:"integrated_by,omitempty"`
}

// Integrated 是否已由负责人并入正式清单
func (a *Artifact) Integrated() bool {
	return a.IntegratedAt != nil
}

// Submission 团队上传批次：同一贡献者在同一阶段最多一个未并入的批次
type Submission struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"project_id"`
	Stage         string    `json:"stage"`
	ContributorID int64     `json:"contributor_id"`
	CreatedAt     time.Time `json:"created_at"`
}
