package model

import (
	"errors"
	"fmt"
	"strings"
)

// EntityFields 是每个实体种类的闭合字段模式。
// 动态标签袋在引擎边界上不被接受：字段集在提交账本前必须通过 Validate。
type EntityFields interface {
	// Kind 返回字段集对应的实体类型。
	Kind() EntityType
	// Validate 在 Entity Store 边界上校验字段集。
	Validate() error
	// PrimaryContent 返回参与 contentHash 计算的主内容。
	PrimaryContent() string
	// QueryableTags 返回随记录一起写入账本、可用于标签检索的业务字段。
	QueryableTags() map[string]string
}

// ProjectFields 是 project 实体的字段集。
type ProjectFields struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"ownerId"`
}

func (f *ProjectFields) Kind() EntityType { return EntityTypeProject }

func (f *ProjectFields) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.New("project 缺少 name")
	}
	if f.OwnerID == "" {
		return errors.New("project 缺少 ownerId")
	}
	return nil
}

func (f *ProjectFields) PrimaryContent() string { return f.Name + "\n" + f.Description }

func (f *ProjectFields) QueryableTags() map[string]string {
	return map[string]string{"ownerId": f.OwnerID}
}

// DocumentFields 是 document 实体的字段集。Content 是向量索引的来源。
type DocumentFields struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	ProjectID string `json:"projectId,omitempty"`
	OwnerID   string `json:"ownerId"`
	IsPublic  bool   `json:"isPublic"`
}

func (f *DocumentFields) Kind() EntityType { return EntityTypeDocument }

func (f *DocumentFields) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return errors.New("document 缺少 title")
	}
	if f.Content == "" {
		return errors.New("document 缺少 content")
	}
	if f.OwnerID == "" {
		return errors.New("document 缺少 ownerId")
	}
	return nil
}

func (f *DocumentFields) PrimaryContent() string { return f.Content }

func (f *DocumentFields) QueryableTags() map[string]string {
	tags := map[string]string{
		"ownerId":  f.OwnerID,
		"isPublic": fmt.Sprintf("%t", f.IsPublic),
	}
	if f.ProjectID != "" {
		tags["projectId"] = f.ProjectID
	}
	return tags
}

// UserFields 是 user 实体的字段集。PasswordHash 是 bcrypt 摘要，绝不落明文。
type UserFields struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	Role         string `json:"role"`
	DisplayName  string `json:"displayName,omitempty"`
}

func (f *UserFields) Kind() EntityType { return EntityTypeUser }

func (f *UserFields) Validate() error {
	if strings.TrimSpace(f.Username) == "" {
		return errors.New("user 缺少 username")
	}
	if f.PasswordHash == "" {
		return errors.New("user 缺少 passwordHash")
	}
	if f.Role == "" {
		return errors.New("user 缺少 role")
	}
	return nil
}

func (f *UserFields) PrimaryContent() string { return f.Username + "\n" + f.DisplayName }

func (f *UserFields) QueryableTags() map[string]string {
	return map[string]string{"username": f.Username, "role": f.Role}
}

// CommentFields 是 comment 实体的字段集。
type CommentFields struct {
	DocumentID string `json:"documentId"`
	AuthorID   string `json:"authorId"`
	Body       string `json:"body"`
}

func (f *CommentFields) Kind() EntityType { return EntityTypeComment }

func (f *CommentFields) Validate() error {
	if f.DocumentID == "" {
		return errors.New("comment 缺少 documentId")
	}
	if f.AuthorID == "" {
		return errors.New("comment 缺少 authorId")
	}
	if strings.TrimSpace(f.Body) == "" {
		return errors.New("comment 缺少 body")
	}
	return nil
}

func (f *CommentFields) PrimaryContent() string { return f.Body }

func (f *CommentFields) QueryableTags() map[string]string {
	return map[string]string{"documentId": f.DocumentID, "authorId": f.AuthorID}
}
