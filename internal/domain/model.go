package domain

import "encoding/json"

// Timestamps are kept as the backend's strings; the backend is authoritative
// and its format is relayed untouched.

type Project struct {
	ID          int64  `json:"id"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Apps        []App  `json:"apps"`
}

// DecodeProjectList accepts a bare array or an object wrapping it under
// "data" or "projects". Any other shape yields an empty list.
func DecodeProjectList(raw json.RawMessage) []Project {
	var list []Project
	if err := json.Unmarshal(raw, &list); err == nil && list != nil {
		return list
	}
	var wrapped struct {
		Data     []Project `json:"data"`
		Projects []Project `json:"projects"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if wrapped.Data != nil {
			return wrapped.Data
		}
		if wrapped.Projects != nil {
			return wrapped.Projects
		}
	}
	return []Project{}
}

// ProjectSummary is the project block embedded in an AppDetail.
type ProjectSummary struct {
	ID          int64  `json:"id"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type AppType string

const (
	AppTypeUserWeb  AppType = "USER_WEB"
	AppTypeUserApp  AppType = "USER_APP"
	AppTypeStaffWeb AppType = "STAFF_WEB"
	AppTypeAdminWeb AppType = "ADMIN_WEB"
	AppTypeAPI      AppType = "API"
	AppTypeOther    AppType = "OTHER"
)

// AppTypes lists every app type in display order.
var AppTypes = []AppType{AppTypeUserWeb, AppTypeUserApp, AppTypeStaffWeb, AppTypeAdminWeb, AppTypeAPI, AppTypeOther}

func (t AppType) Valid() bool {
	for _, v := range AppTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Label is the human name shown in forms.
func (t AppType) Label() string {
	switch t {
	case AppTypeUserWeb:
		return "User Web"
	case AppTypeUserApp:
		return "User App"
	case AppTypeStaffWeb:
		return "Staff Web"
	case AppTypeAdminWeb:
		return "Admin Web"
	case AppTypeAPI:
		return "API"
	case AppTypeOther:
		return "Other"
	}
	return string(t)
}

type App struct {
	ID          int64     `json:"id"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
	ProjectID   int64     `json:"project_id"`
	Name        string    `json:"name"`
	Type        AppType   `json:"type"`
	Description string    `json:"description"`
	Features    []Feature `json:"features,omitempty"`
}

// AppDetail is the single-app view returned with its project and features.
type AppDetail struct {
	ID          int64          `json:"id"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	Project     ProjectSummary `json:"project"`
	ProjectID   int64          `json:"project_id"`
	Name        string         `json:"name"`
	Type        AppType        `json:"type"`
	Description string         `json:"description"`
	Features    []Feature      `json:"features"`
}

type AttachmentType string

const (
	AttachmentLink AttachmentType = "link"
	AttachmentFile AttachmentType = "file"
)

type Attachment struct {
	Type   AttachmentType `json:"type"`
	Source string         `json:"source"`
}

type RelatedFeature struct {
	ID   int64  `json:"id"`
	Code string `json:"code,omitempty"`
	Name string `json:"name"`
}

type Feature struct {
	ID              int64            `json:"id"`
	CreatedAt       string           `json:"created_at,omitempty"`
	UpdatedAt       string           `json:"updated_at,omitempty"`
	ProjectAppID    int64            `json:"project_app_id"`
	ParentFeatureID *int64           `json:"parent_feature_id"`
	Code            string           `json:"code"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	OrderIndex      int              `json:"order_index"`
	Attachments     json.RawMessage  `json:"attachments,omitempty"`
	RelatedFeatures []RelatedFeature `json:"related_features,omitempty"`
	Children        []Feature        `json:"children,omitempty"`
}

// IsRoot reports whether the feature has no parent.
func (f Feature) IsRoot() bool { return f.ParentFeatureID == nil }

type RelatedFeatureChild struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type RelatedFeatureParent struct {
	ID       int64                 `json:"id"`
	Name     string                `json:"name"`
	Children []RelatedFeatureChild `json:"children"`
}

// RelatedAppFeatures groups features of another app that relate to the
// requested one.
type RelatedAppFeatures struct {
	AppID    int64                  `json:"app_id"`
	AppName  string                 `json:"app_name"`
	Features []RelatedFeatureParent `json:"features"`
}
