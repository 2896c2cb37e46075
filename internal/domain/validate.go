package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError marks a request that must not be sent upstream.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

type CreateProjectParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (p CreateProjectParams) Validate() error {
	if blank(p.Name) || blank(p.Description) {
		return invalid("Name and description are required")
	}
	return nil
}

// Normalize trims the user-entered fields.
func (p CreateProjectParams) Normalize() CreateProjectParams {
	return CreateProjectParams{Name: strings.TrimSpace(p.Name), Description: strings.TrimSpace(p.Description)}
}

// AppParams is the body of both app create and app update.
type AppParams struct {
	Name        string  `json:"name"`
	Type        AppType `json:"type"`
	Description string  `json:"description,omitempty"`
}

// Validate checks the fields the proxy requires before forwarding.
func (p AppParams) Validate() error {
	if blank(p.Name) || blank(string(p.Type)) {
		return invalid("Name and type are required")
	}
	return nil
}

// ValidateForm applies the stricter dialog rules: a known type and a
// description.
func (p AppParams) ValidateForm() error {
	if blank(p.Name) {
		return invalid("App name is required")
	}
	if !p.Type.Valid() {
		return invalid("App type must be one of %s", joinTypes())
	}
	if blank(p.Description) {
		return invalid("Description is required")
	}
	return nil
}

func joinTypes() string {
	parts := make([]string, len(AppTypes))
	for i, t := range AppTypes {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

type SubFeature struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type CreateFeatureParams struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Attachments []Attachment `json:"attachments"`
	Features    []SubFeature `json:"features"`
}

func (p CreateFeatureParams) Validate() error {
	if blank(p.Name) || blank(p.Description) {
		return invalid("Name and description are required")
	}
	return nil
}

// WithDefaults replaces missing collections with empty ones so the backend
// always receives arrays.
func (p CreateFeatureParams) WithDefaults() CreateFeatureParams {
	if p.Attachments == nil {
		p.Attachments = []Attachment{}
	}
	if p.Features == nil {
		p.Features = []SubFeature{}
	}
	return p
}

// Compact drops sub-features and attachments the user left empty in a form.
func (p CreateFeatureParams) Compact() CreateFeatureParams {
	out := CreateFeatureParams{
		Name:        strings.TrimSpace(p.Name),
		Description: strings.TrimSpace(p.Description),
		Attachments: compactAttachments(p.Attachments),
		Features:    []SubFeature{},
	}
	for _, sf := range p.Features {
		if blank(sf.Name) && blank(sf.Description) {
			continue
		}
		out.Features = append(out.Features, SubFeature{
			Name:        strings.TrimSpace(sf.Name),
			Description: strings.TrimSpace(sf.Description),
			Attachments: compactAttachments(sf.Attachments),
		})
	}
	return out
}

func compactAttachments(in []Attachment) []Attachment {
	out := []Attachment{}
	for _, a := range in {
		if blank(a.Source) {
			continue
		}
		if a.Type == "" {
			a.Type = AttachmentLink
		}
		out = append(out, Attachment{Type: a.Type, Source: strings.TrimSpace(a.Source)})
	}
	return out
}

// FeaturePatch is a partial feature update; nil fields are left unchanged.
type FeaturePatch struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	OrderIndex  *int         `json:"order_index,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Features    []SubFeature `json:"features,omitempty"`
}

func (p FeaturePatch) Validate() error {
	if p.Name == nil && p.Description == nil && p.OrderIndex == nil && p.Attachments == nil && p.Features == nil {
		return invalid("at least one field is required")
	}
	if p.Name != nil && blank(*p.Name) {
		return invalid("Name must not be empty")
	}
	return nil
}

// ValidateAnalyzeText rejects empty requirement text.
func ValidateAnalyzeText(text string) error {
	if blank(text) {
		return invalid("Text is required")
	}
	return nil
}
