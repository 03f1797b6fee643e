package workflow

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/stake-plus/nexvote/src/types"
)

const (
	MinTitle, MaxTitle       = 10, 300
	MinText, MaxText         = 50, 10000
	MinCategory, MaxCategory = 2, 50
	MinDeadline, MaxDeadline = 1, 90
)

// CreateInput is a proposal draft as submitted by its author.
type CreateInput struct {
	CommunityID  string `json:"communityId" binding:"required"`
	Title        string `json:"title" binding:"required"`
	Text         string `json:"text" binding:"required"`
	Category     string `json:"category" binding:"required"`
	DeadlineDays int    `json:"deadlineDays"`
}

// sanitizer strips markup; the stored text is plain.
type sanitizer struct{ policy *bluemonday.Policy }

func newSanitizer() sanitizer { return sanitizer{policy: bluemonday.StrictPolicy()} }

func (s sanitizer) clean(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

// normalize sanitises in and fills defaults, then checks bounds.
func (o *Orchestrator) normalize(in CreateInput) (CreateInput, error) {
	in.Title = o.sanitizer.clean(in.Title)
	in.Text = o.sanitizer.clean(in.Text)
	in.Category = strings.TrimSpace(in.Category)
	if in.DeadlineDays == 0 {
		in.DeadlineDays = o.defaultDeadlineDays
	}

	var problems []string
	if _, err := uuid.Parse(in.CommunityID); err != nil {
		problems = append(problems, "communityId must be a UUID")
	}
	if !utf8.ValidString(in.Title) || !utf8.ValidString(in.Text) {
		problems = append(problems, "title and text must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(in.Title); n < MinTitle || n > MaxTitle {
		problems = append(problems, "title must be 10-300 characters")
	}
	if n := utf8.RuneCountInString(in.Text); n < MinText || n > MaxText {
		problems = append(problems, "text must be 50-10000 characters")
	}
	if n := utf8.RuneCountInString(in.Category); n < MinCategory || n > MaxCategory {
		problems = append(problems, "category must be 2-50 characters")
	}
	if in.DeadlineDays < MinDeadline || in.DeadlineDays > MaxDeadline {
		problems = append(problems, "deadlineDays must be 1-90")
	}
	if len(problems) > 0 {
		return in, &types.Error{Kind: types.KindValidation, Msg: "validation failed", Details: problems}
	}
	return in, nil
}

// fallbackSummary is used when the summarizer is unavailable.
func fallbackSummary(text string) string {
	r := []rune(text)
	if len(r) > 200 {
		r = r[:200]
	}
	return string(r) + "..."
}
