package dto

import (
	"errors"
	"strings"
)

// Validation errors
var (
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrEmptyCandidates   = errors.New("candidates cannot be empty")
	ErrTextTooLong       = errors.New("text exceeds maximum length (64KB)")
	ErrTooManyCandidates = errors.New("candidates count exceeds maximum (10000)")
	ErrSessionIDTooLong  = errors.New("session_id exceeds maximum length (256)")
)

// MaxFieldLengths defines maximum lengths for fields to prevent abuse
const (
	MaxTextLength     = 64 * 1024
	MaxCandidateCount = 10000
	MaxLabelCount     = 100
	MaxSessionIDLen   = 256
)

// ActRequest represents one conversational turn sent to the agent. A turn
// with labels trains; a turn with candidates ranks them.
type ActRequest struct {
	SessionID   string   `json:"session_id,omitempty"`
	Text        string   `json:"text" binding:"required"`
	Labels      []string `json:"labels,omitempty"`
	Candidates  []string `json:"candidates,omitempty"`
	EpisodeDone bool     `json:"episode_done,omitempty"`
}

// Validate performs validation on ActRequest
func (r *ActRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if len(r.Text) > MaxTextLength {
		return ErrTextTooLong
	}
	if len(r.SessionID) > MaxSessionIDLen {
		return ErrSessionIDTooLong
	}
	if len(r.Labels) > MaxLabelCount {
		return errors.New("labels count exceeds maximum (100)")
	}
	if len(r.Candidates) > MaxCandidateCount {
		return ErrTooManyCandidates
	}
	return nil
}

// ActResponse carries the agent's reply for one turn
type ActResponse struct {
	SessionID string `json:"session_id"`
	Reply     Reply  `json:"reply"`
}

// RankRequest represents a stateless ranking request with no session
type RankRequest struct {
	Text       string   `json:"text" binding:"required"`
	Candidates []string `json:"candidates" binding:"required"`
}

// Validate performs validation on RankRequest
func (r *RankRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if len(r.Text) > MaxTextLength {
		return ErrTextTooLong
	}
	if len(r.Candidates) == 0 {
		return ErrEmptyCandidates
	}
	if len(r.Candidates) > MaxCandidateCount {
		return ErrTooManyCandidates
	}
	return nil
}

// RankResponse carries a stateless ranking result
type RankResponse struct {
	Reply Reply `json:"reply"`
}

// SessionInfoResponse summarizes one stored session
type SessionInfoResponse struct {
	SessionID string `json:"session_id"`
	Turns     int    `json:"turns"`
	Live      bool   `json:"live"`
}

// SessionListResponse lists stored sessions
type SessionListResponse struct {
	Sessions []string `json:"sessions"`
}
