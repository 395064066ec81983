package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// RawEvent is one upstream change event. Fields not needed downstream are kept only for filtering.
type RawEvent struct {
	ID         json.RawMessage `json:"id"`
	Type       string          `json:"type"`
	Title      *string         `json:"title"`
	TitleURL   string          `json:"title_url"`
	User       *string         `json:"user"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Wiki       string          `json:"wiki,omitempty"`
	ServerName string          `json:"server_name,omitempty"`
	Bot        bool            `json:"bot,omitempty"`
}

// Key returns the id as a broker key: JSON strings are unquoted, anything else is used verbatim.
func (e RawEvent) Key() []byte {
	id := bytes.TrimSpace(e.ID)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return nil
	}
	if id[0] == '"' {
		if s, err := strconv.Unquote(string(id)); err == nil {
			return []byte(s)
		}
	}
	return id
}

// NormalizedRecord is the Topic A payload.
type NormalizedRecord struct {
	ID           json.RawMessage `json:"id"`
	OptType      string          `json:"opt_type"`
	Title        *string         `json:"title"`
	TitleURL     string          `json:"title_url"`
	OptTime      string          `json:"opt_time"`
	Contributor  *string         `json:"contributor"`
	Registration *string         `json:"registration"`
	Gender       string          `json:"gender"`
	EditCount    string          `json:"edit_count"`
}

const (
	DefaultGender    = "unknown"
	DefaultEditCount = "0"
)

func NewNormalizedRecord(e RawEvent, canonicalURL, optTime string) NormalizedRecord {
	id := e.ID
	if len(bytes.TrimSpace(id)) == 0 {
		id = nil
	}
	return NormalizedRecord{
		ID:          id,
		OptType:     e.Type,
		Title:       e.Title,
		TitleURL:    canonicalURL,
		OptTime:     optTime,
		Contributor: e.User,
		Gender:      DefaultGender,
		EditCount:   DefaultEditCount,
	}
}
