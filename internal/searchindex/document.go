// Package searchindex mirrors materialized recordings into a search index.
// The primary store stays the source of truth; everything here is best
// effort and can be rebuilt.
package searchindex

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"callsync/internal/models"
)

const maxTerms = 128

// Document is the denormalized index entry for one recording.
type Document struct {
	RecordingID     uint64            `json:"recording_id"`
	SessionID       string            `json:"session_id"`
	StartTime       *time.Time        `json:"start_time,omitempty"`
	EndTime         *time.Time        `json:"end_time,omitempty"`
	DurationSeconds int               `json:"duration_seconds"`
	Direction       string            `json:"direction"`
	CallingNumber   string            `json:"calling_number,omitempty"`
	CallingName     string            `json:"calling_name,omitempty"`
	CalledNumber    string            `json:"called_number,omitempty"`
	CalledName      string            `json:"called_name,omitempty"`
	AgentID         *uint64           `json:"agent_id,omitempty"`
	AgentName       string            `json:"agent_name,omitempty"`
	TeamID          *uint64           `json:"team_id,omitempty"`
	QueueName       string            `json:"queue_name,omitempty"`
	Skill           string            `json:"skill,omitempty"`
	WrapUpCode      string            `json:"wrap_up_code,omitempty"`
	Disposition     string            `json:"disposition,omitempty"`
	Participants    []string          `json:"participants,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
	SearchText      string            `json:"search_text"`
	SyncedAt        time.Time         `json:"synced_at"`
}

type Indexer interface {
	IndexRecording(ctx context.Context, doc Document) error
}

func DocumentFromRecording(rec models.Recording, participants []models.Participant, tags []models.RecordingTag) Document {
	doc := Document{
		RecordingID:     rec.ID,
		SessionID:       rec.SessionID,
		StartTime:       rec.StartTime,
		EndTime:         rec.EndTime,
		DurationSeconds: rec.DurationSeconds,
		Direction:       rec.Direction,
		CallingNumber:   rec.CallingNumber,
		CallingName:     rec.CallingName,
		CalledNumber:    rec.CalledNumber,
		CalledName:      rec.CalledName,
		AgentID:         rec.AgentID,
		AgentName:       rec.AgentName,
		TeamID:          rec.TeamID,
		QueueName:       rec.QueueName,
		Skill:           rec.Skill,
		WrapUpCode:      rec.WrapUpCode,
		Disposition:     rec.Disposition,
		SearchText:      rec.SearchText,
		SyncedAt:        rec.SyncedAt,
	}
	for _, p := range participants {
		if name := strings.TrimSpace(p.Name); name != "" {
			doc.Participants = append(doc.Participants, name)
		}
	}
	if len(tags) > 0 {
		doc.Tags = make(map[string]string, len(tags))
		for _, t := range tags {
			doc.Tags[t.TagName] = t.TagValue
		}
	}
	return doc
}

// Terms tokenizes the search text into unique lowercase terms, sorted.
func (d Document) Terms() []string {
	fields := strings.FieldsFunc(strings.ToLower(d.SearchText), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+'
	})
	seen := map[string]struct{}{}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "+")
		if len(f) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	if len(out) > maxTerms {
		out = out[:maxTerms]
	}
	return out
}
