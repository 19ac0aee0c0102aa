package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"callsync/internal/models"
	"callsync/internal/normalize"
	"callsync/internal/repository"
)

type UpsertOutcome string

const (
	UpsertCreated UpsertOutcome = "created"
	UpsertUpdated UpsertOutcome = "updated"
	UpsertSkipped UpsertOutcome = "skipped"
)

type UpsertResult struct {
	Outcome      UpsertOutcome
	Recording    *models.Recording
	Participants []models.Participant
	Tags         []models.RecordingTag
}

// RecordingUpsertService materializes canonical sessions. Every call is safe
// to replay: the same session converges to the same stored rows.
type RecordingUpsertService struct {
	Repo   repository.RecordingRepository
	Logger *zap.Logger
	Now    func() time.Time

	mu      sync.RWMutex
	matcher *AgentMatcher
}

// LoadRoster refreshes the agent roster used for linkage. A failed load
// keeps the previous roster.
func (s *RecordingUpsertService) LoadRoster(ctx context.Context) {
	if s == nil || s.Repo == nil {
		return
	}
	agents, err := s.Repo.ListActiveAgents(ctx)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("agent roster load failed, linkage uses previous roster", zap.Error(err))
		}
		return
	}
	m := NewAgentMatcher(agents)
	s.mu.Lock()
	s.matcher = m
	s.mu.Unlock()
}

func (s *RecordingUpsertService) Upsert(ctx context.Context, session *normalize.Session) (UpsertResult, error) {
	if s == nil || s.Repo == nil {
		return UpsertResult{}, errors.New("recording upsert not configured")
	}
	if session == nil || strings.TrimSpace(session.SessionID) == "" {
		return UpsertResult{}, errors.New("session has no id")
	}
	agent := s.resolveAgent(session)

	var result UpsertResult
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		existing, err := s.Repo.GetRecordingBySessionIDTx(ctx, tx, session.SessionID)
		if err != nil {
			return err
		}
		outcome := decideOutcome(existing, session)
		if outcome == UpsertSkipped {
			result = UpsertResult{Outcome: UpsertSkipped, Recording: existing}
			return nil
		}

		rec := buildRecording(session, agent, s.now())
		if err := s.Repo.UpsertRecordingTx(ctx, tx, rec); err != nil {
			return err
		}
		participants := buildParticipants(rec.ID, session.Participants)
		if err := s.Repo.ReplaceParticipantsTx(ctx, tx, rec.ID, participants); err != nil {
			return err
		}
		tags := buildTags(rec.ID, session.Tags)
		if err := s.Repo.UpsertRecordingTagsTx(ctx, tx, tags); err != nil {
			return err
		}
		result = UpsertResult{Outcome: outcome, Recording: rec, Participants: participants, Tags: tags}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

// decideOutcome applies the maturity rule: a stored session is rewritten
// only when the fetched end time moved past the stored one.
func decideOutcome(existing *models.Recording, session *normalize.Session) UpsertOutcome {
	if existing == nil {
		return UpsertCreated
	}
	if session.EndTime == nil {
		return UpsertSkipped
	}
	if existing.EndTime == nil || session.EndTime.After(*existing.EndTime) {
		return UpsertUpdated
	}
	return UpsertSkipped
}

func (s *RecordingUpsertService) resolveAgent(session *normalize.Session) *models.Agent {
	s.mu.RLock()
	m := s.matcher
	s.mu.RUnlock()
	return m.Match(session.AgentExternalID, session.AgentName)
}

func buildRecording(session *normalize.Session, agent *models.Agent, now time.Time) *models.Recording {
	rec := &models.Recording{
		SessionID:       session.SessionID,
		StartTime:       session.StartTime,
		EndTime:         session.EndTime,
		DurationSeconds: session.DurationSeconds,
		Direction:       session.Direction,
		CallingNumber:   session.CallingNumber,
		CallingName:     session.CallingName,
		CalledNumber:    session.CalledNumber,
		CalledName:      session.CalledName,
		AgentExternalID: session.AgentExternalID,
		AgentName:       session.AgentName,
		QueueID:         session.QueueID,
		QueueName:       session.QueueName,
		Skill:           session.Skill,
		WrapUpCode:      session.WrapUpCode,
		Disposition:     session.Disposition,
		MediaFormat:     session.Media.Format,
		MediaCodec:      session.Media.Codec,
		MediaSizeBytes:  session.Media.SizeBytes,
		PlaybackURL:     session.Media.PlaybackURL,
		RawPayload:      rawPayload(session.Raw),
		SyncedAt:        now,
	}
	if rec.Direction == "" {
		rec.Direction = normalize.DirectionUnknown
	}
	if agent != nil {
		id := agent.ID
		rec.AgentID = &id
		rec.TeamID = agent.TeamID
		if rec.AgentName == "" {
			rec.AgentName = agent.Name
		}
	}
	rec.SearchText = buildSearchText(session, rec)
	return rec
}

func buildParticipants(recordingID uint64, items []normalize.Participant) []models.Participant {
	out := make([]models.Participant, 0, len(items))
	for _, p := range items {
		out = append(out, models.Participant{
			RecordingID:     recordingID,
			ParticipantType: p.Type,
			ParticipantID:   p.ID,
			Name:            p.Name,
			Phone:           p.Phone,
			Device:          p.Device,
			JoinedAt:        p.JoinedAt,
			LeftAt:          p.LeftAt,
		})
	}
	return out
}

func buildTags(recordingID uint64, items []normalize.Tag) []models.RecordingTag {
	out := make([]models.RecordingTag, 0, len(items))
	for _, t := range items {
		out = append(out, models.RecordingTag{RecordingID: recordingID, TagName: t.Name, TagValue: t.Value})
	}
	return out
}

func buildSearchText(session *normalize.Session, rec *models.Recording) string {
	parts := []string{
		rec.SessionID,
		rec.CallingNumber,
		rec.CallingName,
		rec.CalledNumber,
		rec.CalledName,
		rec.AgentName,
		rec.QueueName,
		rec.Skill,
		rec.WrapUpCode,
		rec.Disposition,
	}
	for _, p := range session.Participants {
		parts = append(parts, p.Name, p.Phone)
	}
	for _, t := range session.Tags {
		parts = append(parts, t.Name, t.Value)
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return strings.Join(out, " ")
}

func rawPayload(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

func (s *RecordingUpsertService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
