package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrMalformed marks a payload that is not a JSON object at all. A payload
// that is an object but lacks a session id is not malformed, it is unusable
// and normalizes to nil.
var ErrMalformed = errors.New("malformed session payload")

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
	DirectionInternal = "internal"
	DirectionUnknown  = "unknown"
)

// Session is the canonical, upstream-shape independent call session.
type Session struct {
	SessionID       string
	StartTime       *time.Time
	EndTime         *time.Time
	DurationSeconds int
	Direction       string

	CallingNumber string
	CallingName   string
	CalledNumber  string
	CalledName    string

	AgentExternalID string
	AgentName       string

	QueueID     string
	QueueName   string
	Skill       string
	WrapUpCode  string
	Disposition string

	Media        Media
	Participants []Participant
	Tags         []Tag

	Raw json.RawMessage
}

type Media struct {
	Format      string
	Codec       string
	SizeBytes   int64
	PlaybackURL string
}

type Participant struct {
	Type     string
	ID       string
	Name     string
	Phone    string
	Device   string
	JoinedAt *time.Time
	LeftAt   *time.Time
}

type Tag struct {
	Name  string
	Value string
}

var (
	sessionIDKeys     = []string{"sessionId", "session_id", "sessionID", "id", "callId", "call_id", "conversationId", "conversation_id", "recordingId", "recording_id", "uuid", "guid"}
	startTimeKeys     = []string{"startTime", "start_time", "startedAt", "started_at", "start", "beginTime", "callStart", "dateStart"}
	endTimeKeys       = []string{"endTime", "end_time", "endedAt", "ended_at", "end", "finishTime", "callEnd", "dateEnd"}
	durationKeys      = []string{"duration", "durationSeconds", "duration_seconds", "durationSec", "callDuration", "call_duration", "talkTime"}
	durationMsKeys    = []string{"durationMs", "duration_ms", "durationMillis"}
	directionKeys     = []string{"direction", "callDirection", "call_direction", "callType", "call_type", "type"}
	callingNumberKeys = []string{"callingNumber", "callerNumber", "caller_number", "ani", "from", "fromNumber", "calling_number", "callerId", "caller_id"}
	callingNameKeys   = []string{"callingName", "callerName", "caller_name", "calling_name", "fromName", "callerIdName"}
	calledNumberKeys  = []string{"calledNumber", "calleeNumber", "called_number", "callee_number", "dnis", "to", "toNumber", "destinationNumber", "dialedNumber"}
	calledNameKeys    = []string{"calledName", "calleeName", "called_name", "callee_name", "toName", "destinationName"}
	agentIDKeys       = []string{"agentId", "agent_id", "agentID", "userId", "user_id", "ownerId"}
	agentNameKeys     = []string{"agentName", "agent_name", "userName", "user_name", "ownerName"}
	queueIDKeys       = []string{"queueId", "queue_id", "acdGroupId", "huntGroupId"}
	queueNameKeys     = []string{"queueName", "queue_name", "queue", "acdGroup", "huntGroup"}
	skillKeys         = []string{"skill", "skillName", "skill_name", "skillset"}
	wrapUpKeys        = []string{"wrapUpCode", "wrapupCode", "wrap_up_code", "wrapup_code", "wrapUp", "wrapup"}
	dispositionKeys   = []string{"disposition", "dispositionCode", "disposition_code", "callResult", "outcome", "result"}

	mediaObjectKeys = []string{"media", "recording", "audio", "file"}
	mediaFormatKeys = []string{"mediaFormat", "media_format", "format", "fileFormat", "mimeType", "contentType"}
	mediaCodecKeys  = []string{"mediaCodec", "media_codec", "codec", "audioCodec"}
	mediaSizeKeys   = []string{"mediaSize", "media_size", "fileSize", "file_size", "sizeBytes", "size"}
	playbackKeys    = []string{"playbackUrl", "playback_url", "recordingUrl", "recording_url", "mediaUrl", "media_url", "fileUrl", "streamUrl", "url"}

	participantListKeys = []string{"participants", "parties", "legs"}
	participantTypeKeys = []string{"type", "participantType", "participant_type", "role", "purpose"}
	participantIDKeys   = []string{"id", "participantId", "participant_id", "userId", "user_id"}
	participantNameKeys = []string{"name", "displayName", "display_name", "participantName"}
	participantPhone    = []string{"phone", "phoneNumber", "phone_number", "number", "address", "ani"}
	participantDevice   = []string{"device", "deviceName", "device_name", "deviceId", "endpoint"}
	participantJoined   = []string{"joinedAt", "joined_at", "joinTime", "connectedTime", "startTime"}
	participantLeft     = []string{"leftAt", "left_at", "leaveTime", "disconnectedTime", "endTime"}

	tagListKeys   = []string{"tags", "labels", "attributes"}
	tagNameKeys   = []string{"name", "key", "tag", "label"}
	tagValueKeys  = []string{"value", "val"}
	agentObjKeys  = []string{"agent", "user", "owner"}
	agentObjID    = []string{"id", "agentId", "externalId", "userId"}
	agentObjName  = []string{"name", "displayName", "fullName"}
	maxTagNameLen = 120
)

// NormalizeSession maps one raw upstream record into a Session. It never
// panics: a non-object payload yields ErrMalformed and an object without a
// usable session id yields (nil, nil).
func NormalizeSession(raw json.RawMessage) (*Session, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	id := firstString(obj, sessionIDKeys...)
	if id == "" {
		return nil, nil
	}

	s := &Session{
		SessionID:     id,
		StartTime:     firstTime(obj, startTimeKeys...),
		EndTime:       firstTime(obj, endTimeKeys...),
		Direction:     NormalizeDirection(firstString(obj, directionKeys...)),
		CallingNumber: firstString(obj, callingNumberKeys...),
		CallingName:   firstString(obj, callingNameKeys...),
		CalledNumber:  firstString(obj, calledNumberKeys...),
		CalledName:    firstString(obj, calledNameKeys...),
		QueueID:       firstString(obj, queueIDKeys...),
		QueueName:     firstString(obj, queueNameKeys...),
		Skill:         firstString(obj, skillKeys...),
		WrapUpCode:    firstString(obj, wrapUpKeys...),
		Disposition:   firstString(obj, dispositionKeys...),
		Raw:           compact(raw),
	}

	s.AgentExternalID = firstString(obj, agentIDKeys...)
	s.AgentName = firstString(obj, agentNameKeys...)
	if agent := firstObject(obj, agentObjKeys...); agent != nil {
		if s.AgentExternalID == "" {
			s.AgentExternalID = firstString(agent, agentObjID...)
		}
		if s.AgentName == "" {
			s.AgentName = firstString(agent, agentObjName...)
		}
	}

	s.DurationSeconds = durationSeconds(obj, s.StartTime, s.EndTime)
	if s.EndTime == nil && s.StartTime != nil && s.DurationSeconds > 0 {
		end := s.StartTime.Add(time.Duration(s.DurationSeconds) * time.Second)
		s.EndTime = &end
	}

	s.Media = normalizeMedia(obj)
	s.Participants = normalizeParticipants(obj)
	s.Tags = normalizeTags(obj)
	return s, nil
}

// NormalizeDirection folds any upstream direction label into the closed set.
// Internal is checked first since "internal" also contains "in".
func NormalizeDirection(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case v == "":
		return DirectionUnknown
	case strings.Contains(v, "internal"), strings.Contains(v, "intercom"), strings.Contains(v, "extension"):
		return DirectionInternal
	case strings.Contains(v, "out"):
		return DirectionOutbound
	case strings.Contains(v, "in"):
		return DirectionInbound
	default:
		return DirectionUnknown
	}
}

func durationSeconds(obj map[string]any, start, end *time.Time) int {
	if n, ok := firstNumber(obj, durationKeys...); ok && n >= 0 {
		return int(n)
	}
	if n, ok := firstNumber(obj, durationMsKeys...); ok && n >= 0 {
		return int(n / 1000)
	}
	if start != nil && end != nil && end.After(*start) {
		return int(end.Sub(*start) / time.Second)
	}
	return 0
}

func normalizeMedia(obj map[string]any) Media {
	src, nested := obj, false
	if m := firstObject(obj, mediaObjectKeys...); m != nil {
		src, nested = m, true
	}
	m := Media{
		Format:      strings.ToLower(firstString(src, mediaFormatKeys...)),
		Codec:       strings.ToLower(firstString(src, mediaCodecKeys...)),
		PlaybackURL: firstString(src, playbackKeys...),
	}
	if n, ok := firstNumber(src, mediaSizeKeys...); ok && n > 0 {
		m.SizeBytes = int64(n)
	}
	if m.PlaybackURL == "" && nested {
		m.PlaybackURL = firstString(obj, playbackKeys...)
	}
	return m
}

func normalizeParticipants(obj map[string]any) []Participant {
	var items []any
	for _, key := range participantListKeys {
		if list, ok := obj[key].([]any); ok {
			items = list
			break
		}
	}
	if len(items) == 0 {
		return nil
	}
	out := make([]Participant, 0, len(items))
	for _, item := range items {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		participant := Participant{
			Type:     strings.ToLower(firstString(p, participantTypeKeys...)),
			ID:       firstString(p, participantIDKeys...),
			Name:     firstString(p, participantNameKeys...),
			Phone:    firstString(p, participantPhone...),
			Device:   firstString(p, participantDevice...),
			JoinedAt: firstTime(p, participantJoined...),
			LeftAt:   firstTime(p, participantLeft...),
		}
		if participant.ID == "" && participant.Name == "" && participant.Phone == "" {
			continue
		}
		if participant.Type == "" {
			participant.Type = "unknown"
		}
		out = append(out, participant)
	}
	return out
}

// normalizeTags accepts {"k":"v"}, [{"name":"k","value":"v"}] and ["k"].
// Duplicate names keep the last value.
func normalizeTags(obj map[string]any) []Tag {
	var raw any
	for _, key := range tagListKeys {
		if v, ok := obj[key]; ok && v != nil {
			raw = v
			break
		}
	}
	index := map[string]int{}
	var out []Tag
	add := func(name, value string) {
		name = strings.TrimSpace(name)
		if name == "" || len(name) > maxTagNameLen {
			return
		}
		if i, ok := index[name]; ok {
			out[i].Value = value
			return
		}
		index[name] = len(out)
		out = append(out, Tag{Name: name, Value: value})
	}
	switch v := raw.(type) {
	case map[string]any:
		for _, name := range sortedKeys(v) {
			value, _ := stringValue(v[name])
			add(name, value)
		}
	case []any:
		for _, item := range v {
			switch t := item.(type) {
			case string:
				add(t, "")
			case map[string]any:
				add(firstString(t, tagNameKeys...), firstString(t, tagValueKeys...))
			}
		}
	}
	return out
}

func decodeObject(raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformed
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, ErrMalformed
	}
	return obj, nil
}

func compact(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	return buf.Bytes()
}
