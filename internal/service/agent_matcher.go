package service

import (
	"sort"
	"strings"
	"unicode"

	"callsync/internal/models"
)

// AgentMatcher links upstream agent references to the local roster. Lookup
// order is external id, exact normalized name, then the name's token set so
// "Smith, Dana" finds "Dana Smith". Ambiguous matches resolve to nil.
type AgentMatcher struct {
	byExternalID map[string][]*models.Agent
	byEmail      map[string][]*models.Agent
	byName       map[string][]*models.Agent
	byTokens     map[string][]*models.Agent
}

func NewAgentMatcher(agents []models.Agent) *AgentMatcher {
	m := &AgentMatcher{
		byExternalID: map[string][]*models.Agent{},
		byEmail:      map[string][]*models.Agent{},
		byName:       map[string][]*models.Agent{},
		byTokens:     map[string][]*models.Agent{},
	}
	for i := range agents {
		a := &agents[i]
		if id := strings.TrimSpace(a.ExternalID); id != "" {
			m.byExternalID[id] = append(m.byExternalID[id], a)
		}
		if email := strings.ToLower(strings.TrimSpace(a.Email)); email != "" {
			m.byEmail[email] = append(m.byEmail[email], a)
		}
		if name := normalizeAgentName(a.Name); name != "" {
			m.byName[name] = append(m.byName[name], a)
		}
		if key := tokenKey(a.Name); key != "" {
			m.byTokens[key] = append(m.byTokens[key], a)
		}
	}
	return m
}

func (m *AgentMatcher) Match(externalID, name string) *models.Agent {
	if m == nil {
		return nil
	}
	if id := strings.TrimSpace(externalID); id != "" {
		if a, ok := unique(m.byExternalID[id]); ok {
			return a
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if strings.Contains(name, "@") {
		if a, ok := unique(m.byEmail[strings.ToLower(name)]); ok {
			return a
		}
	}
	if a, ok := unique(m.byName[normalizeAgentName(name)]); ok {
		return a
	}
	if a, ok := unique(m.byTokens[tokenKey(name)]); ok {
		return a
	}
	return nil
}

func unique(items []*models.Agent) (*models.Agent, bool) {
	if len(items) != 1 {
		return nil, false
	}
	return items[0], true
}

func nameTokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalizeAgentName(name string) string {
	return strings.Join(nameTokens(name), " ")
}

func tokenKey(name string) string {
	tokens := nameTokens(name)
	if len(tokens) < 2 {
		return ""
	}
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
