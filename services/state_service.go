package services

import (
	"container/list"
	"sync"
	"time"

	"gent/models"
)

// ModelSpec はモデルレジストリの1エントリ
type ModelSpec struct {
	Key         string
	DisplayName string
	DailyLimit  int
}

// DefaultModels is the ordered model registry used for fallback.
func DefaultModels() []ModelSpec {
	return []ModelSpec{
		{Key: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", DailyLimit: 500},
		{Key: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", DailyLimit: 100},
	}
}

// Credential is one API key together with its position in the credential list.
type Credential struct {
	Index int
	Key   string
}

type StateOptions struct {
	Models           []ModelSpec
	APIKeys          []string
	DefaultModel     string
	MaxHistory       int
	MaxConversations int
	Location         *time.Location
	Now              func() time.Time
}

type conversationEntry struct {
	userKey string
	turns   []models.Turn
}

// StateStore holds per-user histories, model preferences, usage counters and the
// active credential. All mutations go through a single mutex.
type StateStore struct {
	mu sync.Mutex

	maxHistory       int
	maxConversations int
	conversations    map[string]*list.Element
	lru              *list.List

	defaultModel string
	preferences  map[string]string

	modelOrder []string
	usage      map[string]*models.ModelUsage

	credentials     []string
	credentialIndex int

	loc       *time.Location
	now       func() time.Time
	lastReset string
}

func NewStateStore(opts StateOptions) *StateStore {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if len(opts.Models) == 0 {
		opts.Models = DefaultModels()
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 40
	}
	if opts.MaxConversations <= 0 {
		opts.MaxConversations = 1000
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = opts.Models[0].Key
	}

	s := &StateStore{
		maxHistory:       opts.MaxHistory,
		maxConversations: opts.MaxConversations,
		conversations:    make(map[string]*list.Element),
		lru:              list.New(),
		defaultModel:     opts.DefaultModel,
		preferences:      make(map[string]string),
		usage:            make(map[string]*models.ModelUsage),
		credentials:      append([]string(nil), opts.APIKeys...),
		loc:              opts.Location,
		now:              opts.Now,
	}
	for _, m := range opts.Models {
		s.modelOrder = append(s.modelOrder, m.Key)
		s.usage[m.Key] = &models.ModelUsage{Key: m.Key, DisplayName: m.DisplayName, DailyLimit: m.DailyLimit}
	}
	s.lastReset = s.today()
	return s
}

func (s *StateStore) today() string {
	return s.now().In(s.loc).Format("2006-01-02")
}

// History returns a copy of the user's stored history.
func (s *StateStore) History(userKey string) []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.conversations[userKey]
	if !ok {
		return nil
	}
	s.lru.MoveToFront(el)
	entry := el.Value.(*conversationEntry)
	return append([]models.Turn(nil), entry.turns...)
}

// Append adds turns to the user's history, evicting the oldest user/model pairs
// once the history exceeds the configured maximum.
func (s *StateStore) Append(userKey string, turns ...models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.conversations[userKey]
	if !ok {
		el = s.lru.PushFront(&conversationEntry{userKey: userKey})
		s.conversations[userKey] = el
		s.evictConversations()
	} else {
		s.lru.MoveToFront(el)
	}
	entry := el.Value.(*conversationEntry)
	for _, t := range turns {
		entry.turns = append(entry.turns, t)
		entry.turns = trimHistory(entry.turns, s.maxHistory)
	}
}

func (s *StateStore) evictConversations() {
	for s.lru.Len() > s.maxConversations {
		oldest := s.lru.Back()
		s.lru.Remove(oldest)
		delete(s.conversations, oldest.Value.(*conversationEntry).userKey)
	}
}

// trimHistory drops the oldest user turn and the model turn answering it until
// the history fits.
func trimHistory(turns []models.Turn, max int) []models.Turn {
	for len(turns) > max {
		cut := 1
		if turns[0].Role == models.RoleUser && len(turns) > 1 && turns[1].Role == models.RoleModel {
			cut = 2
		}
		turns = append([]models.Turn(nil), turns[cut:]...)
	}
	return turns
}

func (s *StateStore) Clear(userKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.conversations[userKey]; ok {
		s.lru.Remove(el)
		delete(s.conversations, userKey)
	}
}

// ConversationCount returns the number of tracked conversations.
func (s *StateStore) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// PreferredModel returns the user's model or the configured default.
func (s *StateStore) PreferredModel(userKey string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.preferences[userKey]; ok {
		return m
	}
	return s.defaultModel
}

func (s *StateStore) SetPreferredModel(userKey, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[userKey] = model
}

// IsKnownModel reports whether key is in the model registry.
func (s *StateStore) IsKnownModel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.usage[key]
	return ok
}

// ModelKeys returns the registry keys in fallback order.
func (s *StateStore) ModelKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.modelOrder...)
}

func (s *StateStore) RecordUsage(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usage[model]; ok {
		u.Count++
	}
}

func (s *StateStore) Usage(model string) (models.ModelUsage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usage[model]
	if !ok {
		return models.ModelUsage{}, false
	}
	return *u, true
}

// UsageSnapshot returns all counters in registry order.
func (s *StateStore) UsageSnapshot() []models.ModelUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ModelUsage, 0, len(s.modelOrder))
	for _, k := range s.modelOrder {
		out = append(out, *s.usage[k])
	}
	return out
}

// LimitReached reports whether the model has used up its daily allowance.
func (s *StateStore) LimitReached(model string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usage[model]
	return ok && u.LimitReached()
}

// DailyResetIfNeeded zeroes every counter once per calendar-day change.
func (s *StateStore) DailyResetIfNeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.today()
	if today == s.lastReset {
		return false
	}
	s.resetUsageLocked()
	s.lastReset = today
	return true
}

func (s *StateStore) resetUsageLocked() {
	for _, u := range s.usage {
		u.Count = 0
	}
}

// ActiveCredential returns the credential new requests should use.
func (s *StateStore) ActiveCredential() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.credentials) == 0 {
		return Credential{}, false
	}
	return Credential{Index: s.credentialIndex, Key: s.credentials[s.credentialIndex]}, true
}

// SwitchCredential moves away from the credential at index from and resets all
// usage counters. If another request already switched away from it, the current
// credential is returned without a second reset. ok is false when there is no
// alternate credential.
func (s *StateStore) SwitchCredential(from int) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.credentials) < 2 {
		return Credential{}, false
	}
	if s.credentialIndex == from {
		s.credentialIndex = (s.credentialIndex + 1) % len(s.credentials)
		s.resetUsageLocked()
	}
	return Credential{Index: s.credentialIndex, Key: s.credentials[s.credentialIndex]}, true
}
