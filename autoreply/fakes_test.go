package autoreply

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"bilireply/models"
	"bilireply/tools"
)

type ackCall struct {
	talker int64
	seqno  int64
	csrf   string
}

type fakeFeed struct {
	mu sync.Mutex

	sessions    []tools.BiliSession
	sessionsErr error
	// messages per talker; a slice of payloads is consumed one fetch at a time,
	// the last one repeating.
	payloads map[int64][]map[string]any
	fetchErr map[int64]error
	// refetchErr fails only the explicit seqno window request.
	refetchErr error
	sendErr    error
	ackErr     error

	fetches []tools.FetchOptions
	sent    []tools.SendRequest
	acks    []ackCall
	nextKey int64
}

func (f *fakeFeed) Sessions(ctx context.Context, cookies string) ([]tools.BiliSession, error) {
	return f.sessions, f.sessionsErr
}

func (f *fakeFeed) SessionMessages(ctx context.Context, cookies string, talkerID int64, opts tools.FetchOptions) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, opts)
	if err := f.fetchErr[talkerID]; err != nil {
		return nil, err
	}
	if opts.BeginSeqno != 0 && f.refetchErr != nil {
		return nil, f.refetchErr
	}
	list := f.payloads[talkerID]
	if len(list) == 0 {
		return map[string]any{}, nil
	}
	p := list[0]
	if len(list) > 1 {
		f.payloads[talkerID] = list[1:]
	}
	return p, nil
}

func (f *fakeFeed) Send(ctx context.Context, cookies string, r tools.SendRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, r)
	f.nextKey++
	return "sent-" + strconv.FormatInt(f.nextKey, 10), nil
}

func (f *fakeFeed) Ack(ctx context.Context, cookies string, talkerID int64, seqno int64, csrf string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, ackCall{talker: talkerID, seqno: seqno, csrf: csrf})
	return f.ackErr
}

type memStore struct {
	mu       sync.Mutex
	rules    []models.Rule
	messages map[string]*models.Message
	runs     []models.PassRun
	saveErr  error
}

func newMemStore(rules ...models.Rule) *memStore {
	return &memStore{rules: rules, messages: map[string]*models.Message{}}
}

func (s *memStore) RulesFor(userID int64) ([]models.Rule, error) {
	return s.rules, nil
}

func messageKey(userID int64, messageID string) string {
	return strconv.FormatInt(userID, 10) + "/" + messageID
}

func (s *memStore) FindMessage(userID int64, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageKey(userID, messageID)]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) SaveMessage(m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	key := messageKey(m.UserID, m.MessageID)
	if _, dup := s.messages[key]; dup {
		return errors.New("duplicate message_id")
	}
	cp := *m
	s.messages[key] = &cp
	return nil
}

func (s *memStore) MarkProcessed(userID int64, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[messageKey(userID, messageID)]; ok {
		m.IsProcessed = true
		m.IsRead = true
	}
	return nil
}

func (s *memStore) SavePassRun(run *models.PassRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *memStore) autoReplies() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.IsAutoReply {
			out = append(out, *m)
		}
	}
	return out
}
