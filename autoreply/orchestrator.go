// Package autoreply runs one auto-reply pass for a user: it walks the unread
// private-message sessions, matches the new messages against the user's rules,
// sends the replies and marks the sessions read.
package autoreply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"bilireply/engine"
	"bilireply/models"
	"bilireply/tools"

	"github.com/google/uuid"
)

var (
	ErrNotLoggedIn = errors.New("user has no platform session")
	ErrMissingCSRF = errors.New("csrf token (bili_jct) not found")
)

// refetchSize is the page size used when the feed asks for an explicit seqno window.
const refetchSize = 50

type Options struct {
	DefaultMode   string
	RecencyWindow time.Duration
	HistoryLimit  int
	LockTTL       time.Duration
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if !models.IsValidAutoReplyMode(o.DefaultMode) {
		o.DefaultMode = models.AUTOREPLY_MODE_LATEST
	}
	if o.RecencyWindow <= 0 {
		o.RecencyWindow = 60 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 5 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type RunOptions struct {
	Trigger string
	Mode    string
	// CSRF overrides the bili_jct found in the stored cookies.
	CSRF string
}

// Result is the outcome for one message.
type Result struct {
	MessageID      string `json:"message_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	Reply          string `json:"reply,omitempty"`
	RuleName       string `json:"rule_name,omitempty"`
	RuleType       string `json:"rule_type,omitempty"`
	NoMatchingRule bool   `json:"no_matching_rule,omitempty"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

type Report struct {
	PassID         string    `json:"pass_id"`
	UserID         int64     `json:"user_id"`
	Trigger        string    `json:"trigger"`
	Mode           string    `json:"mode"`
	ProcessedCount int       `json:"processed_count"`
	Results        []Result  `json:"results"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	r.ProcessedCount = len(r.Results)
}

// Counts returns success, failure and no-match totals.
func (r *Report) Counts() (success, failure, noMatch int) {
	for _, res := range r.Results {
		if res.Success {
			success++
		} else {
			failure++
		}
		if res.NoMatchingRule {
			noMatch++
		}
	}
	return
}

type Orchestrator struct {
	feed   Feed
	store  Store
	locker Locker
	opts   Options
}

func New(feed Feed, store Store, locker Locker, opts Options) *Orchestrator {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Orchestrator{feed: feed, store: store, locker: locker, opts: opts.withDefaults()}
}

// candidate is a message selected for matching, already decoded.
type candidate struct {
	id       string
	sender   string
	receiver string
	content  string
	sentAt   time.Time
}

type pass struct {
	user    models.User
	csrf    string
	mode    string
	rules   *engine.RuleSet
	report  *Report
	ownerID string
}

// Run executes one pass for user. Only unmet preconditions (including the
// platform rejecting the session cookies) and a busy lock are returned as
// errors; feed failures end up in the report as failed results.
func (o *Orchestrator) Run(ctx context.Context, user models.User, opts RunOptions) (*Report, error) {
	if !user.HasSession() {
		return nil, ErrNotLoggedIn
	}
	csrf := opts.CSRF
	if csrf == "" {
		csrf = tools.ExtractCSRF(user.Cookies)
	}
	if csrf == "" {
		return nil, ErrMissingCSRF
	}
	mode := opts.Mode
	if !models.IsValidAutoReplyMode(mode) {
		mode = o.opts.DefaultMode
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = models.PASS_TRIGGER_MANUAL
	}

	token, err := o.locker.Acquire(user.ID, o.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := o.locker.Release(user.ID, token); err != nil {
			log.Printf("auto-reply: release lock user=%d: %v", user.ID, err)
		}
	}()

	rules, err := o.store.RulesFor(user.ID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	p := &pass{
		user:    user,
		csrf:    csrf,
		mode:    mode,
		rules:   engine.Compile(rules).WithClock(o.opts.Now),
		ownerID: user.BiliUserID,
		report: &Report{
			PassID:    uuid.NewString(),
			UserID:    user.ID,
			Trigger:   trigger,
			Mode:      mode,
			Results:   []Result{},
			StartedAt: o.opts.Now(),
		},
	}
	log.Printf("auto-reply: pass %s user=%d mode=%s trigger=%s rules=%d", p.report.PassID, user.ID, mode, trigger, p.rules.Len())

	sessions, err := o.feed.Sessions(ctx, user.Cookies)
	if err != nil {
		var apiErr *tools.APIError
		if errors.As(err, &apiErr) && apiErr.Code == tools.API_CODE_NOT_LOGGED_IN {
			return nil, fmt.Errorf("fetch sessions: %w", ErrNotLoggedIn)
		}
		log.Printf("auto-reply: pass %s fetch sessions: %v", p.report.PassID, err)
		p.report.add(Result{Success: false, Error: "fetch sessions: " + err.Error()})
	}

	for _, s := range sessions {
		if ctx.Err() != nil {
			log.Printf("auto-reply: pass %s cancelled: %v", p.report.PassID, ctx.Err())
			break
		}
		if s.UnreadCount <= 0 {
			continue
		}
		if s.TalkerID <= 0 {
			log.Printf("auto-reply: skipping session without talker_id (unread=%d)", s.UnreadCount)
			continue
		}
		o.processSession(ctx, p, s)
	}

	p.report.FinishedAt = o.opts.Now()
	o.saveRun(p.report)

	success, failure, noMatch := p.report.Counts()
	log.Printf("auto-reply: pass %s done processed=%d success=%d failure=%d no_match=%d",
		p.report.PassID, p.report.ProcessedCount, success, failure, noMatch)
	return p.report, nil
}

func (o *Orchestrator) processSession(ctx context.Context, p *pass, s tools.BiliSession) {
	talker := strconv.FormatInt(s.TalkerID, 10)

	data, err := o.feed.SessionMessages(ctx, p.user.Cookies, s.TalkerID, tools.FetchOptions{})
	if err != nil {
		log.Printf("auto-reply: fetch messages talker=%s: %v", talker, err)
		p.report.add(Result{SenderID: talker, Success: false, Error: "fetch messages: " + err.Error()})
		return
	}
	if begin, end, ok := needsSeqnoRefetch(data); ok {
		log.Printf("auto-reply: talker=%s refetching seqno window %d..%d", talker, begin, end)
		retry, err := o.feed.SessionMessages(ctx, p.user.Cookies, s.TalkerID, tools.FetchOptions{BeginSeqno: begin, EndSeqno: end, Size: refetchSize})
		if err != nil {
			log.Printf("auto-reply: refetch talker=%s: %v", talker, err)
			p.report.add(Result{SenderID: talker, Success: false, Error: "refetch messages: " + err.Error()})
			return
		}
		data = retry
	}

	msgs, strategy := ExtractMessages(data)
	if len(msgs) == 0 {
		log.Printf("auto-reply: talker=%s no messages found", talker)
		return
	}
	log.Printf("auto-reply: talker=%s %d messages via %s", talker, len(msgs), strategy)

	var cands []candidate
	if p.mode == models.AUTOREPLY_MODE_HISTORY {
		cands = o.selectHistory(p, msgs)
	} else {
		cands = o.selectLatest(p, msgs)
	}
	for _, c := range cands {
		p.report.add(o.handleSafely(ctx, p, c))
	}

	seq := s.MaxSeqno
	if s.AckSeqno > seq {
		seq = s.AckSeqno
	}
	for _, m := range msgs {
		if n := seqno(m); n > seq {
			seq = n
		}
	}
	if err := o.feed.Ack(ctx, p.user.Cookies, s.TalkerID, seq, p.csrf); err != nil {
		log.Printf("auto-reply: ack talker=%s seqno=%d: %v", talker, seq, err)
	}
}

// decode turns a raw message into a candidate. ok is false (and the reason is
// logged) when it has no id or no text.
func (o *Orchestrator) decode(m rawMessage) (candidate, bool) {
	id, ok := MessageID(m)
	if !ok {
		log.Printf("auto-reply: skipping message without id")
		return candidate{}, false
	}
	content := MessageContent(m)
	if content == "" {
		log.Printf("auto-reply: skipping message %s without content", id)
		return candidate{}, false
	}
	sentAt := o.opts.Now()
	if ts, ok := timestamp(m); ok {
		sentAt = time.Unix(ts, 0)
	}
	return candidate{id: id, sender: senderID(m), receiver: receiverID(m), content: content, sentAt: sentAt}, true
}

func (p *pass) fromCounterpart(m rawMessage) bool {
	sender := senderID(m)
	return messageType(m) == 1 && sender != "" && sender != p.ownerID
}

func byTimestamp(msgs []rawMessage, desc bool) []rawMessage {
	out := append([]rawMessage(nil), msgs...)
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := timestamp(out[i])
		b, _ := timestamp(out[j])
		if desc {
			return a > b
		}
		return a < b
	})
	return out
}

// selectLatest looks only at the newest message of the session, and only if it
// arrived inside the recency window.
func (o *Orchestrator) selectLatest(p *pass, msgs []rawMessage) []candidate {
	latest := byTimestamp(msgs, true)[0]
	if !p.fromCounterpart(latest) {
		return nil
	}
	c, ok := o.decode(latest)
	if !ok {
		return nil
	}
	if c.sentAt.Before(o.opts.Now().Add(-o.opts.RecencyWindow)) {
		log.Printf("auto-reply: skipping older message %s sent at %s", c.id, c.sentAt.Format(time.RFC3339))
		return nil
	}
	return []candidate{c}
}

// selectHistory takes every text message from the counterpart (newest
// HistoryLimit, oldest first) that has not been processed yet. New ones are
// stored before anything is decided.
func (o *Orchestrator) selectHistory(p *pass, msgs []rawMessage) []candidate {
	var texts []rawMessage
	for _, m := range byTimestamp(msgs, false) {
		if p.fromCounterpart(m) {
			texts = append(texts, m)
		}
	}
	if len(texts) > o.opts.HistoryLimit {
		texts = texts[len(texts)-o.opts.HistoryLimit:]
	}

	var out []candidate
	for _, m := range texts {
		c, ok := o.decode(m)
		if !ok {
			continue
		}
		existing, err := o.store.FindMessage(p.user.ID, c.id)
		if err != nil {
			p.report.add(Result{MessageID: c.id, SenderID: c.sender, Content: c.content, Error: "lookup: " + err.Error()})
			continue
		}
		if existing != nil && existing.IsProcessed {
			continue
		}
		if existing == nil {
			sentAt := c.sentAt
			inbound := models.Message{
				MessageID:  c.id,
				UserID:     p.user.ID,
				SenderID:   c.sender,
				ReceiverID: o.receiverFor(p, c),
				Content:    c.content,
				SentAt:     &sentAt,
			}
			if err := o.store.SaveMessage(&inbound); err != nil {
				p.report.add(Result{MessageID: c.id, SenderID: c.sender, Content: c.content, Error: "save inbound: " + err.Error()})
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func (o *Orchestrator) receiverFor(p *pass, c candidate) string {
	if c.receiver != "" {
		return c.receiver
	}
	return p.user.BiliUserID
}

func (o *Orchestrator) handleSafely(ctx context.Context, p *pass, c candidate) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("auto-reply: message %s panicked: %v", c.id, r)
			res = Result{MessageID: c.id, SenderID: c.sender, Content: c.content, Error: fmt.Sprint(r)}
		}
	}()
	return o.handle(ctx, p, c)
}

func (o *Orchestrator) handle(ctx context.Context, p *pass, c candidate) Result {
	res := Result{MessageID: c.id, SenderID: c.sender, Content: c.content}
	sentAt := c.sentAt
	msg := models.Message{
		MessageID:  c.id,
		UserID:     p.user.ID,
		SenderID:   c.sender,
		ReceiverID: o.receiverFor(p, c),
		Content:    c.content,
		SentAt:     &sentAt,
	}

	match := p.rules.Process(msg)
	if match == nil {
		res.NoMatchingRule = true
		res.Success = true
		if p.mode == models.AUTOREPLY_MODE_HISTORY {
			o.markProcessed(p.user.ID, c.id)
		}
		return res
	}
	res.RuleName = match.Rule.Name
	res.RuleType = match.Rule.Type
	log.Printf("auto-reply: message %s matched rule %q (id %d)", c.id, match.Rule.Name, match.Rule.ID)

	msgKey, err := o.feed.Send(ctx, p.user.Cookies, tools.SendRequest{
		SenderID:   p.user.BiliUserID,
		ReceiverID: c.sender,
		Content:    match.Reply,
		CSRF:       p.csrf,
	})
	if err != nil {
		log.Printf("auto-reply: send reply to %s: %v", c.sender, err)
		res.Error = err.Error()
		return res
	}
	res.Reply = match.Reply
	res.Success = true

	if msgKey == "" {
		msgKey = "reply-" + uuid.NewString()
	}
	now := o.opts.Now()
	ruleID := match.Rule.ID
	reply := models.Message{
		MessageID:   msgKey,
		UserID:      p.user.ID,
		SenderID:    p.user.BiliUserID,
		ReceiverID:  c.sender,
		Content:     match.Reply,
		SentAt:      &now,
		IsRead:      true,
		IsProcessed: true,
		IsAutoReply: true,
		RuleID:      &ruleID,
	}
	if err := o.store.SaveMessage(&reply); err != nil {
		log.Printf("auto-reply: save reply %s: %v", msgKey, err)
		res.Error = "reply sent but not saved: " + err.Error()
	}
	if p.mode == models.AUTOREPLY_MODE_HISTORY {
		o.markProcessed(p.user.ID, c.id)
	}
	return res
}

func (o *Orchestrator) markProcessed(userID int64, messageID string) {
	if err := o.store.MarkProcessed(userID, messageID); err != nil {
		log.Printf("auto-reply: mark processed %s: %v", messageID, err)
	}
}

func (o *Orchestrator) saveRun(r *Report) {
	success, failure, noMatch := r.Counts()
	results, _ := json.Marshal(r.Results)
	started, finished := r.StartedAt, r.FinishedAt
	run := models.PassRun{
		PassID:         r.PassID,
		UserID:         r.UserID,
		Trigger:        r.Trigger,
		Mode:           r.Mode,
		StartedAt:      &started,
		FinishedAt:     &finished,
		ProcessedCount: r.ProcessedCount,
		SuccessCount:   success,
		FailureCount:   failure,
		NoMatchCount:   noMatch,
		ResultsJSON:    string(results),
	}
	if err := o.store.SavePassRun(&run); err != nil {
		log.Printf("auto-reply: save pass run %s: %v", r.PassID, err)
	}
}
