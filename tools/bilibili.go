package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPassportBaseURL = "https://passport.bilibili.com"
	defaultAPIBaseURL      = "https://api.bilibili.com"
	defaultVCBaseURL       = "https://api.vc.bilibili.com"
)

/************************************************
/**** MARK: QR LOGIN CODES ****/
/************************************************/
const QR_CODE_CONFIRMED = 0
const QR_CODE_EXPIRED = 86038
const QR_CODE_SCANNED = 86090
const QR_CODE_NOT_SCANNED = 86101

/************************************************
/**** MARK: API CODES ****/
/************************************************/
const API_CODE_NOT_LOGGED_IN = -101

// ProxyResolver returns the "host:port" requests issued at now should go through,
// or "" for a direct connection.
type ProxyResolver func(now time.Time) string

// BilibiliClient is a thin client for the web endpoints used by the auto-reply.
// Zero values fall back to the public hosts and a 30s timeout.
type BilibiliClient struct {
	PassportBaseURL string
	APIBaseURL      string
	VCBaseURL       string
	UserAgent       string
	Timeout         time.Duration
	Proxy           ProxyResolver
}

// APIError is a non-zero envelope code or a non-2xx HTTP status.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("bilibili api error: status=%d code=%d message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("bilibili api error: code=%d message=%s", e.Code, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type QRCode struct {
	URL       string `json:"url"`
	QRCodeKey string `json:"qrcode_key"`
}

type QRCodePoll struct {
	Code         int    `json:"code"`
	Message      string `json:"message"`
	URL          string `json:"url"`
	RefreshToken string `json:"refresh_token"`
}

type NavInfo struct {
	IsLogin bool        `json:"isLogin"`
	Mid     json.Number `json:"mid"`
	Uname   string      `json:"uname"`
	Name    string      `json:"name"`
	Face    string      `json:"face"`
}

// DisplayName prefers uname, then name, then a placeholder built from the mid.
func (n NavInfo) DisplayName() string {
	if strings.TrimSpace(n.Uname) != "" {
		return n.Uname
	}
	if strings.TrimSpace(n.Name) != "" {
		return n.Name
	}
	return "用户" + n.Mid.String()
}

// BiliSession is one private-message conversation.
type BiliSession struct {
	TalkerID    int64          `json:"talker_id"`
	SessionType int            `json:"session_type"`
	UnreadCount int            `json:"unread_count"`
	AckSeqno    int64          `json:"ack_seqno"`
	MaxSeqno    int64          `json:"max_seqno"`
	SessionTs   int64          `json:"session_ts"`
	LastMsg     map[string]any `json:"last_msg"`
}

// FetchOptions narrows fetch_session_msgs. Zero fields are not sent.
type FetchOptions struct {
	BeginSeqno int64
	EndSeqno   int64
	Size       int
}

type SendRequest struct {
	SenderID   string
	ReceiverID string
	Content    string
	CSRF       string
}

func (c BilibiliClient) base(v, def string) string {
	v = strings.TrimRight(strings.TrimSpace(v), "/")
	if v == "" {
		return def
	}
	return v
}

type proxyResolverKey struct{}

// transport is shared by every client. The proxy is picked per request from
// the resolver carried in the request context.
var transport = newTransport()

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = proxyForRequest
	return t
}

func proxyForRequest(req *http.Request) (*url.URL, error) {
	resolve, _ := req.Context().Value(proxyResolverKey{}).(ProxyResolver)
	if resolve == nil {
		return http.ProxyFromEnvironment(req)
	}
	if addr := resolve(time.Now()); addr != "" {
		return &url.URL{Scheme: "http", Host: addr}, nil
	}
	return nil, nil
}

func (c BilibiliClient) httpClient() *http.Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func (c BilibiliClient) do(ctx context.Context, method, endpoint string, query url.Values, form url.Values, cookies string, out any) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	if c.Proxy != nil {
		ctx = context.WithValue(ctx, proxyResolverKey{}, c.Proxy)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	ua := c.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Referer", "https://message.bilibili.com/")
	req.Header.Set("Origin", "https://message.bilibili.com")
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Code: -1, Message: string(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("bilibili api: decode envelope: %w", err)
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("bilibili api: decode data: %w", err)
	}
	return nil
}

// GenerateLoginQRCode asks passport for a new login QR code.
func (c BilibiliClient) GenerateLoginQRCode(ctx context.Context) (QRCode, error) {
	var out QRCode
	endpoint := c.base(c.PassportBaseURL, defaultPassportBaseURL) + "/x/passport-login/web/qrcode/generate"
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, "", &out)
	return out, err
}

// PollLoginQRCode returns the scan state of key. Code 0 means confirmed and URL
// carries the session cookies.
func (c BilibiliClient) PollLoginQRCode(ctx context.Context, key string) (QRCodePoll, error) {
	var out QRCodePoll
	endpoint := c.base(c.PassportBaseURL, defaultPassportBaseURL) + "/x/passport-login/web/qrcode/poll"
	err := c.do(ctx, http.MethodGet, endpoint, url.Values{"qrcode_key": {key}}, nil, "", &out)
	return out, err
}

func (c BilibiliClient) GetNav(ctx context.Context, cookies string) (NavInfo, error) {
	var out NavInfo
	endpoint := c.base(c.APIBaseURL, defaultAPIBaseURL) + "/x/web-interface/nav"
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, cookies, &out)
	return out, err
}

// Sessions lists the user's private-message sessions, newest first.
func (c BilibiliClient) Sessions(ctx context.Context, cookies string) ([]BiliSession, error) {
	var out struct {
		SessionList []BiliSession `json:"session_list"`
	}
	endpoint := c.base(c.VCBaseURL, defaultVCBaseURL) + "/session_svr/v1/session_svr/get_sessions"
	q := url.Values{
		"session_type":  {"1"},
		"group_fold":    {"1"},
		"unfollow_fold": {"0"},
		"sort_rule":     {"2"},
		"build":         {"0"},
		"mobi_app":      {"web"},
	}
	if err := c.do(ctx, http.MethodGet, endpoint, q, nil, cookies, &out); err != nil {
		return nil, err
	}
	return out.SessionList, nil
}

// SessionMessages returns the raw data object of fetch_session_msgs. Its shape is
// not stable, so interpretation is left to the caller. Numbers are json.Number.
func (c BilibiliClient) SessionMessages(ctx context.Context, cookies string, talkerID int64, opts FetchOptions) (map[string]any, error) {
	endpoint := c.base(c.VCBaseURL, defaultVCBaseURL) + "/svr_sync/v1/svr_sync/fetch_session_msgs"
	q := url.Values{
		"talker_id":    {strconv.FormatInt(talkerID, 10)},
		"session_type": {"1"},
	}
	if opts.BeginSeqno > 0 {
		q.Set("begin_seqno", strconv.FormatInt(opts.BeginSeqno, 10))
	}
	if opts.EndSeqno > 0 {
		q.Set("end_seqno", strconv.FormatInt(opts.EndSeqno, 10))
	}
	if opts.Size > 0 {
		q.Set("size", strconv.Itoa(opts.Size))
	}

	var out map[string]any
	if err := c.do(ctx, http.MethodGet, endpoint, q, nil, cookies, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Send posts a text private message and returns its msg_key.
func (c BilibiliClient) Send(ctx context.Context, cookies string, r SendRequest) (string, error) {
	if strings.TrimSpace(r.ReceiverID) == "" || r.Content == "" {
		return "", fmt.Errorf("bilibili send: receiver and content are required")
	}
	content, _ := json.Marshal(map[string]string{"content": r.Content})
	sender := r.SenderID
	if sender == "" {
		sender = "0"
	}

	form := url.Values{
		"msg[sender_uid]":    {sender},
		"msg[receiver_id]":   {r.ReceiverID},
		"msg[receiver_type]": {"1"},
		"msg[msg_type]":      {"1"},
		"msg[msg_status]":    {"0"},
		"msg[content]":       {string(content)},
		"msg[dev_id]":        {strings.ToUpper(uuid.NewString())},
		"msg[timestamp]":     {strconv.FormatInt(time.Now().Unix(), 10)},
		"csrf":               {r.CSRF},
		"csrf_token":         {r.CSRF},
	}

	var out struct {
		MsgKey json.Number `json:"msg_key"`
	}
	endpoint := c.base(c.VCBaseURL, defaultVCBaseURL) + "/web_im/v1/web_im/send_msg"
	if err := c.do(ctx, http.MethodPost, endpoint, nil, form, cookies, &out); err != nil {
		return "", err
	}
	return out.MsgKey.String(), nil
}

// Ack marks the session with talkerID read up to seqno.
func (c BilibiliClient) Ack(ctx context.Context, cookies string, talkerID int64, seqno int64, csrf string) error {
	form := url.Values{
		"talker_id":    {strconv.FormatInt(talkerID, 10)},
		"session_type": {"1"},
		"ack_seqno":    {strconv.FormatInt(seqno, 10)},
		"csrf":         {csrf},
		"csrf_token":   {csrf},
	}
	endpoint := c.base(c.VCBaseURL, defaultVCBaseURL) + "/session_svr/v1/session_svr/update_ack"
	return c.do(ctx, http.MethodPost, endpoint, nil, form, cookies, nil)
}
