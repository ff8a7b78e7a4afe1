package tools

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/skip2/go-qrcode"
)

var csrfRe = regexp.MustCompile(`bili_jct=([^;]+)`)

// ExtractCSRF returns the bili_jct value of a cookie header, or "".
func ExtractCSRF(cookies string) string {
	m := csrfRe.FindStringSubmatch(cookies)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// LoginCookies is what a confirmed QR login hands back.
type LoginCookies struct {
	DedeUserID string
	SESSDATA   string
	BiliJct    string
}

// Header renders the cookie header stored for the user.
func (l LoginCookies) Header() string {
	return fmt.Sprintf("DedeUserID=%s; SESSDATA=%s; bili_jct=%s;", l.DedeUserID, l.SESSDATA, l.BiliJct)
}

// CookiesFromCrossDomainURL reads the session cookies out of the crossDomain
// redirect returned by a confirmed QR poll.
func CookiesFromCrossDomainURL(raw string) (LoginCookies, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return LoginCookies{}, err
	}
	q := u.Query()
	out := LoginCookies{
		DedeUserID: q.Get("DedeUserID"),
		SESSDATA:   q.Get("SESSDATA"),
		BiliJct:    q.Get("bili_jct"),
	}
	if out.DedeUserID == "" || out.SESSDATA == "" || out.BiliJct == "" {
		return LoginCookies{}, fmt.Errorf("crossDomain url sem DedeUserID/SESSDATA/bili_jct")
	}
	return out, nil
}

// EncodeQRCodePNG renders link as a 256px PNG.
func EncodeQRCodePNG(link string) ([]byte, error) {
	return qrcode.Encode(link, qrcode.Medium, 256)
}

// QRCodeDataURI is EncodeQRCodePNG as a data: URI for <img src>.
func QRCodeDataURI(link string) (string, error) {
	png, err := EncodeQRCodePNG(link)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
