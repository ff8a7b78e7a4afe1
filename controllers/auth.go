package controllers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	dbpkg "bilireply/db"
	"bilireply/models"
	"bilireply/tools"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
)

type checkLoginRequest struct {
	QRCodeKey string `json:"qrcode_key" form:"qrcode_key"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// GET /api/auth/qrcode
// Starts a QR login. The image is a PNG data URI of the returned url.
func GetLoginQRCode(c *gin.Context) {
	qr, err := deps.Bilibili.GenerateLoginQRCode(requestCtx(c))
	if err != nil {
		log.Printf("auth: qrcode generate: %v", err)
		RespondError(c, "falha ao gerar qrcode", http.StatusBadGateway)
		return
	}

	image, err := tools.QRCodeDataURI(qr.URL)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{
		"url":          qr.URL,
		"qrcode_key":   qr.QRCodeKey,
		"qrcode_image": image,
	})
}

// POST /api/auth/check-login
// While the code is not confirmed the answer is success=false with the poll code.
// On confirmation the account is upserted by bili_user_id and a token is issued.
func CheckLogin(c *gin.Context) {
	var req checkLoginRequest
	if err := c.Bind(&req); err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	req.QRCodeKey = strings.TrimSpace(req.QRCodeKey)
	if req.QRCodeKey == "" {
		RespondError(c, "qrcode_key é obrigatório", http.StatusBadRequest)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	ctx := requestCtx(c)
	poll, err := deps.Bilibili.PollLoginQRCode(ctx, req.QRCodeKey)
	if err != nil {
		log.Printf("auth: qrcode poll: %v", err)
		RespondError(c, "falha ao verificar login", http.StatusBadGateway)
		return
	}
	if poll.Code != tools.QR_CODE_CONFIRMED {
		msg := poll.Message
		if msg == "" {
			msg = "login não concluído"
		}
		RespondFailure(c, gin.H{"code": poll.Code, "message": msg})
		return
	}

	login, err := tools.CookiesFromCrossDomainURL(poll.URL)
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	cookies := login.Header()

	nav, err := deps.Bilibili.GetNav(ctx, cookies)
	if err != nil {
		log.Printf("auth: nav: %v", err)
		RespondError(c, "falha ao obter dados do usuário", http.StatusBadGateway)
		return
	}
	mid := nav.Mid.String()
	if mid == "" || mid == "0" {
		mid = login.DedeUserID
	}

	user, err := upsertBiliUser(db, mid, nav, cookies)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	token, err := issueToken(user, deps.Now())
	if err != nil {
		RespondError(c, "falha ao gerar token", http.StatusInternalServerError)
		return
	}

	c.SetCookie("DedeUserID", login.DedeUserID, 0, "/", "", false, false)
	c.SetCookie("SESSDATA", login.SESSDATA, 0, "/", "", false, true)
	c.SetCookie("bili_jct", login.BiliJct, 0, "/", "", false, false)

	log.Printf("auth: login ok user=%d bili_user_id=%s", user.ID, user.BiliUserID)
	RespondSuccess(c, LoginResponse{Token: token, User: user})
}

func upsertBiliUser(db *gorm.DB, mid string, nav tools.NavInfo, cookies string) (models.User, error) {
	now := deps.Now()
	var user models.User
	err := db.Where("bili_user_id = ?", mid).First(&user).Error
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		return user, err
	}

	user.BiliUserID = mid
	user.BiliUsername = nav.DisplayName()
	user.AvatarURL = nav.Face
	user.Cookies = cookies
	user.LastLoginAt = &now

	if user.ID == 0 {
		return user, db.Create(&user).Error
	}
	return user, db.Save(&user).Error
}

// POST /api/auth/logout
// Forgets the stored platform cookies and turns the timer off for the account.
func Logout(c *gin.Context) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("cookies", "").Error; err != nil {
			return err
		}
		return tx.Model(&models.AutoReplySetting{}).Where("user_id = ?", user.ID).Update("enabled", false).Error
	})
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	for _, name := range []string{"DedeUserID", "SESSDATA", "bili_jct"} {
		c.SetCookie(name, "", -1, "/", "", false, false)
	}
	RespondSuccess(c, true)
}

// GET /api/user
func Me(c *gin.Context) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return
	}
	RespondSuccess(c, gin.H{"user": user, "logged_in": user.HasSession()})
}

// requirePlatformSession answers 401 when the account has no cookies stored.
func requirePlatformSession(c *gin.Context) (models.User, bool) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return user, false
	}
	if !user.HasSession() {
		RespondError(c, "usuário não logado na plataforma", http.StatusUnauthorized)
		return user, false
	}
	return user, true
}

var errNoCSRF = errors.New("csrf inválido, faça login novamente")

// csrfFor prefers the bili_jct cookie sent by the browser over the stored one.
func csrfFor(c *gin.Context, user models.User) (string, error) {
	if v, err := c.Cookie("bili_jct"); err == nil && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	if v := tools.ExtractCSRF(user.Cookies); v != "" {
		return v, nil
	}
	return "", errNoCSRF
}
