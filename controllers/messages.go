package controllers

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"bilireply/autoreply"
	dbpkg "bilireply/db"
	"bilireply/models"
	"bilireply/tools"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
)

// messagesKeep is how many messages of a fetched conversation get stored.
const messagesKeep = 50

// GET /api/messages/sessions
func GetSessions(c *gin.Context) {
	user, ok := requirePlatformSession(c)
	if !ok {
		return
	}

	sessions, err := deps.Bilibili.Sessions(requestCtx(c), user.Cookies)
	if err != nil {
		log.Printf("messages: sessions user=%d: %v", user.ID, err)
		RespondError(c, "falha ao obter sessões", http.StatusBadGateway)
		return
	}
	if sessions == nil {
		sessions = []tools.BiliSession{}
	}
	RespondSuccess(c, gin.H{"sessions": sessions})
}

func paramTalkerID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("talkerId")), 10, 64)
	if err != nil || id <= 0 {
		RespondError(c, "talkerId inválido", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// GET /api/messages/:talkerId
// Returns the raw conversation. Text messages among the first 50 are stored as
// read and processed, so the auto-reply history mode leaves them alone.
func GetSessionMessages(c *gin.Context) {
	user, ok := requirePlatformSession(c)
	if !ok {
		return
	}
	talkerID, ok := paramTalkerID(c)
	if !ok {
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	data, err := deps.Bilibili.SessionMessages(requestCtx(c), user.Cookies, talkerID, tools.FetchOptions{})
	if err != nil {
		log.Printf("messages: fetch user=%d talker=%d: %v", user.ID, talkerID, err)
		RespondError(c, "falha ao obter mensagens", http.StatusBadGateway)
		return
	}

	for _, m := range autoreply.TextMessages(data, user.ID, messagesKeep) {
		if err := upsertSeenMessage(db, m); err != nil {
			log.Printf("messages: save %s: %v", m.MessageID, err)
		}
	}

	msgs, _ := autoreply.ExtractMessages(data)
	if msgs == nil {
		msgs = []map[string]any{}
	}
	RespondSuccess(c, gin.H{"messages": msgs, "raw": data})
}

func upsertSeenMessage(db *gorm.DB, m models.Message) error {
	var existing models.Message
	err := db.Where("user_id = ? AND message_id = ?", m.UserID, m.MessageID).First(&existing).Error
	if gorm.IsRecordNotFoundError(err) {
		return db.Create(&m).Error
	}
	if err != nil {
		return err
	}
	return db.Model(&models.Message{}).Where("id = ?", existing.ID).Updates(map[string]any{
		"content":      m.Content,
		"is_read":      true,
		"is_processed": true,
	}).Error
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// POST /api/messages/:talkerId
// Manual reply; stored with is_auto_reply=false.
func SendSessionMessage(c *gin.Context) {
	user, ok := requirePlatformSession(c)
	if !ok {
		return
	}
	talkerID, ok := paramTalkerID(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		RespondError(c, "content é obrigatório", http.StatusBadRequest)
		return
	}

	csrf, err := csrfFor(c, user)
	if err != nil {
		RespondError(c, err.Error(), http.StatusUnauthorized)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	receiver := strconv.FormatInt(talkerID, 10)
	msgKey, err := deps.Bilibili.Send(requestCtx(c), user.Cookies, tools.SendRequest{
		SenderID:   user.BiliUserID,
		ReceiverID: receiver,
		Content:    req.Content,
		CSRF:       csrf,
	})
	if err != nil {
		log.Printf("messages: send user=%d talker=%d: %v", user.ID, talkerID, err)
		RespondError(c, "falha ao enviar mensagem: "+err.Error(), http.StatusBadGateway)
		return
	}
	if msgKey == "" {
		msgKey = "manual-" + uuid.NewString()
	}

	now := deps.Now()
	msg := models.Message{
		MessageID:   msgKey,
		UserID:      user.ID,
		SenderID:    user.BiliUserID,
		ReceiverID:  receiver,
		Content:     req.Content,
		SentAt:      &now,
		IsRead:      true,
		IsProcessed: true,
	}
	if err := db.Create(&msg).Error; err != nil {
		// the message went out; only the local copy is missing
		log.Printf("messages: save sent %s: %v", msgKey, err)
	}
	RespondSuccess(c, gin.H{"message": msg})
}
