package controllers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	dbpkg "bilireply/db"
	"bilireply/engine"
	"bilireply/models"
	"bilireply/tools"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
)

// ruleRequest uses pointers so PUT only touches what was sent.
type ruleRequest struct {
	Name             *string `json:"name"`
	Keywords         *string `json:"keywords"`
	ResponseTemplate *string `json:"response_template"`
	Priority         *int    `json:"priority"`
	IsActive         *bool   `json:"is_active"`
	Type             *string `json:"type"`
}

func (req ruleRequest) apply(rule *models.Rule) {
	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Keywords != nil {
		rule.Keywords = strings.TrimSpace(*req.Keywords)
	}
	if req.ResponseTemplate != nil {
		rule.ResponseTemplate = *req.ResponseTemplate
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Type != nil {
		rule.Type = strings.TrimSpace(*req.Type)
	}
}

func validateRule(rule models.Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("name é obrigatório")
	}
	if strings.TrimSpace(rule.ResponseTemplate) == "" {
		return fmt.Errorf("response_template é obrigatório")
	}
	if err := engine.ValidateKeywords(rule.Keywords); err != nil {
		return err
	}
	if !models.IsValidRuleType(rule.Type) {
		return fmt.Errorf("type inválido: %q", rule.Type)
	}
	return nil
}

// GET /api/rules
func GetRules(c *gin.Context) {
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

	var rules []models.Rule
	if err := db.Where("user_id = ?", user.ID).Order("priority desc, id asc").Find(&rules).Error; err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	for i := range rules {
		rules[i] = engine.Normalize(rules[i])
	}
	RespondSuccess(c, gin.H{"rules": rules})
}

// loadOwnedRule answers 404/403 itself.
func loadOwnedRule(c *gin.Context, db *gorm.DB, user models.User) (models.Rule, bool) {
	var rule models.Rule
	id, ok := ParamID(c, "id")
	if !ok {
		return rule, false
	}
	if err := db.First(&rule, id).Error; err != nil {
		RespondError(c, "regra não encontrada", http.StatusNotFound)
		return rule, false
	}
	if rule.UserID != user.ID {
		RespondError(c, "forbidden", http.StatusForbidden)
		return rule, false
	}
	return rule, true
}

// GET /api/rules/:id
func GetRuleByID(c *gin.Context) {
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

	rule, ok := loadOwnedRule(c, db, user)
	if !ok {
		return
	}
	RespondSuccess(c, gin.H{"rule": engine.Normalize(rule)})
}

// POST /api/rules
// Defaults: priority 0, active, type general.
func CreateRule(c *gin.Context) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	rule := models.Rule{UserID: user.ID, IsActive: true, Type: models.RULE_TYPE_GENERAL}
	req.apply(&rule)
	if rule.Type == "" {
		rule.Type = models.RULE_TYPE_GENERAL
	}
	if err := validateRule(rule); err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	if err := db.Create(&rule).Error; err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	RespondSuccess(c, gin.H{"rule": rule})
}

// PUT /api/rules/:id
func UpdateRule(c *gin.Context) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	rule, ok := loadOwnedRule(c, db, user)
	if !ok {
		return
	}
	req.apply(&rule)
	if err := validateRule(rule); err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	// Save writes zero values too (is_active=false, priority=0).
	if err := db.Save(&rule).Error; err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	RespondSuccess(c, gin.H{"rule": engine.Normalize(rule)})
}

// DELETE /api/rules/:id
func DeleteRule(c *gin.Context) {
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

	rule, ok := loadOwnedRule(c, db, user)
	if !ok {
		return
	}
	if err := db.Delete(&models.Rule{}, rule.ID).Error; err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	RespondSuccess(c, true)
}

type testRuleRequest struct {
	Content string `json:"content"`
}

// POST /api/rules/test
// Dry run: nothing is sent or stored.
func TestRules(c *gin.Context) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req testRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		RespondError(c, "content é obrigatório", http.StatusBadRequest)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	var rules []models.Rule
	if err := db.Where("user_id = ?", user.ID).Find(&rules).Error; err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	match := engine.Compile(rules).WithClock(deps.Now).Process(models.Message{Content: req.Content})
	if match == nil {
		RespondSuccess(c, gin.H{"matched": false})
		return
	}
	RespondSuccess(c, gin.H{
		"matched":   true,
		"rule":      match.Rule,
		"reply":     match.Reply,
		"rule_name": match.Rule.Name,
		"rule_type": match.Rule.Type,
	})
}

// GET /api/rules/export
func ExportRules(c *gin.Context) {
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

	var rules []models.Rule
	if err := db.Where("user_id = ?", user.ID).Order("priority desc, id asc").Find(&rules).Error; err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	for i := range rules {
		rules[i] = engine.Normalize(rules[i])
	}

	b, err := tools.RulesToXLSX(rules)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	name := fmt.Sprintf("rules-%s.xlsx", deps.Now().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", b)
}

// POST /api/rules/import (multipart "file")
// ?mode=replace deletes the user's rules first; the default appends.
// Rows that fail validation are skipped and reported.
func ImportRules(c *gin.Context) {
	user, ok := GetUserLogged(c)
	if !ok {
		RespondError(c, "unauthorized", http.StatusUnauthorized)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		RespondError(c, "file é obrigatório", http.StatusBadRequest)
		return
	}
	f, err := fh.Open()
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()

	parsed, rowErrors, err := tools.RulesFromXLSX(f)
	if err != nil {
		RespondError(c, "planilha inválida: "+err.Error(), http.StatusBadRequest)
		return
	}

	var valid []models.Rule
	for _, r := range parsed {
		if err := engine.ValidateKeywords(r.Keywords); err != nil {
			rowErrors = append(rowErrors, tools.RowError{Message: r.Name + ": " + err.Error()})
			continue
		}
		r.UserID = user.ID
		valid = append(valid, r)
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	replace := strings.EqualFold(strings.TrimSpace(c.Query("mode")), "replace")
	err = db.Transaction(func(tx *gorm.DB) error {
		if replace {
			if err := tx.Where("user_id = ?", user.ID).Delete(&models.Rule{}).Error; err != nil {
				return err
			}
		}
		for i := range valid {
			if err := tx.Create(&valid[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	if rowErrors == nil {
		rowErrors = []tools.RowError{}
	}
	RespondSuccess(c, gin.H{
		"imported":    len(valid),
		"replaced":    replace,
		"errors":      rowErrors,
		"imported_at": deps.Now().Format(time.RFC3339),
	})
}
