package controllers

import (
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	dbpkg "bilireply/db"
	"bilireply/models"
	"bilireply/tools"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
)

// loadProxyConfig returns the single config row with its ranges, creating a
// disabled one when the table is empty.
func loadProxyConfig(db *gorm.DB) (models.ProxyConfig, error) {
	var pc models.ProxyConfig
	err := db.Preload("TimeRanges", func(db *gorm.DB) *gorm.DB {
		return db.Order("id asc")
	}).Order("id asc").First(&pc).Error
	if gorm.IsRecordNotFoundError(err) {
		pc = models.ProxyConfig{}
		if err := db.Create(&pc).Error; err != nil {
			return pc, err
		}
		pc.TimeRanges = []models.ProxyTimeRange{}
		return pc, nil
	}
	if err != nil {
		return pc, err
	}
	if pc.TimeRanges == nil {
		pc.TimeRanges = []models.ProxyTimeRange{}
	}
	return pc, nil
}

// GET /api/proxy-config
func GetProxyConfig(c *gin.Context) {
	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	pc, err := loadProxyConfig(db)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	RespondSuccess(c, gin.H{"proxy_config": pc, "active_now": pc.Active(deps.Now())})
}

type timeRangeRequest struct {
	Name       string `json:"name"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	DaysOfWeek string `json:"days_of_week"`
}

type proxyConfigRequest struct {
	Enabled          *bool               `json:"enabled"`
	Host             *string             `json:"host"`
	Port             *int                `json:"port"`
	RuleScript       *string             `json:"rule_script"`
	EnableTimeRanges *bool               `json:"enable_time_ranges"`
	TimeRanges       *[]timeRangeRequest `json:"time_ranges"`
}

// PUT /api/proxy-config
// Fields are optional. When time_ranges is sent the stored ranges are replaced
// as a whole, in the same transaction.
func UpdateProxyConfig(c *gin.Context) {
	var req proxyConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	var ranges []models.ProxyTimeRange
	if req.TimeRanges != nil {
		for i, r := range *req.TimeRanges {
			tr := models.ProxyTimeRange{
				Name:       strings.TrimSpace(r.Name),
				StartTime:  strings.TrimSpace(r.StartTime),
				EndTime:    strings.TrimSpace(r.EndTime),
				DaysOfWeek: strings.TrimSpace(r.DaysOfWeek),
			}
			if err := tr.Validate(); err != nil {
				RespondError(c, "time_ranges["+strconv.Itoa(i)+"]: "+err.Error(), http.StatusBadRequest)
				return
			}
			ranges = append(ranges, tr)
		}
	}
	if req.Port != nil && (*req.Port < 0 || *req.Port > 65535) {
		RespondError(c, "port inválido", http.StatusBadRequest)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	pc, err := loadProxyConfig(db)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	if req.Enabled != nil {
		pc.Enabled = *req.Enabled
	}
	if req.Host != nil {
		pc.Host = strings.TrimSpace(*req.Host)
	}
	if req.Port != nil {
		pc.Port = *req.Port
	}
	if req.RuleScript != nil {
		pc.RuleScript = *req.RuleScript
	}
	if req.EnableTimeRanges != nil {
		pc.EnableTimeRanges = *req.EnableTimeRanges
	}
	if pc.Enabled && pc.Address() == "" {
		RespondError(c, "host e port são obrigatórios com o proxy ativo", http.StatusBadRequest)
		return
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ProxyConfig{}).Where("id = ?", pc.ID).Updates(map[string]any{
			"enabled":            pc.Enabled,
			"host":               pc.Host,
			"port":               pc.Port,
			"rule_script":        pc.RuleScript,
			"enable_time_ranges": pc.EnableTimeRanges,
		}).Error; err != nil {
			return err
		}
		if req.TimeRanges == nil {
			return nil
		}
		if err := tx.Where("proxy_config_id = ?", pc.ID).Delete(&models.ProxyTimeRange{}).Error; err != nil {
			return err
		}
		for i := range ranges {
			ranges[i].ProxyConfigID = pc.ID
			if err := tx.Create(&ranges[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	pc, err = loadProxyConfig(db)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	RespondSuccess(c, gin.H{"proxy_config": pc, "active_now": pc.Active(deps.Now())})
}

type proxyTestRequest struct {
	URL  string `json:"url"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// POST /api/proxy-config/test
// Shows how url would be routed now. host/port in the body override the stored
// ones; an override is always treated as active.
func TestProxyConfig(c *gin.Context) {
	var req proxyTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	target, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || target.Scheme == "" || target.Host == "" {
		RespondError(c, "url inválida", http.StatusBadRequest)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db não configurado no contexto", http.StatusInternalServerError)
		return
	}

	pc, err := loadProxyConfig(db)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	addr := ""
	if strings.TrimSpace(req.Host) != "" && req.Port > 0 {
		addr = models.ProxyConfig{Enabled: true, Host: req.Host, Port: req.Port}.Address()
	} else if pc.Active(deps.Now()) {
		addr = pc.Address()
	}

	if addr == "" {
		RespondSuccess(c, gin.H{"proxied": false, "url": target.String()})
		return
	}
	RespondSuccess(c, gin.H{
		"proxied":         true,
		"proxy":           addr,
		"url":             target.String(),
		"transformed_url": "http://" + addr + target.RequestURI(),
	})
}

// ProxyResolver reads the stored proxy config, cached for ttl, and answers
// with the address requests at now should use.
func ProxyResolver(db *gorm.DB, ttl time.Duration) tools.ProxyResolver {
	var (
		mu      sync.Mutex
		cached  models.ProxyConfig
		expires time.Time
	)
	return func(now time.Time) string {
		mu.Lock()
		defer mu.Unlock()
		if time.Now().After(expires) {
			var pc models.ProxyConfig
			err := db.Preload("TimeRanges").Order("id asc").First(&pc).Error
			switch {
			case err == nil:
				cached = pc
			case gorm.IsRecordNotFoundError(err):
				cached = models.ProxyConfig{}
			default:
				log.Printf("proxy: load config: %v", err)
			}
			expires = time.Now().Add(ttl)
		}
		if cached.Active(now) {
			return cached.Address()
		}
		return ""
	}
}
