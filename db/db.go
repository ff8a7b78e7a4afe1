package db

import (
	"log"
	"os"
	"path/filepath"

	"bilireply/config"
	"bilireply/models"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

var conf config.Configuration

func SetConfigurations(configuration config.Configuration) {
	conf = configuration
}

// Connect opens the configured database (sqlite3 by default) and, when
// automigrate is on, creates/updates the tables.
func Connect() (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	if conf.Database == "postgres" || conf.Database == "postgresql" {
		log.Println("db: using postgresql")
		path := "host=" + conf.DbHost + " port=" + conf.DbPort
		path += " user=" + conf.DbUser + " dbname=" + conf.DbName
		path += " password=" + conf.DbPass + " sslmode=disable"
		db, err = gorm.Open("postgres", path)
	} else {
		file := conf.DbPath
		if file == "" {
			file = "db/database.db"
		}
		log.Printf("db: using sqlite3 (%s)", file)
		if dir := filepath.Dir(file); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		db, err = gorm.Open("sqlite3", file)
	}
	if err != nil {
		log.Println("db: connect error: " + err.Error())
		return nil, err
	}

	db.LogMode(conf.Debug)

	if conf.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// OpenMemory is an in-memory sqlite database with every table migrated.
func OpenMemory() (*gorm.DB, error) {
	db, err := gorm.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	// :memory: is per connection
	db.DB().SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// legacyMessageIndex made message_id unique across accounts.
const legacyMessageIndex = "uix_messages_message_id"

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Rule{},
		&models.Message{},
		&models.ProxyConfig{},
		&models.ProxyTimeRange{},
		&models.AutoReplySetting{},
		&models.PassRun{},
		&models.PassLock{},
	).Error
	if err != nil {
		return err
	}
	if db.Dialect().HasIndex("messages", legacyMessageIndex) {
		return db.Model(&models.Message{}).RemoveIndex(legacyMessageIndex).Error
	}
	return nil
}
