package db

import (
	"fmt"
	gol "log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	reggol "gorm.io/gorm/logger"
)

type config struct {
	Host string `envconfig:"POSTGRES_HOST"`
	User string `envconfig:"POSTGRES_USER"`
	Pass string `envconfig:"POSTGRES_PASSWORD"`
	Name string `envconfig:"POSTGRES_DB"`
	Port int    `envconfig:"POSTGRES_PORT"`
}

var cfg *config

var pg *gorm.DB

func init() {
	cfg = &config{
		Host: "localhost",
		User: "postgres",
		Name: "cryptopatterns",
		Port: 5432,
	}
	if envs, err := godotenv.Read(".env"); err == nil {
		cfg.merge(envs)
	}
}

// merge overlays the env values onto the config. A missing key keeps the
// coded default.
func (c *config) merge(envs map[string]string) {
	if v := envs["POSTGRES_HOST"]; v != "" {
		c.Host = v
	}
	if v := envs["POSTGRES_USER"]; v != "" {
		c.User = v
	}
	if v := envs["POSTGRES_DB"]; v != "" {
		c.Name = v
	}
	if v := envs["POSTGRES_PASSWORD"]; v != "" {
		c.Pass = v
	}
	if port, err := strconv.Atoi(envs["POSTGRES_PORT"]); err == nil {
		c.Port = port
	}
}

func (c *config) dsn() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable", c.Host, c.User, c.Pass, c.Name, c.Port)
}

func openDB(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger: reggol.New(
			gol.New(os.Stdout, "\r\n", gol.LstdFlags),
			reggol.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  reggol.Silent,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	})
}

// Resolve returns the shared connection, opening it on first use.
func Resolve() *gorm.DB {
	if pg == nil {
		var err error
		if pg, err = openDB(cfg.dsn()); err != nil {
			log.Debug().Err(err).Send()
		}
	}
	return pg
}

func Migrate(v interface{}) {
	tx := Resolve()
	if tx == nil {
		return
	}
	if err := tx.AutoMigrate(v); err != nil {
		log.Debug().Err(err).Send()
	}
}
