package remote

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type conversationModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Title     string `gorm:"size:512"`
	CreatedAt time.Time
	Messages  []messageModel `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

func (conversationModel) TableName() string { return "conversations" }

type messageModel struct {
	// Seq keeps insertion order independent of client clocks.
	Seq            uint   `gorm:"primaryKey;autoIncrement"`
	ID             string `gorm:"uniqueIndex;size:64"`
	ConversationID string `gorm:"index;size:64"`
	Role           string `gorm:"size:16"`
	Content        string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (messageModel) TableName() string { return "messages" }

func (m conversationModel) toChat() chat.Conversation {
	c := chat.Conversation{
		ID:        m.ID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt.UTC(),
		Messages:  make([]chat.Message, 0, len(m.Messages)),
	}
	for _, msg := range m.Messages {
		c.Messages = append(c.Messages, chat.Message{
			ID:        msg.ID,
			Role:      chat.Role(msg.Role),
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt.UTC(),
		})
	}
	return c
}

// GormBackend stores conversations in a SQL database.
type GormBackend struct {
	db *gorm.DB
}

type GormSettings struct {
	Driver          string        `mapstructure:"driver"` // sqlite or mysql
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max-idle-conns"`
	MaxOpenConns    int           `mapstructure:"max-open-conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn-max-lifetime"`
}

// OpenGorm connects, tunes the connection pool and migrates the schema.
func OpenGorm(s GormSettings) (*GormBackend, error) {
	var dialector gorm.Dialector
	switch s.Driver {
	case "sqlite", "":
		if s.DSN == "" {
			return nil, errors.Wrap(ErrInvalidInput, "sqlite dsn is required")
		}
		dialector = sqlite.Open(s.DSN)
	case "mysql":
		dialector = mysql.Open(s.DSN)
	default:
		return nil, errors.Wrapf(ErrInvalidInput, "unsupported gorm driver %q", s.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s database", s.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "getting sql.DB")
	}
	if s.Driver == "mysql" {
		sqlDB.SetMaxIdleConns(orDefault(s.MaxIdleConns, 10))
		sqlDB.SetMaxOpenConns(orDefault(s.MaxOpenConns, 100))
		if s.ConnMaxLifetime <= 0 {
			s.ConnMaxLifetime = time.Hour
		}
		sqlDB.SetConnMaxLifetime(s.ConnMaxLifetime)
	} else {
		// single writer for sqlite
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, errors.Wrap(err, "enabling foreign keys")
		}
	}

	return NewGormBackend(db)
}

// NewGormBackend wraps an existing connection and migrates the schema.
func NewGormBackend(db *gorm.DB) (*GormBackend, error) {
	if err := db.AutoMigrate(&conversationModel{}, &messageModel{}); err != nil {
		return nil, errors.Wrap(err, "migrating schema")
	}
	return &GormBackend{db: db}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (g *GormBackend) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var models []conversationModel
	err := g.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "listing conversations")
	}
	ret := make([]chat.Conversation, 0, len(models))
	for _, m := range models {
		ret = append(ret, m.toChat())
	}
	return ret, nil
}

func (g *GormBackend) CreateConversation(ctx context.Context, title string) (string, error) {
	m := conversationModel{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.db.WithContext(ctx).Create(&m).Error; err != nil {
		return "", errors.Wrap(err, "creating conversation")
	}
	log.Debug().Str("conversation_id", m.ID).Msg("Created conversation")
	return m.ID, nil
}

func (g *GormBackend) UpdateConversationTitle(ctx context.Context, id, title string) error {
	res := g.db.WithContext(ctx).Model(&conversationModel{}).Where("id = ?", id).Update("title", title)
	if res.Error != nil {
		return errors.Wrap(res.Error, "updating conversation title")
	}
	if res.RowsAffected == 0 {
		// mysql reports zero rows when the title is unchanged
		exists, err := g.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return errors.Wrapf(ErrNotFound, "conversation %s", id)
		}
	}
	return nil
}

func (g *GormBackend) DeleteConversation(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&messageModel{}).Error; err != nil {
			return errors.Wrap(err, "deleting messages")
		}
		res := tx.Where("id = ?", id).Delete(&conversationModel{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "deleting conversation")
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(ErrNotFound, "conversation %s", id)
		}
		return nil
	})
}

func (g *GormBackend) AppendMessage(ctx context.Context, conversationID string, message chat.Message) error {
	if err := validateMessage(message); err != nil {
		return err
	}
	exists, err := g.exists(ctx, conversationID)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(ErrNotFound, "conversation %s", conversationID)
	}
	createdAt := message.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	m := messageModel{
		ID:             message.ID,
		ConversationID: conversationID,
		Role:           string(message.Role),
		Content:        message.Content,
		CreatedAt:      createdAt,
	}
	// a retried append of the same message id is a no-op
	err = g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
	if err != nil {
		return errors.Wrap(err, "appending message")
	}
	return nil
}

func (g *GormBackend) exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := g.db.WithContext(ctx).Model(&conversationModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "looking up conversation")
	}
	return count > 0, nil
}

func (g *GormBackend) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Backend = &GormBackend{}
