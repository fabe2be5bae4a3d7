package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/investor-mailer/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_mailer_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&repository.ContactModel{},
					&repository.ScheduledSendModel{},
					&repository.SentMailModel{},
					&repository.SuppressionModel{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					&repository.SuppressionModel{},
					&repository.SentMailModel{},
					&repository.ScheduledSendModel{},
					&repository.ContactModel{},
				)
			},
		},
		addScheduledSendsDueIndex(),
	})

	return m.Migrate()
}
