package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Partial index syntax is shared by Postgres and SQLite.
func addScheduledSendsDueIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_scheduled_sends_due_index",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_scheduled_sends_due ON scheduled_sends (due_at) WHERE status = 'pending'`,
				`CREATE INDEX IF NOT EXISTS idx_sent_mails_status_sent_at ON sent_mails (status, sent_at)`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`DROP INDEX IF EXISTS idx_sent_mails_status_sent_at`,
				`DROP INDEX IF EXISTS idx_scheduled_sends_due`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
