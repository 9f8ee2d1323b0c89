package cmd

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/groundgame/textrelay/internal/config"
	"github.com/groundgame/textrelay/internal/db"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo organization...")

		if err := seedDemo(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

// seedDemo inserts a deterministic demo organization wired to the noop
// carrier, so the full send/receive path works with zero credentials.
// Fixed ids keep it idempotent.
func seedDemo(dbx *sqlx.DB) error {
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct {
		q    string
		args []any
	}{
		{
			q: `INSERT INTO organizations
			        (id, name, timezone, enforce_texting_hours, texting_hours_start, texting_hours_end, monthly_message_limit)
			    VALUES (?, ?, ?, ?, ?, ?, ?)
			    ON DUPLICATE KEY UPDATE name = VALUES(name), updated_at = NOW()`,
			args: []any{1, "Demo Organization", "America/New_York", 1, 9, 21, 10000},
		},
		{
			q: `INSERT INTO users (id, email, name) VALUES (?, ?, ?)
			    ON DUPLICATE KEY UPDATE name = VALUES(name), updated_at = NOW()`,
			args: []any{1, "texter@example.com", "Demo Texter"},
		},
		{
			q: `INSERT INTO users (id, email, name) VALUES (?, ?, ?)
			    ON DUPLICATE KEY UPDATE name = VALUES(name), updated_at = NOW()`,
			args: []any{2, "admin@example.com", "Demo Admin"},
		},
		{
			q: `INSERT INTO user_organizations (id, user_id, organization_id, role) VALUES (?, ?, ?, ?)
			    ON DUPLICATE KEY UPDATE role = VALUES(role)`,
			args: []any{1, 1, 1, "texter"},
		},
		{
			q: `INSERT INTO user_organizations (id, user_id, organization_id, role) VALUES (?, ?, ?, ?)
			    ON DUPLICATE KEY UPDATE role = VALUES(role)`,
			args: []any{2, 2, 1, "owner"},
		},
		{
			q: `INSERT INTO campaigns (id, organization_id, title, is_archived) VALUES (?, ?, ?, 0)
			    ON DUPLICATE KEY UPDATE title = VALUES(title), updated_at = NOW()`,
			args: []any{1, 1, "Demo Outreach"},
		},
		{
			q: `INSERT INTO campaign_contacts (id, campaign_id, cell, first_name, message_status)
			    VALUES (?, ?, ?, ?, ?)
			    ON DUPLICATE KEY UPDATE first_name = VALUES(first_name), updated_at = NOW()`,
			args: []any{1, 1, "+15555550100", "Alice", "needsMessage"},
		},
		{
			q: `INSERT INTO campaign_contacts (id, campaign_id, cell, first_name, message_status)
			    VALUES (?, ?, ?, ?, ?)
			    ON DUPLICATE KEY UPDATE first_name = VALUES(first_name), updated_at = NOW()`,
			args: []any{2, 1, "+15555550101", "Bob", "needsMessage"},
		},
		{
			q: `INSERT INTO messaging_services
			        (id, organization_id, service_type, account_sid, auth_token, user_number, is_default)
			    VALUES (?, ?, 'noop', '', '', ?, 1)
			    ON DUPLICATE KEY UPDATE user_number = VALUES(user_number), updated_at = NOW()`,
			args: []any{1, 1, "+15555559999"},
		},
		{
			q: `INSERT INTO link_domains (id, organization_id, domain, max_usage_count)
			    VALUES (?, ?, ?, ?)
			    ON DUPLICATE KEY UPDATE max_usage_count = VALUES(max_usage_count), updated_at = NOW()`,
			args: []any{1, 1, "lnk1.example.com", 100},
		},
		{
			q: `INSERT INTO link_domains (id, organization_id, domain, max_usage_count)
			    VALUES (?, ?, ?, ?)
			    ON DUPLICATE KEY UPDATE max_usage_count = VALUES(max_usage_count), updated_at = NOW()`,
			args: []any{2, 1, "lnk2.example.com", 100},
		},
	}

	for _, s := range stmts {
		if _, err := tx.Exec(s.q, s.args...); err != nil {
			return fmt.Errorf("seed insert: %w", err)
		}
	}
	return tx.Commit()
}
