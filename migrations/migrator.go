package migrations

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-gormigrate/gormigrate/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tableName = "schema_migrations"

// Status describes one known migration.
type Status struct {
	ID      string
	Applied bool
}

// Migrator applies and rolls back migrations, recording progress in schema_migrations.
// Every step runs in its own transaction.
type Migrator struct {
	db         *gorm.DB
	log        *zap.Logger
	migrations []*gormigrate.Migration
}

// New returns a Migrator over the given migrations, or All() when none are passed.
func New(db *gorm.DB, log *zap.Logger, migrations ...*gormigrate.Migration) *Migrator {
	if len(migrations) == 0 {
		migrations = All()
	}
	sorted := append([]*gormigrate.Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Migrator{db: db, log: log, migrations: sorted}
}

func (m *Migrator) runner(db *gorm.DB) *gormigrate.Gormigrate {
	return gormigrate.New(db, &gormigrate.Options{
		TableName:                 tableName,
		IDColumnName:              "id",
		IDColumnSize:              191,
		UseTransaction:            true,
		ValidateUnknownMigrations: true,
	}, m.migrations)
}

func (m *Migrator) applied(db *gorm.DB) (map[string]bool, error) {
	done := map[string]bool{}
	if !db.Migrator().HasTable(tableName) {
		return done, nil
	}
	var ids []string
	if err := db.Table(tableName).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		done[id] = true
	}
	return done, nil
}

// Up applies every pending migration in order and returns the ids it applied.
// A failing step is rolled back and stops the run; earlier steps stay applied.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	db := m.db.WithContext(ctx)
	done, err := m.applied(db)
	if err != nil {
		return nil, err
	}
	var ran []string
	for _, mig := range m.migrations {
		if done[mig.ID] {
			continue
		}
		if err := m.runner(db).MigrateTo(mig.ID); err != nil {
			return ran, fmt.Errorf("migration %s up: %w", mig.ID, err)
		}
		m.log.Info("migration applied", zap.String("id", mig.ID))
		ran = append(ran, mig.ID)
	}
	return ran, nil
}

// Down rolls back the most recent steps applied migrations and returns their ids.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	if steps <= 0 {
		steps = 1
	}
	db := m.db.WithContext(ctx)
	done, err := m.applied(db)
	if err != nil {
		return nil, err
	}
	var reverted []string
	for i := len(m.migrations) - 1; i >= 0 && len(reverted) < steps; i-- {
		id := m.migrations[i].ID
		if !done[id] {
			continue
		}
		if err := m.runner(db).RollbackMigration(m.migrations[i]); err != nil {
			return reverted, fmt.Errorf("migration %s down: %w", id, err)
		}
		m.log.Info("migration reverted", zap.String("id", id))
		reverted = append(reverted, id)
	}
	return reverted, nil
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	done, err := m.applied(m.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(m.migrations))
	for _, mig := range m.migrations {
		out = append(out, Status{ID: mig.ID, Applied: done[mig.ID]})
	}
	return out, nil
}
