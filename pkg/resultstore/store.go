// Package resultstore persists scalar evaluation outcomes per
// (pipeline, dataset, subject) combination and answers whether a
// combination has already been evaluated, so callers can skip redundant
// work. One store maps to one (paradigm, evaluation, suffix) container.
package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/ethpandaops/evaloor/pkg/config"
	"github.com/ethpandaops/evaloor/pkg/digest"
	"github.com/ethpandaops/evaloor/pkg/fsutil"
)

// createTimeLayout is the human-readable creation timestamp format.
const createTimeLayout = "2006-01-02, 15:04"

// tableColumns are the fixed data column names stamped on every dataset
// table.
var tableColumns = []string{"score", "time", "samples"}

// StoreID identifies one result container.
type StoreID struct {
	Evaluation string
	Paradigm   string
	Suffix     string
}

// Store records evaluation outcomes and answers dedup queries. Every
// operation opens the underlying database for its duration and closes it
// on all exit paths; no handle is held across calls.
type Store interface {
	// Init creates the store if absent, wipes it first when the store was
	// constructed with overwrite, and stamps the creation time. It must be
	// called before any other operation.
	Init(ctx context.Context) error

	// Path returns the resolved container location (file path for sqlite,
	// table prefix for postgres).
	Path() string

	// Add appends result payloads keyed by pipeline name. A payload is a
	// Record or a []Record; anything else fails with ErrInvalidResults.
	Add(ctx context.Context, results map[string]any, pipelines map[string]Pipeline) error

	// AlreadyComputed reports whether a result for the
	// (pipeline, dataset, subject) combination has been recorded.
	AlreadyComputed(ctx context.Context, pipeline Pipeline, dataset Dataset, subject string) (bool, error)

	// NotYetComputed filters pipelines down to those with no recorded
	// result for (dataset, subject).
	NotYetComputed(ctx context.Context, pipelines map[string]Pipeline, dataset Dataset, subject string) (map[string]Pipeline, error)

	// ToTable flattens the whole store into analysis-ready rows. An empty
	// store fails with ErrEmptyStore.
	ToTable(ctx context.Context) ([]Row, error)

	// Info returns container metadata and row counts.
	Info(ctx context.Context) (*Summary, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log       logrus.FieldLogger
	cfg       *config.Config
	id        StoreID
	overwrite bool

	// path is the sqlite database file for the container; prefix is the
	// postgres table prefix isolating the container's tables.
	path   string
	prefix string
}

// New creates a Store for the given container identity. Nothing touches
// the filesystem or database until Init.
func New(log logrus.FieldLogger, cfg *config.Config, id StoreID, overwrite bool) Store {
	return &store{
		log:       log.WithField("component", "resultstore"),
		cfg:       cfg,
		id:        id,
		overwrite: overwrite,
		path:      storePath(cfg.Results.Dir, id),
		prefix:    tablePrefix(id),
	}
}

// storePath resolves the deterministic sqlite file location:
// <base>/<Paradigm>/<Evaluation>/results[_suffix].db.
func storePath(baseDir string, id StoreID) string {
	name := "results.db"
	if id.Suffix != "" {
		name = "results_" + id.Suffix + ".db"
	}

	return filepath.Join(baseDir, id.Paradigm, id.Evaluation, name)
}

// tablePrefix derives the postgres table prefix for a container from the
// same identity triple that names the sqlite file.
func tablePrefix(id StoreID) string {
	parts := []string{"results", id.Paradigm, id.Evaluation}
	if id.Suffix != "" {
		parts = append(parts, id.Suffix)
	}

	return sanitizeIdent(strings.Join(parts, "_")) + "_"
}

// sanitizeIdent lowercases s and replaces anything outside [a-z0-9_] so
// the result is usable as a SQL identifier fragment.
func sanitizeIdent(s string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return b.String()
}

func (s *store) Path() string {
	if s.cfg.Database.Driver == "postgres" {
		return s.prefix
	}

	return s.path
}

// open establishes the database connection for one operation.
func (s *store) open(ctx context.Context) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	var dialector gorm.Dialector

	switch s.cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.path)
	case "postgres":
		pg := s.cfg.Database.Postgres
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			pg.Host,
			pg.Port,
			pg.User,
			pg.Password,
			pg.Database,
			pg.SSLMode,
		)
		dialector = postgres.Open(dsn)
		gormCfg.NamingStrategy = schema.NamingStrategy{
			TablePrefix: s.prefix,
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", s.cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("opening result store: %w", err)
	}

	return db.WithContext(ctx), nil
}

// close releases the connection opened for one operation.
func (s *store) close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		s.log.WithError(err).Warn("Getting underlying db for close")

		return
	}

	if err := sqlDB.Close(); err != nil {
		s.log.WithError(err).Warn("Closing result store")
	}
}

// withDB runs fn with a freshly opened connection that is closed on every
// exit path.
func (s *store) withDB(ctx context.Context, fn func(db *gorm.DB) error) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(db)

	return fn(db)
}

// Init creates or opens the container. With overwrite set, any existing
// container at the resolved location is deleted first.
func (s *store) Init(ctx context.Context) error {
	if s.cfg.Database.Driver == "sqlite" {
		if err := fsutil.EnsureDir(filepath.Dir(s.path)); err != nil {
			return fmt.Errorf("creating results directory: %w", err)
		}

		if s.overwrite {
			if err := fsutil.RemoveIfExists(s.path); err != nil {
				return fmt.Errorf("overwriting existing store: %w", err)
			}
		}
	}

	return s.withDB(ctx, func(db *gorm.DB) error {
		if s.overwrite && s.cfg.Database.Driver == "postgres" {
			if err := db.Migrator().DropTable(
				&ResultRow{},
				&DatasetTable{},
				&PipelineGroup{},
				&StoreInfo{},
			); err != nil {
				return fmt.Errorf("overwriting existing store: %w", err)
			}
		}

		if err := db.AutoMigrate(
			&StoreInfo{},
			&PipelineGroup{},
			&DatasetTable{},
			&ResultRow{},
		); err != nil {
			return fmt.Errorf("running store migrations: %w", err)
		}

		var info StoreInfo

		err := db.First(&info).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			info = StoreInfo{
				CreateTime: time.Now().Format(createTimeLayout),
			}
			if err := db.Create(&info).Error; err != nil {
				return fmt.Errorf("stamping creation time: %w", err)
			}

			s.log.WithField("path", s.Path()).Info("Created result store")
		case err != nil:
			return fmt.Errorf("reading store info: %w", err)
		default:
			s.log.WithFields(logrus.Fields{
				"path":        s.Path(),
				"create_time": info.CreateTime,
			}).Debug("Opened existing result store")
		}

		s.checkIntegrity(db)

		return nil
	})
}

// checkIntegrity warns about rows whose dataset table is missing. Such
// rows can only come from outside interference or a crash mid-append;
// they are reported, not repaired.
func (s *store) checkIntegrity(db *gorm.DB) {
	var orphans int64
	if err := db.Model(&ResultRow{}).
		Where("dataset_table_id NOT IN (?)",
			db.Model(&DatasetTable{}).Select("id")).
		Count(&orphans).Error; err != nil {
		s.log.WithError(err).Warn("Checking store integrity")

		return
	}

	if orphans > 0 {
		s.log.WithField("rows", orphans).
			Warn("Store contains result rows without a dataset table")
	}
}

// Add appends one payload of results per pipeline name. Groups and tables
// are created on demand; group name and repr are rewritten so the most
// recent pipeline object wins for a digest. All records of a payload are
// appended, in order, to the table of the first record's dataset.
func (s *store) Add(ctx context.Context, results map[string]any, pipelines map[string]Pipeline) error {
	return s.withDB(ctx, func(db *gorm.DB) error {
		for name, payload := range results {
			pipeline, ok := pipelines[name]
			if !ok {
				return fmt.Errorf("no pipeline supplied for %q", name)
			}

			if err := s.addPipelineResults(db, name, pipeline, payload); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *store) addPipelineResults(db *gorm.DB, name string, pipeline Pipeline, payload any) error {
	repr, err := pipeline.Repr()
	if err != nil {
		return fmt.Errorf("getting representation of pipeline %q: %w", name, err)
	}

	records, err := normalizeResults(payload)
	if err != nil {
		return fmt.Errorf("normalizing results for pipeline %q: %w", name, err)
	}

	group, err := upsertGroup(db, name, repr)
	if err != nil {
		return fmt.Errorf("upserting group for pipeline %q: %w", name, err)
	}

	first := records[0]
	if first.Dataset == nil {
		return fmt.Errorf("%w: record for pipeline %q has no dataset", ErrInvalidResults, name)
	}

	table, err := ensureDatasetTable(db, group.ID, first)
	if err != nil {
		return fmt.Errorf("ensuring dataset table for pipeline %q: %w", name, err)
	}

	rows := make([]ResultRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, ResultRow{
			DatasetTableID: table.ID,
			SubjectID:      r.ID,
			Score:          r.Score,
			Time:           r.Time,
			Samples:        r.Samples,
		})
	}

	if err := db.Create(&rows).Error; err != nil {
		return fmt.Errorf("appending rows for pipeline %q: %w", name, err)
	}

	s.log.WithFields(logrus.Fields{
		"pipeline": name,
		"dataset":  table.Code,
		"rows":     len(rows),
	}).Debug("Appended results")

	return nil
}

// upsertGroup creates the pipeline group for a digest if missing and
// always rewrites its name and repr.
func upsertGroup(db *gorm.DB, name, repr string) (*PipelineGroup, error) {
	dig := digest.Sum(repr)

	group := PipelineGroup{Digest: dig}

	result := db.Where("digest = ?", dig).
		Assign(PipelineGroup{Name: name, Repr: repr}).
		FirstOrCreate(&group)
	if result.Error != nil {
		return nil, result.Error
	}

	return &group, nil
}

// ensureDatasetTable creates the dataset table under a group if missing,
// stamping its metadata from the first record. Existing metadata is never
// revisited: first write wins.
func ensureDatasetTable(db *gorm.DB, groupID uint, first Record) (*DatasetTable, error) {
	columns, err := json.Marshal(tableColumns)
	if err != nil {
		return nil, fmt.Errorf("encoding column names: %w", err)
	}

	table := DatasetTable{
		PipelineGroupID: groupID,
		Code:            first.Dataset.Code(),
	}

	result := db.Where(
		"pipeline_group_id = ? AND code = ?", groupID, first.Dataset.Code(),
	).Attrs(DatasetTable{
		NSubjects: len(first.Dataset.SubjectList()),
		NSessions: first.Dataset.Sessions(),
		Channels:  first.Channels,
		Columns:   string(columns),
	}).FirstOrCreate(&table)
	if result.Error != nil {
		return nil, result.Error
	}

	return &table, nil
}

// AlreadyComputed reports whether a result row exists for the
// (pipeline, dataset, subject) combination. The subject lookup is a plain
// scan over the dataset's rows.
func (s *store) AlreadyComputed(ctx context.Context, pipeline Pipeline, dataset Dataset, subject string) (bool, error) {
	dig, err := PipelineDigest(pipeline)
	if err != nil {
		return false, err
	}

	var computed bool

	err = s.withDB(ctx, func(db *gorm.DB) error {
		var group PipelineGroup

		err := db.Where("digest = ?", dig).First(&group).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		} else if err != nil {
			return fmt.Errorf("looking up pipeline group: %w", err)
		}

		var table DatasetTable

		err = db.Where("pipeline_group_id = ? AND code = ?",
			group.ID, dataset.Code()).First(&table).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		} else if err != nil {
			return fmt.Errorf("looking up dataset table: %w", err)
		}

		var count int64
		if err := db.Model(&ResultRow{}).
			Where("dataset_table_id = ? AND subject_id = ?",
				table.ID, subject).
			Count(&count).Error; err != nil {
			return fmt.Errorf("looking up subject rows: %w", err)
		}

		computed = count > 0

		return nil
	})
	if err != nil {
		return false, err
	}

	return computed, nil
}

// NotYetComputed returns the sub-mapping of pipelines with no recorded
// result for (dataset, subject). Pure filter, no side effects.
func (s *store) NotYetComputed(ctx context.Context, pipelines map[string]Pipeline, dataset Dataset, subject string) (map[string]Pipeline, error) {
	remaining := make(map[string]Pipeline, len(pipelines))

	for name, pipeline := range pipelines {
		computed, err := s.AlreadyComputed(ctx, pipeline, dataset, subject)
		if err != nil {
			return nil, fmt.Errorf("checking pipeline %q: %w", name, err)
		}

		if !computed {
			remaining[name] = pipeline
		}
	}

	return remaining, nil
}
