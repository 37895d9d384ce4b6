package resultstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gorm.io/gorm"
)

// Row is one flattened result with its group and table context repeated
// per row.
type Row struct {
	Score    float64 `yaml:"score"`
	Time     float64 `yaml:"time"`
	Samples  float64 `yaml:"samples"`
	ID       string  `yaml:"id"`
	Channels int     `yaml:"channels"`
	Sessions int     `yaml:"n_sessions"`
	Dataset  string  `yaml:"dataset"`
	Pipeline string  `yaml:"pipeline"`
}

// csvHeader is the column order used by WriteCSV.
var csvHeader = []string{
	"score", "time", "samples", "id",
	"channels", "n_sessions", "dataset", "pipeline",
}

// Summary describes a store for inspection.
type Summary struct {
	Path       string `yaml:"path"`
	CreateTime string `yaml:"create_time"`
	Pipelines  int64  `yaml:"pipelines"`
	Datasets   int64  `yaml:"datasets"`
	Rows       int64  `yaml:"rows"`
}

// ToTable flattens the entire store into one row per recorded result,
// walking groups and tables in insertion order. An empty store fails
// with ErrEmptyStore.
func (s *store) ToTable(ctx context.Context) ([]Row, error) {
	var rows []Row

	err := s.withDB(ctx, func(db *gorm.DB) error {
		var groups []PipelineGroup
		if err := db.Order("id ASC").Find(&groups).Error; err != nil {
			return fmt.Errorf("listing pipeline groups: %w", err)
		}

		for _, group := range groups {
			var tables []DatasetTable
			if err := db.Where("pipeline_group_id = ?", group.ID).
				Order("id ASC").
				Find(&tables).Error; err != nil {
				return fmt.Errorf("listing dataset tables: %w", err)
			}

			for _, table := range tables {
				var results []ResultRow
				if err := db.Where("dataset_table_id = ?", table.ID).
					Order("id ASC").
					Find(&results).Error; err != nil {
					return fmt.Errorf("listing result rows: %w", err)
				}

				for _, r := range results {
					rows = append(rows, Row{
						Score:    r.Score,
						Time:     r.Time,
						Samples:  r.Samples,
						ID:       r.SubjectID,
						Channels: table.Channels,
						Sessions: table.NSessions,
						Dataset:  table.Code,
						Pipeline: group.Name,
					})
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, ErrEmptyStore
	}

	return rows, nil
}

// Info returns the container metadata and entity counts.
func (s *store) Info(ctx context.Context) (*Summary, error) {
	summary := &Summary{Path: s.Path()}

	err := s.withDB(ctx, func(db *gorm.DB) error {
		var info StoreInfo

		err := db.First(&info).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("reading store info: %w", err)
		}

		summary.CreateTime = info.CreateTime

		if err := db.Model(&PipelineGroup{}).
			Count(&summary.Pipelines).Error; err != nil {
			return fmt.Errorf("counting pipeline groups: %w", err)
		}

		if err := db.Model(&DatasetTable{}).
			Count(&summary.Datasets).Error; err != nil {
			return fmt.Errorf("counting dataset tables: %w", err)
		}

		if err := db.Model(&ResultRow{}).
			Count(&summary.Rows).Error; err != nil {
			return fmt.Errorf("counting result rows: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return summary, nil
}

// WriteCSV writes flattened rows to w with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			strconv.FormatFloat(r.Score, 'g', -1, 64),
			strconv.FormatFloat(r.Time, 'g', -1, 64),
			strconv.FormatFloat(r.Samples, 'g', -1, 64),
			r.ID,
			strconv.Itoa(r.Channels),
			strconv.Itoa(r.Sessions),
			r.Dataset,
			r.Pipeline,
		}

		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()

	return cw.Error()
}
