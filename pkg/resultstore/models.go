package resultstore

// StoreInfo is the container-level metadata row. Exactly one exists per
// store, created the first time the store is initialized.
type StoreInfo struct {
	ID         uint   `gorm:"primaryKey"`
	CreateTime string `gorm:"not null"`
}

// PipelineGroup is the top level of the store hierarchy, keyed by the
// pipeline's content digest. Name and Repr are rewritten on every append
// for the digest, so the most recent writer wins.
type PipelineGroup struct {
	ID     uint   `gorm:"primaryKey"`
	Digest string `gorm:"not null;uniqueIndex"`
	Name   string `gorm:"not null"`
	Repr   string `gorm:"type:text"`
}

// DatasetTable is the second level of the hierarchy, keyed by
// (pipeline group, dataset code). Its metadata is stamped once at
// creation and never revisited on later appends.
type DatasetTable struct {
	ID              uint   `gorm:"primaryKey"`
	PipelineGroupID uint   `gorm:"not null;uniqueIndex:idx_dataset_tables_group_code"`
	Code            string `gorm:"not null;uniqueIndex:idx_dataset_tables_group_code"`
	NSubjects       int
	NSessions       int
	Channels        int

	// Columns is the JSON-encoded list of data column names.
	Columns string `gorm:"not null"`
}

// ResultRow is one appended result. The autoincrement primary key
// preserves append order; rows are never updated or deleted. Holding the
// subject id and the scalar outcomes in one row keeps the id and data
// sequences in lockstep by construction.
type ResultRow struct {
	ID             uint   `gorm:"primaryKey"`
	DatasetTableID uint   `gorm:"not null;index"`
	SubjectID      string `gorm:"not null;index"`
	Score          float64
	Time           float64
	Samples        float64
}
