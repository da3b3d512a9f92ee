package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Thread{},
	&RawMarker{},
	&DerivedMarker{},
}

// Thread is one stored thread of a profile. Times are milliseconds on the
// profile time base.
type Thread struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	CreatedAt time.Time `json:"createdAt" gorm:"type:timestamptz;"`

	Profile            string  `json:"profile" gorm:"size:255;index:idx_thread_profile"` // name of the source profile
	ThreadIndex        int     `json:"threadIndex"`                                      // position in the profile thread list
	Name               string  `json:"name" gorm:"size:128"`
	ProcessType        string  `json:"processType" gorm:"size:32"`
	ProcessName        string  `json:"processName" gorm:"size:128"`
	Pid                int     `json:"pid" gorm:"index:idx_thread_pid"`
	Tid                int     `json:"tid"`
	ProcessStartupTime float64 `json:"processStartupTime"`
	CaptureStart       float64 `json:"captureStart"`
	CaptureEnd         float64 `json:"captureEnd"`
}

func (*Thread) TableName() string {
	return "threads"
}

// RawMarker is one row of a thread's raw marker table.
type RawMarker struct {
	ID       uint   `json:"id" gorm:"primarykey;autoIncrement;"`
	ThreadID uint   `json:"threadId" gorm:"index:idx_rawmarker_thread_id"`
	Thread   Thread `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:ThreadID;"`
	Row      uint32 `json:"row" gorm:"column:row_index;index:idx_rawmarker_row"` // position in the raw table

	Name        string          `json:"name" gorm:"size:256;index:idx_rawmarker_name"`
	StartTime   sql.NullFloat64 `json:"startTime"`
	EndTime     sql.NullFloat64 `json:"endTime"`
	Phase       uint8           `json:"phase"` // 0 Instant, 1 Interval, 2 IntervalStart, 3 IntervalEnd
	Category    int             `json:"category"`
	PayloadType string          `json:"payloadType" gorm:"size:64;index:idx_rawmarker_payload_type"`
	Payload     datatypes.JSON  `json:"payload"`
}

func (*RawMarker) TableName() string {
	return "raw_markers"
}

// DerivedMarker is one display marker produced from a thread's raw table.
type DerivedMarker struct {
	ID       uint   `json:"id" gorm:"primarykey;autoIncrement;"`
	ThreadID uint   `json:"threadId" gorm:"index:idx_derivedmarker_thread_id"`
	Thread   Thread `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:ThreadID;"`

	Name        string         `json:"name" gorm:"size:256;index:idx_derivedmarker_name"`
	Start       float64        `json:"start" gorm:"column:start_time;index:idx_derivedmarker_start"`
	Duration    float64        `json:"duration"`
	Category    int            `json:"category"`
	Title       string         `json:"title" gorm:"size:512"`
	Incomplete  bool           `json:"incomplete" gorm:"default:false"`
	PayloadType string         `json:"payloadType" gorm:"size:64"`
	Payload     datatypes.JSON `json:"payload"`
	RawIndexes  datatypes.JSON `json:"rawIndexes"` // rows of the raw table this marker came from
}

func (*DerivedMarker) TableName() string {
	return "derived_markers"
}
