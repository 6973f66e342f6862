package model

import (
	"time"

	"gorm.io/gorm"
)

// Shop 店铺，读多写少的热点实体，走缓存旁路读取
type Shop struct {
	ID        int64          `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name     string  `gorm:"size:128;not null" json:"name"`
	TypeID   int64   `gorm:"not null;index" json:"type_id"`
	Area     string  `gorm:"size:128" json:"area"`
	Address  string  `gorm:"size:255" json:"address"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	AvgPrice int64   `json:"avg_price"` // 单位：分
	Score    int     `json:"score"`     // 1~50，展示时除以 10
}

func (Shop) TableName() string { return "shops" }
