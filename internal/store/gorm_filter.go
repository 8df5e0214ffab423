package store

import (
	"fmt"

	"gorm.io/gorm"
)

// apply translates a Filter into chained gorm.DB clauses.
func apply(db *gorm.DB, f *Filter) *gorm.DB {
	if f == nil {
		return db
	}
	for _, c := range f.Conditions {
		db = applyCondition(db, c)
	}
	if f.OrderBy != "" {
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		db = db.Order(fmt.Sprintf("%s %s", f.OrderBy, dir))
	}
	if f.Limit > 0 {
		db = db.Limit(f.Limit)
	}
	if f.Offset > 0 {
		db = db.Offset(f.Offset)
	}
	return db
}

func applyCondition(db *gorm.DB, c Condition) *gorm.DB {
	switch c.Op {
	case OpEq:
		return db.Where(fmt.Sprintf("%s = ?", c.Field), c.Value)
	case OpNeq:
		return db.Where(fmt.Sprintf("%s <> ?", c.Field), c.Value)
	case OpGt:
		return db.Where(fmt.Sprintf("%s > ?", c.Field), c.Value)
	case OpGte:
		return db.Where(fmt.Sprintf("%s >= ?", c.Field), c.Value)
	case OpLt:
		return db.Where(fmt.Sprintf("%s < ?", c.Field), c.Value)
	case OpLte:
		return db.Where(fmt.Sprintf("%s <= ?", c.Field), c.Value)
	case OpLike:
		return db.Where(fmt.Sprintf("%s ILIKE ?", c.Field), c.Value)
	case OpIn:
		return db.Where(fmt.Sprintf("%s IN (?)", c.Field), c.Value)
	case OpBetween:
		bounds, _ := c.Value.([2]any)
		return db.Where(fmt.Sprintf("%s BETWEEN ? AND ?", c.Field), bounds[0], bounds[1])
	case OpIsNull:
		return db.Where(fmt.Sprintf("%s IS NULL", c.Field))
	case OpIsNotNull:
		return db.Where(fmt.Sprintf("%s IS NOT NULL", c.Field))
	case OpHasKey:
		return db.Where(fmt.Sprintf("%s ? ?", c.Field), c.Value)
	case OpContains:
		return db.Where(fmt.Sprintf("%s @> ?", c.Field), c.Value)
	default:
		return db
	}
}
