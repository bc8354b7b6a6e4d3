package repository

import "gorm.io/gorm"

// paginate applies ordering and limit/offset when given
func paginate(query *gorm.DB, orderBy string, limit, offset int) *gorm.DB {
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}
