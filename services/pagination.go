package services

import (
	"gorm.io/gorm"
)

const maxPerPage = 100

// Page is one slice of an ordered result set.
type Page[T any] struct {
	Items   []T
	Page    int
	PerPage int
	Total   int64
}

// Pages returns the number of pages, at least one.
func (p Page[T]) Pages() int {
	if p.PerPage <= 0 || p.Total == 0 {
		return 1
	}
	return int((p.Total + int64(p.PerPage) - 1) / int64(p.PerPage))
}

func (p Page[T]) HasPrev() bool { return p.Page > 1 }

func (p Page[T]) HasNext() bool { return p.Page < p.Pages() }

func (p Page[T]) PrevNum() int {
	if !p.HasPrev() {
		return 0
	}
	return p.Page - 1
}

func (p Page[T]) NextNum() int {
	if !p.HasNext() {
		return 0
	}
	return p.Page + 1
}

// NormalizePage clamps page to >= 1 and perPage to [1, maxPerPage], using def when perPage is unset.
func NormalizePage(page, perPage, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = def
	}
	if perPage <= 0 {
		perPage = 10
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

// paginate counts q and loads the requested window; q must carry a Model and its ordering.
func paginate[T any](q *gorm.DB, page, perPage int) (Page[T], error) {
	page, perPage = NormalizePage(page, perPage, perPage)
	p := Page[T]{Page: page, PerPage: perPage, Items: []T{}}
	q = q.Session(&gorm.Session{})
	if err := q.Count(&p.Total).Error; err != nil {
		return p, err
	}
	if p.Total == 0 {
		return p, nil
	}
	if err := q.Offset((page - 1) * perPage).Limit(perPage).Find(&p.Items).Error; err != nil {
		return p, err
	}
	return p, nil
}
