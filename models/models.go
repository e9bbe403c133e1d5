package models

// All returns every persisted model, ordered so referenced tables come first.
func All() []any {
	return []any{&Role{}, &User{}, &Follow{}, &Tag{}, &Post{}, &Comment{}}
}
