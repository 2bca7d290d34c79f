// Package field's declarations are read once, at EntityType registration:
//
//	loom.RegisterEntityType("users", loom.EntityTypeConfig{
//		Casts: map[string]field.Kind{
//			"age":        field.Int("age").Descriptor().Kind,
//			"balance":    field.Float("balance").Descriptor().Kind,
//			"metadata":   field.JSON("metadata").Descriptor().Kind,
//			"created_at": field.Date("created_at").Descriptor().Kind,
//		},
//	})
//
// or, more directly, by collecting Descriptor values and deriving the
// cast table and fillable/hidden sets from them in one pass.
package field
