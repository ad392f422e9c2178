package domain

// Settings holds the runtime-adjustable flags persisted in the store.
type Settings struct {
	AdEnabled bool `json:"ad_enabled"`
}
