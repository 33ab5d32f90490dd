package mirror

import "github.com/vx-labs/statemesh/cluster"

// NewAuthority binds the context holding the canonical state of category.
func NewAuthority[T any](layer cluster.Layer, category Category[T], initial T, opts ...Option) (*Channel[T], error) {
	return New(layer, category, initial, AuthorityBinding, opts...)
}

// NewBackground binds a replica running in a background worker.
func NewBackground[T any](layer cluster.Layer, category Category[T], initial T, opts ...Option) (*Channel[T], error) {
	return New(layer, category, initial, BackgroundBinding, opts...)
}

// NewPanel binds a replica running in a side panel.
func NewPanel[T any](layer cluster.Layer, category Category[T], initial T, opts ...Option) (*Channel[T], error) {
	return New(layer, category, initial, PanelBinding, opts...)
}

// NewPopup binds a replica running in a popup.
func NewPopup[T any](layer cluster.Layer, category Category[T], initial T, opts ...Option) (*Channel[T], error) {
	return New(layer, category, initial, PopupBinding, opts...)
}
