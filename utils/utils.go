// Package utils provides reference generation, time and pointer helpers shared by the flows.
package utils

// ToPtr returns a pointer to a copy of v
func ToPtr[T any](v T) *T {
	return &v
}
