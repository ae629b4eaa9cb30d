// Package cleaner reduces collected page markup before it is sent to the
// extraction model.
package cleaner

// Cleaner transforms an HTML fragment.
type Cleaner interface {
	Clean(html string) (string, error)

	// Name identifies the cleaner in logs.
	Name() string
}
